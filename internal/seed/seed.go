// Package seed loads demo data for manual testing.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/domain"
	accountrepo "storefront/internal/repository/account"
)

// ProductWriter stores a product, replacing any product with the same ID.
type ProductWriter interface {
	Create(ctx context.Context, product domain.Product) (*domain.Product, error)
}

type ProfileWriter interface {
	Save(ctx context.Context, userID string, p domain.Profile) error
	SetRole(ctx context.Context, userID string, role domain.Role) error
}

type productSeed struct {
	ID          string
	Name        string
	Category    domain.Category
	Description string
	Price       string
	Quantity    int
	ImageURL    string
}

var demoProducts = []productSeed{
	{
		ID:          "demo-pixel",
		Name:        "Pixel 9",
		Category:    domain.CategorySmartphone,
		Description: "6.3-inch display, 128 GB",
		Price:       "42990.00",
		Quantity:    12,
		ImageURL:    "https://images.example.com/pixel-9.png",
	},
	{
		ID:          "demo-galaxy-tab",
		Name:        "Galaxy Tab S9",
		Category:    domain.CategoryTablet,
		Description: "11-inch AMOLED tablet",
		Price:       "38990.00",
		Quantity:    5,
		ImageURL:    "https://images.example.com/galaxy-tab-s9.png",
	},
	{
		ID:          "demo-macbook-air",
		Name:        "MacBook Air 13",
		Category:    domain.CategoryLaptop,
		Description: "M3, 8 GB, 256 GB SSD",
		Price:       "64990.00",
		Quantity:    3,
		ImageURL:    "https://images.example.com/macbook-air-13.png",
	},
}

// Apply writes the demo catalog. It is idempotent: products have fixed IDs.
func Apply(ctx context.Context, products ProductWriter) error {
	for _, p := range demoProducts {
		_, err := products.Create(ctx, domain.Product{
			ID:          p.ID,
			Name:        p.Name,
			Category:    p.Category,
			Description: p.Description,
			Price:       decimal.RequireFromString(p.Price),
			Stock:       p.Quantity,
			ImageURL:    p.ImageURL,
		})
		if err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	return nil
}

// EnsureAdmin creates a verified admin account, or promotes the existing account with that
// email. The password is only used when the account is created. It returns the user id.
func EnsureAdmin(ctx context.Context, accounts accountrepo.Repository, profiles ProfileWriter, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	acc, err := accounts.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		acc, err = accounts.Create(ctx, accountrepo.Account{
			ID:            uuid.NewString(),
			Email:         email,
			PasswordHash:  string(hashed),
			EmailVerified: true,
		})
		if err != nil {
			return "", fmt.Errorf("create admin account: %w", err)
		}
		if err := profiles.Save(ctx, acc.ID, domain.Profile{
			Name:          "Administrator",
			Email:         email,
			CreatedAt:     time.Now().UTC(),
			EmailVerified: true,
		}); err != nil {
			return "", fmt.Errorf("save admin profile: %w", err)
		}
	case err != nil:
		return "", err
	case !acc.EmailVerified:
		if err := accounts.MarkVerified(ctx, acc.ID); err != nil {
			return "", err
		}
	}
	if err := profiles.SetRole(ctx, acc.ID, domain.RoleAdmin); err != nil {
		return "", fmt.Errorf("set admin role: %w", err)
	}
	return acc.ID, nil
}
