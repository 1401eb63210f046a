package profile

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/domain"
	"storefront/internal/kvstore"
)

type record struct {
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	CreatedAt     int64  `json:"createdAt"`
	EmailVerified bool   `json:"emailVerified"`
}

type kvRepo struct {
	store kvstore.Store
}

// NewKV returns a Repository backed by the key-value store.
func NewKV(store kvstore.Store) Repository {
	return &kvRepo{store: store}
}

func userPath(userID string, rest ...string) string {
	return kvstore.Join(append([]string{"users", userID}, rest...)...)
}

// Save merges the profile fields so the cart and role below users/{uid} survive.
func (r *kvRepo) Save(ctx context.Context, userID string, p domain.Profile) error {
	return r.store.Update(ctx, userPath(userID), map[string]any{
		"name":          p.Name,
		"phone":         p.Phone,
		"email":         p.Email,
		"createdAt":     p.CreatedAt.UnixMilli(),
		"emailVerified": p.EmailVerified,
	})
}

func (r *kvRepo) Get(ctx context.Context, userID string) (*domain.Profile, error) {
	snap, err := r.store.Read(ctx, userPath(userID))
	if err != nil {
		return nil, err
	}
	var rec record
	if err := snap.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	if rec.Email == "" {
		return nil, domain.ErrNotFound
	}
	return &domain.Profile{
		Name:          rec.Name,
		Phone:         rec.Phone,
		Email:         rec.Email,
		CreatedAt:     time.UnixMilli(rec.CreatedAt).UTC(),
		EmailVerified: rec.EmailVerified,
	}, nil
}

func (r *kvRepo) MarkVerified(ctx context.Context, userID string) error {
	return r.store.Update(ctx, userPath(userID), map[string]any{"emailVerified": true})
}

func (r *kvRepo) Role(ctx context.Context, userID string) (domain.Role, error) {
	snap, err := r.store.Read(ctx, userPath(userID, "role"))
	if err != nil {
		return "", err
	}
	var role domain.Role
	if err := snap.Decode(&role); err != nil {
		return "", fmt.Errorf("decode role %s: %w", userID, err)
	}
	if role == "" {
		return domain.RoleUser, nil
	}
	return role, nil
}

func (r *kvRepo) SetRole(ctx context.Context, userID string, role domain.Role) error {
	return r.store.Write(ctx, userPath(userID, "role"), role)
}
