package account

import (
	"context"
	"time"
)

// Account is the credential record behind a user.
type Account struct {
	ID            string
	Email         string
	PasswordHash  string
	EmailVerified bool
	CreatedAt     time.Time
}

// Repository persists and fetches accounts. Emails compare case-insensitively.
type Repository interface {
	Create(ctx context.Context, a Account) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByID(ctx context.Context, id string) (*Account, error)
	MarkVerified(ctx context.Context, id string) error
	SetPasswordHash(ctx context.Context, id, hash string) error
	Delete(ctx context.Context, id string) error
}
