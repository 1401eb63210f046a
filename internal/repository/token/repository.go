package token

import (
	"context"
	"time"
)

// Token is an opaque session token bound to an account.
type Token struct {
	Token     string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Repository interface {
	Create(ctx context.Context, token Token) error
	Get(ctx context.Context, token string) (*Token, error)
	Delete(ctx context.Context, token string) error
	// DeleteByAccount ends every session of an account and returns the removed tokens.
	DeleteByAccount(ctx context.Context, accountID string) ([]string, error)
}
