package profile

import (
	"context"

	"storefront/internal/domain"
)

// Repository stores user profiles at users/{uid} and roles at users/{uid}/role.
type Repository interface {
	Save(ctx context.Context, userID string, p domain.Profile) error
	Get(ctx context.Context, userID string) (*domain.Profile, error)
	MarkVerified(ctx context.Context, userID string) error
	// Role returns RoleUser when no role is stored.
	Role(ctx context.Context, userID string) (domain.Role, error)
	SetRole(ctx context.Context, userID string, role domain.Role) error
}
