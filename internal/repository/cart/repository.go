package cart

import (
	"context"

	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/live"
)

// AddResult describes what AddLineItem did.
type AddResult struct {
	Entry domain.CartEntry
	// Merged is true when an existing entry for the product had its quantity increased.
	Merged bool
}

// Repository persists cart entries under users/{uid}/cart/{entryId}.
type Repository interface {
	// AddLineItem increments the entry for entry.ProductID, or stores entry with
	// quantity 1 when the user has none. It is atomic per user.
	AddLineItem(ctx context.Context, userID string, entry domain.CartEntry) (AddResult, error)
	// RemoveLineItem deletes one entry. Removing a missing entry succeeds.
	RemoveLineItem(ctx context.Context, userID, entryID string) error
	List(ctx context.Context, userID string) ([]domain.CartEntry, error)
	Watch(userID string, log logrus.FieldLogger) (*live.Collection[domain.CartEntry], error)
}
