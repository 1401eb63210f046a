package product

import (
	"context"

	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/live"
)

// Repository persists catalog products under products/{id}.
type Repository interface {
	Create(ctx context.Context, p domain.Product) (*domain.Product, error)
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	List(ctx context.Context) ([]domain.Product, error)
	Delete(ctx context.Context, id string) error
	// Watch mirrors the whole catalog until the collection is closed.
	Watch(log logrus.FieldLogger) (*live.Collection[domain.Product], error)
}
