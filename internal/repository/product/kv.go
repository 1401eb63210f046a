package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/kvstore"
	"storefront/internal/live"
	"storefront/internal/logging"
)

const root = "products"

// record is the stored shape of a product. createdAt is milliseconds since the epoch.
type record struct {
	Name        string          `json:"productName"`
	Category    domain.Category `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   int64           `json:"createdAt"`
}

func toRecord(p domain.Product) record {
	return record{
		Name:        p.Name,
		Category:    p.Category,
		Price:       p.Price,
		Quantity:    p.Stock,
		ImageURL:    p.ImageURL,
		Description: p.Description,
		CreatedAt:   p.CreatedAt.UnixMilli(),
	}
}

func (r record) product(id string) domain.Product {
	return domain.Product{
		ID:          id,
		Name:        r.Name,
		Category:    r.Category,
		Description: r.Description,
		Price:       r.Price,
		Stock:       r.Quantity,
		ImageURL:    r.ImageURL,
		CreatedAt:   time.UnixMilli(r.CreatedAt).UTC(),
	}
}

// Decode reads one products/{id} snapshot.
func Decode(s kvstore.Snapshot) (domain.Product, error) {
	var rec record
	if err := s.Decode(&rec); err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s: %w", s.Key(), err)
	}
	if rec.Name == "" {
		return domain.Product{}, fmt.Errorf("decode product %s: missing productName", s.Key())
	}
	return rec.product(s.Key()), nil
}

type kvRepo struct {
	store  kvstore.Store
	logger logrus.FieldLogger
}

// NewKV returns a Repository backed by the key-value store.
func NewKV(store kvstore.Store, logger logrus.FieldLogger) Repository {
	return &kvRepo{store: store, logger: logging.OrDiscard(logger)}
}

func (r *kvRepo) Create(ctx context.Context, p domain.Product) (*domain.Product, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	var (
		id  = p.ID
		err error
	)
	if id == "" {
		id, err = r.store.Push(ctx, root, toRecord(p))
	} else {
		err = r.store.Write(ctx, kvstore.Join(root, id), toRecord(p))
	}
	if err != nil {
		r.logger.WithError(err).Error("product repo: create")
		return nil, err
	}
	out := toRecord(p).product(id)
	r.logger.WithFields(logrus.Fields{"product_id": id, "name": p.Name}).Info("product repo: created")
	return &out, nil
}

func (r *kvRepo) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	snap, err := r.store.Read(ctx, kvstore.Join(root, id))
	if errors.Is(err, kvstore.ErrInvalidPath) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, domain.ErrNotFound
	}
	p, err := Decode(snap)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *kvRepo) List(ctx context.Context) ([]domain.Product, error) {
	snap, err := r.store.Read(ctx, root)
	if err != nil {
		r.logger.WithError(err).Error("product repo: list")
		return nil, err
	}
	result := make([]domain.Product, 0)
	for _, child := range snap.Children() {
		p, err := Decode(child)
		if err != nil {
			r.logger.WithError(err).Warn("product repo: skipping record")
			continue
		}
		result = append(result, p)
	}
	r.logger.WithField("count", len(result)).Debug("product repo: list")
	return result, nil
}

func (r *kvRepo) Delete(ctx context.Context, id string) error {
	path := kvstore.Join(root, id)
	snap, err := r.store.Read(ctx, path)
	if errors.Is(err, kvstore.ErrInvalidPath) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if !snap.Exists() {
		return domain.ErrNotFound
	}
	return r.store.Delete(ctx, path)
}

func (r *kvRepo) Watch(log logrus.FieldLogger) (*live.Collection[domain.Product], error) {
	return live.Watch[domain.Product](r.store, root, Decode, log)
}
