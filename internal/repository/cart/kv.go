package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/kvstore"
	"storefront/internal/live"
	"storefront/internal/logging"
)

// Path returns the store path holding a user's cart.
func Path(userID string) string {
	return kvstore.Join("users", userID, "cart")
}

type record struct {
	ProductID   string          `json:"productId"`
	Name        string          `json:"productName"`
	Category    domain.Category `json:"category"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	Description string          `json:"description,omitempty"`
	Quantity    int             `json:"quantity,omitempty"`
}

func toRecord(e domain.CartEntry) record {
	return record{
		ProductID:   e.ProductID,
		Name:        e.Name,
		Category:    e.Category,
		Price:       e.Price,
		ImageURL:    e.ImageURL,
		Description: e.Description,
		Quantity:    e.Quantity,
	}
}

func (r record) entry(id string) domain.CartEntry {
	return domain.CartEntry{
		ID:          id,
		ProductID:   r.ProductID,
		Name:        r.Name,
		Category:    r.Category,
		Description: r.Description,
		Price:       r.Price,
		ImageURL:    r.ImageURL,
		Quantity:    r.Quantity,
	}
}

// Decode reads one users/{uid}/cart/{entryId} snapshot.
func Decode(s kvstore.Snapshot) (domain.CartEntry, error) {
	var rec record
	if err := s.Decode(&rec); err != nil {
		return domain.CartEntry{}, fmt.Errorf("decode cart entry %s: %w", s.Key(), err)
	}
	if rec.ProductID == "" {
		return domain.CartEntry{}, fmt.Errorf("decode cart entry %s: missing productId", s.Key())
	}
	return rec.entry(s.Key()), nil
}

type kvRepo struct {
	store  kvstore.Store
	logger logrus.FieldLogger
}

// NewKV returns a Repository backed by the key-value store.
func NewKV(store kvstore.Store, logger logrus.FieldLogger) Repository {
	return &kvRepo{store: store, logger: logging.OrDiscard(logger)}
}

func (r *kvRepo) AddLineItem(ctx context.Context, userID string, entry domain.CartEntry) (AddResult, error) {
	cartPath := Path(userID)
	var res AddResult
	err := r.store.Transaction(ctx, cartPath, func(tx kvstore.Tx) error {
		snap, err := tx.Read(ctx, cartPath)
		if err != nil {
			return err
		}
		existing, found := findByProduct(snap, entry.ProductID)
		if found {
			existing.Quantity = existing.Units() + 1
			if err := tx.Update(ctx, kvstore.Join(cartPath, existing.ID), map[string]any{"quantity": existing.Quantity}); err != nil {
				return err
			}
			res = AddResult{Entry: existing, Merged: true}
			return nil
		}

		entry.ID = ""
		entry.Quantity = 1
		id, err := tx.Push(ctx, cartPath, toRecord(entry))
		if err != nil {
			return err
		}
		entry.ID = id
		res = AddResult{Entry: entry}
		return nil
	})
	if err != nil {
		r.logger.WithFields(logrus.Fields{"user_id": userID, "product_id": entry.ProductID, "error": err}).Error("cart repo: add line item")
		return AddResult{}, err
	}
	return res, nil
}

func findByProduct(cart kvstore.Snapshot, productID string) (domain.CartEntry, bool) {
	for _, child := range cart.Children() {
		e, err := Decode(child)
		if err != nil {
			continue
		}
		if e.ProductID == productID {
			return e, true
		}
	}
	return domain.CartEntry{}, false
}

// RemoveLineItem deletes one entry. An id that cannot name an entry is treated as absent.
func (r *kvRepo) RemoveLineItem(ctx context.Context, userID, entryID string) error {
	err := r.store.Delete(ctx, kvstore.Join(Path(userID), entryID))
	if errors.Is(err, kvstore.ErrInvalidPath) {
		r.logger.WithFields(logrus.Fields{"user_id": userID, "entry_id": entryID}).Debug("cart repo: remove of malformed entry id")
		return nil
	}
	return err
}

func (r *kvRepo) List(ctx context.Context, userID string) ([]domain.CartEntry, error) {
	snap, err := r.store.Read(ctx, Path(userID))
	if err != nil {
		return nil, err
	}
	out := make([]domain.CartEntry, 0)
	for _, child := range snap.Children() {
		e, err := Decode(child)
		if err != nil {
			r.logger.WithError(err).Warn("cart repo: skipping entry")
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *kvRepo) Watch(userID string, log logrus.FieldLogger) (*live.Collection[domain.CartEntry], error) {
	return live.Watch[domain.CartEntry](r.store, Path(userID), Decode, log)
}
