package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/live"
	"storefront/internal/logging"
	cartrepo "storefront/internal/repository/cart"
)

// RemovedMessage is shown after an entry is removed.
const RemovedMessage = "Product removed from cart."

type Service struct {
	repo     cartRepo
	products productRepo
	logger   logrus.FieldLogger
}

type cartRepo interface {
	AddLineItem(ctx context.Context, userID string, entry domain.CartEntry) (cartrepo.AddResult, error)
	RemoveLineItem(ctx context.Context, userID, entryID string) error
	List(ctx context.Context, userID string) ([]domain.CartEntry, error)
	Watch(userID string, log logrus.FieldLogger) (*live.Collection[domain.CartEntry], error)
}

type productRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
}

func New(repo cartRepo, products productRepo, logger logrus.FieldLogger) *Service {
	return &Service{repo: repo, products: products, logger: logging.OrDiscard(logger)}
}

// AddResult is the outcome of Add with the message to show the user.
type AddResult struct {
	Entry   domain.CartEntry `json:"entry"`
	Merged  bool             `json:"merged"`
	Message string           `json:"message"`
}

// AddError wraps a store failure during Add. Its message is user-facing.
type AddError struct {
	Err error
}

func (e *AddError) Error() string { return "Error adding to cart: " + e.Err.Error() }

func (e *AddError) Unwrap() error { return e.Err }

// Add puts product in the user's cart, bumping the quantity when it is already there.
func (s *Service) Add(ctx context.Context, userID string, product domain.Product) (*AddResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user required")
	}
	if product.ID == "" {
		return nil, errors.New("product id required")
	}
	res, err := s.repo.AddLineItem(ctx, userID, domain.SnapshotOf(product))
	if err != nil {
		s.logger.WithFields(logrus.Fields{"user_id": userID, "product_id": product.ID, "error": err}).Error("cart: add failed")
		return nil, &AddError{Err: err}
	}

	out := &AddResult{Entry: res.Entry, Merged: res.Merged}
	if res.Merged {
		out.Message = fmt.Sprintf("Updated quantity for \"%s\" to %d.", res.Entry.Name, res.Entry.Quantity)
	} else {
		out.Message = fmt.Sprintf("\"%s\" has been added to your cart.", res.Entry.Name)
	}
	s.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"product_id": product.ID,
		"entry_id":   res.Entry.ID,
		"quantity":   res.Entry.Quantity,
	}).Info("cart: item added")
	return out, nil
}

// AddByProductID looks the product up in the catalog and adds it.
func (s *Service) AddByProductID(ctx context.Context, userID, productID string) (*AddResult, error) {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	return s.Add(ctx, userID, *p)
}

// Remove deletes one entry. Removing an entry that is already gone succeeds.
func (s *Service) Remove(ctx context.Context, userID, entryID string) (string, error) {
	if strings.TrimSpace(entryID) == "" {
		return "", errors.New("entry id required")
	}
	if err := s.repo.RemoveLineItem(ctx, userID, entryID); err != nil {
		s.logger.WithFields(logrus.Fields{"user_id": userID, "entry_id": entryID, "error": err}).Error("cart: remove failed")
		return "", err
	}
	return RemovedMessage, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]domain.CartEntry, error) {
	return s.repo.List(ctx, userID)
}

// Watch mirrors the user's cart until the collection is closed.
func (s *Service) Watch(userID string) (*live.Collection[domain.CartEntry], error) {
	return s.repo.Watch(userID, s.logger)
}
