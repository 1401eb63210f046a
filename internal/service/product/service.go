package product

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/live"
	"storefront/internal/logging"
	productrepo "storefront/internal/repository/product"
	"storefront/internal/validate"
)

type Service struct {
	repo   productrepo.Repository
	logger logrus.FieldLogger
}

func New(repo productrepo.Repository, logger logrus.FieldLogger) *Service {
	return &Service{repo: repo, logger: logging.OrDiscard(logger)}
}

func (s *Service) List(ctx context.Context) ([]domain.Product, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Product, error) {
	return s.repo.GetByID(ctx, id)
}

// Watch mirrors the catalog until the collection is closed.
func (s *Service) Watch() (*live.Collection[domain.Product], error) {
	return s.repo.Watch(s.logger)
}

// CreateInput is the add-product form. Price and quantity arrive as text, as typed.
type CreateInput struct {
	Name        string `json:"productName"`
	Category    string `json:"category" validate:"category"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	ImageURL    string `json:"imageUrl"`
}

// Create validates the form and stores a new product.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Product, error) {
	p, err := in.product()
	if err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, p)
}

func (in CreateInput) product() (domain.Product, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Product{}, domain.Invalid("Product Name is required.")
	}
	price, err := decimal.NewFromString(strings.TrimSpace(in.Price))
	if err != nil || !price.IsPositive() {
		return domain.Product{}, domain.Invalid("Please enter a valid price.")
	}
	qty, err := decimal.NewFromString(strings.TrimSpace(in.Quantity))
	if err != nil || qty.IsNegative() || !qty.IsInteger() {
		return domain.Product{}, domain.Invalid("Please enter a valid quantity.")
	}
	imageURL := strings.TrimSpace(in.ImageURL)
	if imageURL != "" && !strings.HasPrefix(imageURL, "http") {
		return domain.Product{}, domain.Invalid("Please enter a valid image URL.")
	}
	if in.Category == "" {
		in.Category = string(domain.CategorySmartphone)
	}
	if err := validate.Check(in); err != nil {
		return domain.Product{}, domain.Invalid(err.Error())
	}
	return domain.Product{
		Name:        name,
		Category:    domain.Category(in.Category),
		Description: strings.TrimSpace(in.Description),
		Price:       price,
		Stock:       int(qty.IntPart()),
		ImageURL:    imageURL,
	}, nil
}

// Delete removes a product from the catalog. Cart entries keep their snapshot.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("product_id", id).Info("product: deleted")
	return nil
}
