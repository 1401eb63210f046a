package product

import (
	"context"
	"errors"
	"testing"

	"storefront/internal/domain"
	"storefront/internal/kvstore"
	productrepo "storefront/internal/repository/product"
)

func newService() *Service {
	return New(productrepo.NewKV(kvstore.NewMemory(nil), nil), nil)
}

func TestCreateValidation(t *testing.T) {
	valid := CreateInput{Name: "MacBook Air", Category: "Laptop", Price: "999.99", Quantity: "3", ImageURL: "https://img.example/mba.png"}

	tests := []struct {
		name   string
		mutate func(in *CreateInput)
		want   string
	}{
		{name: "missing name", mutate: func(in *CreateInput) { in.Name = "  " }, want: "Product Name is required."},
		{name: "zero price", mutate: func(in *CreateInput) { in.Price = "0" }, want: "Please enter a valid price."},
		{name: "text price", mutate: func(in *CreateInput) { in.Price = "abc" }, want: "Please enter a valid price."},
		{name: "negative quantity", mutate: func(in *CreateInput) { in.Quantity = "-1" }, want: "Please enter a valid quantity."},
		{name: "fractional quantity", mutate: func(in *CreateInput) { in.Quantity = "1.5" }, want: "Please enter a valid quantity."},
		{name: "bad image", mutate: func(in *CreateInput) { in.ImageURL = "ftp://x" }, want: "Please enter a valid image URL."},
		{name: "bad category", mutate: func(in *CreateInput) { in.Category = "Toaster" }, want: "Category must be one of Smartphone, Tablet, Laptop"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := newService().Create(context.Background(), in)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) || verr.Message != tt.want {
				t.Fatalf("expected %q, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateListDelete(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	created, err := svc.Create(ctx, CreateInput{Name: " iPad ", Price: "329", Quantity: "0"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Name != "iPad" || created.Category != domain.CategorySmartphone || created.Stock != 0 {
		t.Fatalf("unexpected product %+v", created)
	}

	list, _ := svc.List(ctx)
	if len(list) != 1 {
		t.Fatalf("expected 1 product, got %d", len(list))
	}
	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
