package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category is the closed set of catalog categories.
type Category string

const (
	CategorySmartphone Category = "Smartphone"
	CategoryTablet     Category = "Tablet"
	CategoryLaptop     Category = "Laptop"
)

// Categories lists every valid category in display order.
var Categories = []Category{CategorySmartphone, CategoryTablet, CategoryLaptop}

// Valid reports whether c is one of Categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Product is a catalog record stored under products/{id}.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"productName"`
	Category    Category        `json:"category"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"quantity"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}
