package domain

import "github.com/shopspring/decimal"

// CartEntry is one line of a user's cart stored under users/{uid}/cart/{id}.
//
// The product fields are a point-in-time copy taken when the product was first
// added; later catalog edits do not change them, so checkout shows the price the
// user saw.
type CartEntry struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"productId"`
	Name        string          `json:"productName"`
	Category    Category        `json:"category"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	Quantity    int             `json:"quantity"`
}

// Units returns the entry quantity, treating a missing or zero quantity as 1.
func (e CartEntry) Units() int {
	if e.Quantity < 1 {
		return 1
	}
	return e.Quantity
}

// LineTotal is price times Units.
func (e CartEntry) LineTotal() decimal.Decimal {
	return e.Price.Mul(decimal.NewFromInt(int64(e.Units())))
}

// SnapshotOf copies the display fields of p into a new cart entry with quantity 1.
func SnapshotOf(p Product) CartEntry {
	return CartEntry{
		ProductID:   p.ID,
		Name:        p.Name,
		Category:    p.Category,
		Description: p.Description,
		Price:       p.Price,
		ImageURL:    p.ImageURL,
		Quantity:    1,
	}
}
