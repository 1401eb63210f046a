// Package checkout turns a selection of cart entries into an order summary and drives the
// confirmation flow. Orders are not persisted.
package checkout

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

// CurrencySymbol prefixes displayed amounts.
const CurrencySymbol = "₱"

// ErrEmptySelection is returned when nothing is selected for checkout.
var ErrEmptySelection = domain.Invalid("Please select at least one item to checkout.")

// SelectSubset keeps the entries whose id is in ids, in cart order. Ids that match no entry
// are ignored; an empty result is ErrEmptySelection.
func SelectSubset(entries []domain.CartEntry, ids []string) ([]domain.CartEntry, error) {
	if len(ids) == 0 {
		return nil, ErrEmptySelection
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make([]domain.CartEntry, 0, len(ids))
	for _, e := range entries {
		if _, ok := wanted[e.ID]; ok {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, ErrEmptySelection
	}
	return out, nil
}

// Total sums price times quantity exactly. Round only for display.
func Total(entries []domain.CartEntry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.LineTotal())
	}
	return sum
}

// FormatAmount renders an amount with two decimals and the currency symbol.
func FormatAmount(d decimal.Decimal) string {
	return CurrencySymbol + d.StringFixed(2)
}

// FormatSummary renders one line per entry and a trailing total line.
func FormatSummary(entries []domain.CartEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s | %s | %s x %d\n", e.Name, e.Category, FormatAmount(e.Price), e.Units())
	}
	fmt.Fprintf(&b, "Total Amount: %s", FormatAmount(Total(entries)))
	return b.String()
}
