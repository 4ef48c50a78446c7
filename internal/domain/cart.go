package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxLineQuantity bounds a single request's quantity.
const MaxLineQuantity = 99

type Cart struct {
	ID        string
	Owner     Owner
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CartItem struct {
	ProductID string
	Quantity  int
	AddedAt   time.Time
}

// Product is the read-only catalog view the cart needs.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Stock int
}

// Item returns the line for productID, if any.
func (c *Cart) Item(productID string) (CartItem, bool) {
	if c == nil {
		return CartItem{}, false
	}
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return CartItem{}, false
}

// ProductIDs returns the product ids of every line, in cart order.
func (c *Cart) ProductIDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// ClampQuantity caps requested at stock and reports whether it had to.
func ClampQuantity(requested, stock int) (int, bool) {
	if stock < 0 {
		stock = 0
	}
	if requested > stock {
		return stock, true
	}
	return requested, false
}

// Total sums price*quantity using current catalog prices. Lines whose product
// is gone from the catalog contribute nothing.
func Total(items []CartItem, products map[string]Product) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		p, ok := products[item.ProductID]
		if !ok {
			continue
		}
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// MergeItems folds an anonymous session's lines into a user's lines.
// Products present in both get the summed quantity, capped at stock when the
// product's stock is known. Lines present on one side only carry over as-is.
// User lines keep their order; session-only lines are appended after them.
func MergeItems(session, user []CartItem, stock map[string]int) []CartItem {
	fromSession := make(map[string]CartItem, len(session))
	for _, item := range session {
		if prev, ok := fromSession[item.ProductID]; ok {
			item.Quantity += prev.Quantity
		}
		fromSession[item.ProductID] = item
	}

	merged := make([]CartItem, 0, len(user)+len(session))
	seen := make(map[string]bool, len(user))
	for _, item := range user {
		if other, ok := fromSession[item.ProductID]; ok {
			item.Quantity += other.Quantity
			if s, known := stock[item.ProductID]; known {
				item.Quantity, _ = ClampQuantity(item.Quantity, s)
			}
		}
		seen[item.ProductID] = true
		if item.Quantity > 0 {
			merged = append(merged, item)
		}
	}

	for _, item := range session {
		if seen[item.ProductID] {
			continue
		}
		seen[item.ProductID] = true
		item = fromSession[item.ProductID]
		if item.Quantity > 0 {
			merged = append(merged, item)
		}
	}

	return merged
}
