package repository

import (
	"context"

	"github.com/fjod/go_cart/techstore-cart/internal/domain"
)

// MergeFunc combines the lines of an anonymous cart with those of the user's
// existing cart. It runs inside the merge transaction.
type MergeFunc func(ctx context.Context, session, user *domain.Cart) ([]domain.CartItem, error)

// CartRepository defines the cart data operations the service relies on.
// Every write path sets exactly one owner field.
type CartRepository interface {
	// FindByOwner returns domain.ErrCartNotFound when the owner has no cart.
	FindByOwner(ctx context.Context, owner domain.Owner) (*domain.Cart, error)

	// IncrementItem adds delta to the product's line, capped at stock, creating
	// the line and the cart when missing.
	IncrementItem(ctx context.Context, owner domain.Owner, productID string, delta, stock int) error

	// SetItemQuantity returns domain.ErrItemNotInCart when the line is absent.
	SetItemQuantity(ctx context.Context, owner domain.Owner, productID string, quantity int) error

	// RemoveItem and ClearItems are no-ops when there is nothing to remove.
	RemoveItem(ctx context.Context, owner domain.Owner, productID string) error
	ClearItems(ctx context.Context, owner domain.Owner) error

	// DeleteByOwner returns domain.ErrCartNotFound when nothing was deleted.
	DeleteByOwner(ctx context.Context, owner domain.Owner) error

	// Merge moves the session's cart to the user atomically. It returns the
	// user's resulting cart, or domain.ErrCartNotFound when neither cart exists.
	Merge(ctx context.Context, sessionID, userID string, combine MergeFunc) (*domain.Cart, error)
}
