package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/techstore-cart/internal/catalog"
	"github.com/fjod/go_cart/techstore-cart/internal/domain"
	"github.com/fjod/go_cart/techstore-cart/internal/lock"
	"github.com/fjod/go_cart/techstore-cart/internal/repository"
	"github.com/shopspring/decimal"
)

// Line is a cart line priced with the catalog's current price.
type Line struct {
	ProductID string
	Quantity  int
	Name      string
	Price     decimal.Decimal
	// Listed is false when the product no longer exists in the catalog.
	Listed bool
}

type CartView struct {
	ID          string
	Owner       domain.Owner
	Items       []Line
	TotalAmount decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type MutationResult struct {
	Cart *CartView
	// Quantity is the line's quantity after the mutation, 0 if removed.
	Quantity int
	// Adjusted reports that the requested quantity was capped at stock.
	Adjusted bool
}

type CartService struct {
	repo    repository.CartRepository
	catalog catalog.Catalog
	locker  lock.Locker
	logger  *slog.Logger
}

func NewCartService(repo repository.CartRepository, catalog catalog.Catalog, locker lock.Locker, logger *slog.Logger) *CartService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CartService{
		repo:    repo,
		catalog: catalog,
		locker:  locker,
		logger:  logger,
	}
}

// Resolve maps an identity to its owner and the owner's cart. A missing cart
// is not an error: the cart is nil and will be created by the first add.
// Every call reads the store; reads are never shared between requests.
func (s *CartService) Resolve(ctx context.Context, id Identity) (domain.Owner, *domain.Cart, error) {
	owner := id.Owner()
	if owner.IsZero() {
		return owner, nil, nil
	}

	cart, err := s.repo.FindByOwner(ctx, owner)
	if errors.Is(err, domain.ErrCartNotFound) {
		return owner, nil, nil
	}
	if err != nil {
		if errors.Is(err, domain.ErrInvalidOwnerState) {
			s.logger.Error("stored cart violates owner invariant",
				slog.String("owner", owner.String()), slog.String("error", err.Error()))
		}
		return owner, nil, err
	}

	return owner, cart, nil
}

func (s *CartService) GetCart(ctx context.Context, id Identity) (*CartView, error) {
	owner, cart, err := s.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, owner, cart)
}

func (s *CartService) AddItem(ctx context.Context, id Identity, productID string, quantity int) (*MutationResult, error) {
	owner := id.Owner()
	if owner.IsZero() {
		return nil, domain.ErrMissingIdentity
	}
	if quantity <= 0 {
		quantity = 1
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Stock <= 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrOutOfStock, product.Name)
	}

	_, before, err := s.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	existing, _ := before.Item(productID)

	if err := s.repo.IncrementItem(ctx, owner, productID, quantity, product.Stock); err != nil {
		s.logger.Error("repo increment item failed",
			slog.String("owner", owner.String()), slog.String("product_id", productID), slog.String("error", err.Error()))
		return nil, err
	}

	return s.mutationResult(ctx, owner, productID, existing.Quantity+quantity)
}

// UpdateQuantity sets a line's quantity. Zero or less removes the line; more
// than the current stock is capped at stock.
func (s *CartService) UpdateQuantity(ctx context.Context, id Identity, productID string, quantity int) (*MutationResult, error) {
	owner, cart, err := s.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if owner.IsZero() {
		return nil, domain.ErrMissingIdentity
	}
	if _, ok := cart.Item(productID); !ok {
		return nil, domain.ErrItemNotInCart
	}

	if quantity <= 0 {
		if err := s.repo.RemoveItem(ctx, owner, productID); err != nil {
			return nil, err
		}
		return s.mutationResult(ctx, owner, productID, 0)
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Stock <= 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrOutOfStock, product.Name)
	}

	final, _ := domain.ClampQuantity(quantity, product.Stock)
	if err := s.repo.SetItemQuantity(ctx, owner, productID, final); err != nil {
		s.logger.Error("repo set item quantity failed",
			slog.String("owner", owner.String()), slog.String("product_id", productID), slog.String("error", err.Error()))
		return nil, err
	}

	return s.mutationResult(ctx, owner, productID, quantity)
}

func (s *CartService) RemoveItem(ctx context.Context, id Identity, productID string) (*CartView, error) {
	owner := id.Owner()
	if owner.IsZero() {
		return nil, domain.ErrMissingIdentity
	}

	if err := s.repo.RemoveItem(ctx, owner, productID); err != nil {
		s.logger.Error("repo remove item failed",
			slog.String("owner", owner.String()), slog.String("product_id", productID), slog.String("error", err.Error()))
		return nil, err
	}

	return s.GetCart(ctx, id)
}

func (s *CartService) ClearCart(ctx context.Context, id Identity) (*CartView, error) {
	owner := id.Owner()
	if owner.IsZero() {
		return nil, domain.ErrMissingIdentity
	}

	if err := s.repo.ClearItems(ctx, owner); err != nil {
		s.logger.Error("repo clear cart failed",
			slog.String("owner", owner.String()), slog.String("error", err.Error()))
		return nil, err
	}

	return s.GetCart(ctx, id)
}

// ClearOwnerCart drops the owner's cart after an order has been placed.
func (s *CartService) ClearOwnerCart(ctx context.Context, owner domain.Owner) error {
	err := s.repo.DeleteByOwner(ctx, owner)
	if err != nil && !errors.Is(err, domain.ErrCartNotFound) {
		return err
	}
	return nil
}

// MergeOnLogin hands the anonymous session's cart to the user who just
// logged in or registered. Concurrent logins of the same user are serialized.
func (s *CartService) MergeOnLogin(ctx context.Context, userID, sessionID string) (*CartView, error) {
	if userID == "" {
		return nil, domain.ErrMissingIdentity
	}
	userOwner := domain.UserOwner(userID)
	if sessionID == "" {
		return s.GetCart(ctx, Identity{UserID: userID})
	}

	release, err := s.locker.Acquire(ctx, "cart:merge:"+userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock cart merge: %w", err)
	}
	defer func() {
		// the caller's ctx may already be done
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := release(rctx); err != nil {
			s.logger.Warn("merge lock release failed", slog.String("user_id", userID), slog.String("error", err.Error()))
		}
	}()

	cart, err := s.repo.Merge(ctx, sessionID, userID, s.combine)
	if errors.Is(err, domain.ErrCartNotFound) {
		return s.view(ctx, userOwner, nil)
	}
	if err != nil {
		s.logger.Error("cart merge failed",
			slog.String("user_id", userID), slog.String("session_id", sessionID), slog.String("error", err.Error()))
		return nil, err
	}

	s.logger.Info("cart merged on login",
		slog.String("user_id", userID), slog.String("cart_id", cart.ID), slog.Int("lines", len(cart.Items)))
	return s.view(ctx, userOwner, cart)
}

func (s *CartService) combine(ctx context.Context, session, user *domain.Cart) ([]domain.CartItem, error) {
	ids := append(session.ProductIDs(), user.ProductIDs()...)
	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	stock := make(map[string]int, len(products))
	for id, p := range products {
		stock[id] = p.Stock
	}
	return domain.MergeItems(session.Items, user.Items, stock), nil
}

func (s *CartService) mutationResult(ctx context.Context, owner domain.Owner, productID string, requested int) (*MutationResult, error) {
	cart, err := s.repo.FindByOwner(ctx, owner)
	if err != nil && !errors.Is(err, domain.ErrCartNotFound) {
		return nil, err
	}

	view, err := s.view(ctx, owner, cart)
	if err != nil {
		return nil, err
	}

	item, _ := cart.Item(productID)
	return &MutationResult{
		Cart:     view,
		Quantity: item.Quantity,
		Adjusted: item.Quantity < requested,
	}, nil
}

// view prices the cart with current catalog prices; a nil cart yields the
// empty shape.
func (s *CartService) view(ctx context.Context, owner domain.Owner, cart *domain.Cart) (*CartView, error) {
	v := &CartView{
		Owner:       owner,
		Items:       []Line{},
		TotalAmount: decimal.Zero,
	}
	if cart == nil {
		return v, nil
	}

	products, err := s.catalog.GetProducts(ctx, cart.ProductIDs())
	if err != nil {
		return nil, err
	}

	v.ID = cart.ID
	v.Owner = cart.Owner
	v.CreatedAt = cart.CreatedAt
	v.UpdatedAt = cart.UpdatedAt
	v.TotalAmount = domain.Total(cart.Items, products)
	for _, item := range cart.Items {
		p, ok := products[item.ProductID]
		v.Items = append(v.Items, Line{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Name:      p.Name,
			Price:     p.Price,
			Listed:    ok,
		})
	}

	return v, nil
}
