package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/techstore-cart/internal/domain"
	"github.com/fjod/go_cart/techstore-cart/internal/repository"
	"github.com/shopspring/decimal"
)

// mockRepository keeps carts in memory keyed by owner, mirroring the
// one-cart-per-owner rule of the real store.
type mockRepository struct {
	m      sync.Mutex
	carts  map[domain.Owner]*domain.Cart
	nextID int
	err    error
	merges int
}

func newMockRepository() *mockRepository {
	return &mockRepository{carts: make(map[domain.Owner]*domain.Cart)}
}

func (m *mockRepository) put(owner domain.Owner, items ...domain.CartItem) *domain.Cart {
	m.m.Lock()
	defer m.m.Unlock()
	m.nextID++
	c := &domain.Cart{ID: fmt.Sprintf("cart-%d", m.nextID), Owner: owner, Items: items, CreatedAt: time.Now()}
	m.carts[owner] = c
	return c
}

func (m *mockRepository) get(owner domain.Owner) *domain.Cart {
	m.m.Lock()
	defer m.m.Unlock()
	return m.carts[owner]
}

func copyCart(c *domain.Cart) *domain.Cart {
	cp := *c
	cp.Items = append([]domain.CartItem(nil), c.Items...)
	return &cp
}

func (m *mockRepository) FindByOwner(_ context.Context, owner domain.Owner) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[owner]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	return copyCart(c), nil
}

func (m *mockRepository) IncrementItem(_ context.Context, owner domain.Owner, productID string, delta, stock int) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[owner]
	if !ok {
		m.nextID++
		c = &domain.Cart{ID: fmt.Sprintf("cart-%d", m.nextID), Owner: owner, CreatedAt: time.Now()}
		m.carts[owner] = c
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity, _ = domain.ClampQuantity(c.Items[i].Quantity+delta, stock)
			return nil
		}
	}
	q, _ := domain.ClampQuantity(delta, stock)
	c.Items = append(c.Items, domain.CartItem{ProductID: productID, Quantity: q})
	return nil
}

func (m *mockRepository) SetItemQuantity(_ context.Context, owner domain.Owner, productID string, quantity int) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[owner]
	if !ok {
		return domain.ErrItemNotInCart
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = quantity
			return nil
		}
	}
	return domain.ErrItemNotInCart
}

func (m *mockRepository) RemoveItem(_ context.Context, owner domain.Owner, productID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[owner]
	if !ok {
		return nil
	}
	for i, item := range c.Items {
		if item.ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *mockRepository) ClearItems(_ context.Context, owner domain.Owner) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	if c, ok := m.carts[owner]; ok {
		c.Items = []domain.CartItem{}
	}
	return nil
}

func (m *mockRepository) DeleteByOwner(_ context.Context, owner domain.Owner) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.carts[owner]; !ok {
		return domain.ErrCartNotFound
	}
	delete(m.carts, owner)
	return nil
}

func (m *mockRepository) Merge(ctx context.Context, sessionID, userID string, combine repository.MergeFunc) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.merges++

	so, uo := domain.SessionOwner(sessionID), domain.UserOwner(userID)
	sc, hasSession := m.carts[so]
	uc, hasUser := m.carts[uo]

	switch {
	case !hasSession && !hasUser:
		return nil, domain.ErrCartNotFound
	case !hasSession:
		return copyCart(uc), nil
	case !hasUser:
		delete(m.carts, so)
		sc.Owner = uo
		m.carts[uo] = sc
		return copyCart(sc), nil
	default:
		items, err := combine(ctx, copyCart(sc), copyCart(uc))
		if err != nil {
			return nil, err
		}
		uc.Items = items
		delete(m.carts, so)
		return copyCart(uc), nil
	}
}

type mockCatalog struct {
	m        sync.RWMutex
	products map[string]domain.Product
	err      error
}

func newMockCatalog(products ...domain.Product) *mockCatalog {
	c := &mockCatalog{products: make(map[string]domain.Product)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *mockCatalog) setPrice(id, price string) {
	c.m.Lock()
	defer c.m.Unlock()
	p := c.products[id]
	p.Price = decimal.RequireFromString(price)
	c.products[id] = p
}

func (c *mockCatalog) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	c.m.RLock()
	defer c.m.RUnlock()
	if c.err != nil {
		return nil, c.err
	}
	p, ok := c.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &p, nil
}

func (c *mockCatalog) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	c.m.RLock()
	defer c.m.RUnlock()
	if c.err != nil {
		return nil, c.err
	}
	out := make(map[string]domain.Product)
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// mockLocker is a process-local stand-in for the Redis locker.
type mockLocker struct {
	m        sync.Mutex
	held     map[string]chan struct{}
	acquired []string
	err      error
}

func newMockLocker() *mockLocker {
	return &mockLocker{held: make(map[string]chan struct{})}
}

func (l *mockLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	for {
		l.m.Lock()
		ch, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.acquired = append(l.acquired, key)
			l.m.Unlock()
			return func(context.Context) error {
				l.m.Lock()
				delete(l.held, key)
				l.m.Unlock()
				close(done)
				return nil
			}, nil
		}
		l.m.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func product(id, price string, stock int) domain.Product {
	return domain.Product{ID: id, Name: "Product " + id, Price: decimal.RequireFromString(price), Stock: stock}
}

// blockingRepository parks the first FindByOwner after it has read the cart,
// until release is closed. A cancelled ctx fails the parked read.
type blockingRepository struct {
	*mockRepository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingRepository(repo *mockRepository) *blockingRepository {
	return &blockingRepository{
		mockRepository: repo,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (r *blockingRepository) FindByOwner(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	cart, err := r.mockRepository.FindByOwner(ctx, owner)

	first := false
	r.once.Do(func() { first = true })
	if !first {
		return cart, err
	}

	close(r.entered)
	<-r.release
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return cart, err
}
