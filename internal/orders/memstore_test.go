package orders

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/joao-fontenele/grocerflow/internal/domain"
	"github.com/joao-fontenele/grocerflow/internal/inventory"
)

// memStore is an in-memory Store. Atomic holds a single lock for the whole
// unit of work and restores orders, products and history when fn fails.
type memStore struct {
	mu sync.Mutex

	users     map[int64]domain.User
	stores    map[int64]domain.Store
	drivers   map[int64]domain.Driver
	locations map[int64]domain.Location
	products  map[int64]domain.Product
	orders    map[int64]*domain.Order
	history   []domain.StatusChange
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[int64]domain.User{},
		stores:    map[int64]domain.Store{},
		drivers:   map[int64]domain.Driver{},
		locations: map[int64]domain.Location{},
		products:  map[int64]domain.Product{},
		orders:    map[int64]*domain.Order{},
	}
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	c.StoreID = clonePtr(o.StoreID)
	c.DriverID = clonePtr(o.DriverID)
	c.DeliveryAddressID = clonePtr(o.DeliveryAddressID)
	c.PaymentID = clonePtr(o.PaymentID)
	c.DeliveryFee = clonePtr(o.DeliveryFee)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (s *memStore) Atomic(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := maps.Clone(s.products)
	orders := make(map[int64]*domain.Order, len(s.orders))
	for id, o := range s.orders {
		orders[id] = cloneOrder(o)
	}
	history := len(s.history)
	nextID := s.nextID

	if err := fn(&memTx{s: s}); err != nil {
		s.products = products
		s.orders = orders
		s.history = s.history[:history]
		s.nextID = nextID
		return err
	}
	return nil
}

func (s *memStore) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.NotFound(fmt.Sprintf("Order %d not found", id), id)
	}
	return cloneOrder(o), nil
}

func (s *memStore) ListOrders(_ context.Context, f Filter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := slices.Sorted(maps.Keys(s.orders))
	out := []domain.Order{}
	for _, id := range ids {
		o := s.orders[id]
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		if f.DeliveryDate != nil && !o.DeliveryScheduleAt.Equal(f.DeliveryDate.Time) {
			continue
		}
		if f.CustomerID != nil && o.CustomerID != *f.CustomerID {
			continue
		}
		if f.DriverID != nil && (o.DriverID == nil || *o.DriverID != *f.DriverID) {
			continue
		}
		if f.StoreID != nil && (o.StoreID == nil || *o.StoreID != *f.StoreID) {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	return out, nil
}

func (s *memStore) historyFor(orderID int64) []domain.StatusChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StatusChange
	for _, c := range s.history {
		if c.OrderID == orderID {
			out = append(out, c)
		}
	}
	return out
}

func (s *memStore) stock(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[productID].Stock
}

type memTx struct {
	s *memStore
}

func (t *memTx) LockOrder(_ context.Context, id int64) (*domain.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, domain.NotFound(fmt.Sprintf("Order %d not found", id), id)
	}
	return cloneOrder(o), nil
}

func (t *memTx) InsertOrder(_ context.Context, o *domain.Order) error {
	code, err := domain.NewOrderCode()
	if err != nil {
		return err
	}
	t.s.nextID++
	o.ID = t.s.nextID
	o.Code = code
	t.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) SaveOrder(_ context.Context, o *domain.Order) error {
	if _, ok := t.s.orders[o.ID]; !ok {
		return domain.NotFound(fmt.Sprintf("Order %d not found", o.ID), o.ID)
	}
	t.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) InsertStatusChange(_ context.Context, change domain.StatusChange) error {
	t.s.history = append(t.s.history, change)
	return nil
}

func (t *memTx) FindUser(_ context.Context, id int64) (domain.User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return domain.User{}, domain.NotFound(fmt.Sprintf("User %d not found", id), id)
	}
	return u, nil
}

func (t *memTx) FindStore(_ context.Context, id int64) (domain.Store, error) {
	st, ok := t.s.stores[id]
	if !ok {
		return domain.Store{}, domain.NotFound(fmt.Sprintf("Store %d not found", id), id)
	}
	return st, nil
}

func (t *memTx) FindDriver(_ context.Context, id int64) (domain.Driver, error) {
	d, ok := t.s.drivers[id]
	if !ok {
		return domain.Driver{}, domain.NotFound(fmt.Sprintf("Driver %d not found", id), id)
	}
	d.UserRole = t.s.users[d.UserID].Role
	return d, nil
}

func (t *memTx) FindLocation(_ context.Context, id int64) (domain.Location, error) {
	l, ok := t.s.locations[id]
	if !ok {
		return domain.Location{}, domain.NotFound(fmt.Sprintf("Location %d not found", id), id)
	}
	return l, nil
}

func (t *memTx) ValidateAvailability(_ context.Context, productIDs []int64) ([]domain.Product, error) {
	var found []domain.Product
	for _, id := range productIDs {
		if p, ok := t.s.products[id]; ok && p.DeletedAt == nil {
			found = append(found, p)
		}
	}
	return inventory.CheckAvailability(productIDs, found)
}

func (t *memTx) DecrementStock(_ context.Context, items []domain.StockItem) error {
	merged := inventory.MergeItems(items)
	var locked []domain.Product
	for _, it := range merged {
		if p, ok := t.s.products[it.ProductID]; ok && p.DeletedAt == nil {
			locked = append(locked, p)
		}
	}
	if err := inventory.PlanDecrement(merged, locked); err != nil {
		return err
	}
	for _, it := range merged {
		p := t.s.products[it.ProductID]
		p.Stock -= it.Quantity
		t.s.products[it.ProductID] = p
	}
	return nil
}
