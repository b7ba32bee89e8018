package orders

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/grocerflow/internal/domain"
	"github.com/joao-fontenele/grocerflow/internal/fees"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

const (
	aliceID      int64 = 1
	bobID        int64 = 2
	ownerID      int64 = 3
	driverUserID int64 = 4
	adminID      int64 = 5
	fakeDriverID int64 = 6
	rivalOwnerID int64 = 7
	otherDriver  int64 = 8

	storeID      int64 = 10
	rivalStoreID int64 = 11

	driverID          int64 = 20
	customerDriverID  int64 = 21
	otherDriverRecord int64 = 22

	homeID int64 = 30
	workID int64 = 31

	milkID  int64 = 100
	breadID int64 = 101
	eggsID  int64 = 102
	jamID   int64 = 103
)

var (
	alice  = domain.Principal{ID: aliceID, Role: domain.RoleCustomer}
	bob    = domain.Principal{ID: bobID, Role: domain.RoleCustomer}
	owner  = domain.Principal{ID: ownerID, Role: domain.RoleStoreOwner}
	rival  = domain.Principal{ID: rivalOwnerID, Role: domain.RoleStoreOwner}
	driver = domain.Principal{ID: driverUserID, Role: domain.RoleDriver}
	other  = domain.Principal{ID: otherDriver, Role: domain.RoleDriver}
	admin  = domain.Principal{ID: adminID, Role: domain.RoleAdmin}
)

func seed() *memStore {
	s := newMemStore()
	for _, u := range []domain.User{
		{ID: aliceID, Email: "alice@example.com", Name: "Alice", Role: domain.RoleCustomer},
		{ID: bobID, Email: "bob@example.com", Name: "Bob", Role: domain.RoleCustomer},
		{ID: ownerID, Email: "owner@example.com", Name: "Owner", Role: domain.RoleStoreOwner},
		{ID: driverUserID, Email: "driver@example.com", Name: "Dan", Role: domain.RoleDriver},
		{ID: adminID, Email: "admin@example.com", Name: "Admin", Role: domain.RoleAdmin},
		{ID: fakeDriverID, Email: "carl@example.com", Name: "Carl", Role: domain.RoleCustomer},
		{ID: rivalOwnerID, Email: "rival@example.com", Name: "Rival", Role: domain.RoleStoreOwner},
		{ID: otherDriver, Email: "eve@example.com", Name: "Eve", Role: domain.RoleDriver},
	} {
		s.users[u.ID] = u
	}
	s.stores[storeID] = domain.Store{ID: storeID, OwnerID: ownerID, Name: "Corner Shop", Location: "1 Store St, Nairobi", Status: domain.StoreStatusActive}
	s.stores[rivalStoreID] = domain.Store{ID: rivalStoreID, OwnerID: rivalOwnerID, Name: "Rival Mart", Location: "9 Rival Rd, Nairobi", Status: domain.StoreStatusActive}
	s.drivers[driverID] = domain.Driver{ID: driverID, UserID: driverUserID, IsAvailable: true}
	s.drivers[customerDriverID] = domain.Driver{ID: customerDriverID, UserID: fakeDriverID, IsAvailable: true}
	s.drivers[otherDriverRecord] = domain.Driver{ID: otherDriverRecord, UserID: otherDriver, IsAvailable: true}
	s.locations[homeID] = domain.Location{ID: homeID, AddressLine1: "2 Home Rd", City: "Nairobi", Country: "Kenya"}
	s.locations[workID] = domain.Location{ID: workID, AddressLine1: "5 Work Ave", City: "Nairobi", Country: "Kenya"}
	for _, p := range []domain.Product{
		{ID: milkID, StoreID: storeID, Name: "Milk", Price: decimal.RequireFromString("2.50"), Stock: 5, IsAvailable: true},
		{ID: breadID, StoreID: storeID, Name: "Bread", Price: decimal.RequireFromString("1.20"), Stock: 1, IsAvailable: true},
		{ID: eggsID, StoreID: storeID, Name: "Eggs", Price: decimal.RequireFromString("3.00"), Stock: 0, IsAvailable: true},
		{ID: jamID, StoreID: storeID, Name: "Jam", Price: decimal.RequireFromString("4.00"), Stock: 9, IsAvailable: false},
	} {
		s.products[p.ID] = p
	}
	return s
}

// fixedFees prices every route by destination so tests can tell quotes apart.
type fixedFees struct {
	mu    sync.Mutex
	calls int
}

func (f *fixedFees) EstimateFee(_ context.Context, _, destination string) fees.Estimate {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if destination == (domain.Location{AddressLine1: "5 Work Ave", City: "Nairobi", Country: "Kenya"}).FullAddress() {
		return fees.Estimate{Meters: 500, Fee: decimal.RequireFromString("50.00")}
	}
	return fees.Estimate{Meters: 123.4, Fee: decimal.RequireFromString("12.34")}
}

type recordedEvent struct {
	key   string
	event domain.OrderEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{key: key, event: event.(domain.OrderEvent)})
	return nil
}

func (p *recordingPublisher) statuses() []domain.OrderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.OrderStatus, len(p.events))
	for i, e := range p.events {
		out[i] = e.event.To
	}
	return out
}

type harness struct {
	store  *memStore
	fees   *fixedFees
	events *recordingPublisher
	svc    *Service
	clock  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  seed(),
		fees:   &fixedFees{},
		events: &recordingPublisher{},
		clock:  testNow,
	}
	h.svc = NewService(h.store, h.fees, h.events, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return h.clock }))
	return h
}

func scheduleIn(days int) domain.Date {
	return domain.NewDate(testNow.AddDate(0, 0, days))
}

func (h *harness) create(t *testing.T, in CreateInput) *domain.Order {
	t.Helper()
	if in.CustomerID == 0 {
		in.CustomerID = aliceID
	}
	if in.DeliverySchedule.IsZero() {
		in.DeliverySchedule = scheduleIn(3)
	}
	o, err := h.svc.CreateOrder(context.Background(), in)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func ptr[T any](v T) *T {
	return &v
}
