package orders

import (
	"context"

	"github.com/joao-fontenele/grocerflow/internal/domain"
)

// Tx is the unit of work the orchestrator mutates orders through. Every
// method runs inside the same database transaction.
type Tx interface {
	// LockOrder loads an order and holds its row lock until the end of the
	// transaction.
	LockOrder(ctx context.Context, id int64) (*domain.Order, error)
	// InsertOrder assigns ID and Code.
	InsertOrder(ctx context.Context, o *domain.Order) error
	SaveOrder(ctx context.Context, o *domain.Order) error
	InsertStatusChange(ctx context.Context, change domain.StatusChange) error

	FindUser(ctx context.Context, id int64) (domain.User, error)
	FindStore(ctx context.Context, id int64) (domain.Store, error)
	FindDriver(ctx context.Context, id int64) (domain.Driver, error)
	FindLocation(ctx context.Context, id int64) (domain.Location, error)

	ValidateAvailability(ctx context.Context, productIDs []int64) ([]domain.Product, error)
	DecrementStock(ctx context.Context, items []domain.StockItem) error
}

type Store interface {
	// Atomic commits when fn returns nil and rolls back otherwise.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	ListOrders(ctx context.Context, filter Filter) ([]domain.Order, error)
}

type Filter struct {
	Status       *domain.OrderStatus
	DeliveryDate *domain.Date
	CustomerID   *int64
	DriverID     *int64
	StoreID      *int64
}
