package repositories

import (
	"context"
	"time"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	OrderServices() OrderServiceRepository
	MotorInfo() MotorInfoRepository
	History() HistoryRepository
	Catalog() CatalogRepository
	Users() UserRepository
	CacheVersions() CacheVersionRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repositories called
// with the context handed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order headers together with their items and components.
type OrderRepository interface {
	// Insert stores a new order with its items and components.
	Insert(ctx context.Context, order domain.Order) error
	// FindByID loads the header, items and components without locking.
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// LockByID loads like FindByID but takes the row lock held until the surrounding
	// transaction ends. Must be called inside RunInTx.
	LockByID(ctx context.Context, orderID string) (domain.Order, error)
	// Update writes header fields and bumps the version. Returns a conflict error when the
	// stored version differs from expectedVersion.
	Update(ctx context.Context, order domain.Order, expectedVersion int64) error
	// UpdateItem writes receipt flags for an item and its components.
	UpdateItem(ctx context.Context, item domain.OrderItem) error
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderServiceRepository persists billable service lines.
type OrderServiceRepository interface {
	Insert(ctx context.Context, services ...domain.OrderService) error
	Update(ctx context.Context, service domain.OrderService) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderService, error)
}

// MotorInfoRepository persists the one-to-one motor information row.
type MotorInfoRepository interface {
	FindByOrder(ctx context.Context, orderID string) (domain.OrderMotorInfo, error)
	Upsert(ctx context.Context, info domain.OrderMotorInfo) error
}

// HistoryRepository appends and queries audit rows. Rows are never updated.
type HistoryRepository interface {
	Append(ctx context.Context, entries ...domain.OrderHistory) error
	List(ctx context.Context, filter HistoryFilter) (domain.CursorPage[domain.OrderHistory], error)
}

// CatalogRepository reads and seeds the service catalog.
type CatalogRepository interface {
	FindActiveByKey(ctx context.Context, serviceKey string) (domain.ServiceCatalogEntry, error)
	List(ctx context.Context, filter CatalogFilter) ([]domain.ServiceCatalogEntry, error)
	Upsert(ctx context.Context, entry domain.ServiceCatalogEntry) error
}

// UserRepository exposes the staff directory used for notifications.
type UserRepository interface {
	ListActiveByRoles(ctx context.Context, roles ...domain.UserRole) ([]domain.User, error)
	Upsert(ctx context.Context, user domain.User) error
}

// CacheVersionRepository stores monotonically increasing counters per namespace.
// Bump must be atomic with a single round trip.
type CacheVersionRepository interface {
	Bump(ctx context.Context, namespace string) (int64, error)
	Current(ctx context.Context, namespace string) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	CustomerID   string
	AssignedTo   string
	Statuses     []domain.OrderStatus
	CreatedRange domain.RangeQuery[time.Time]
	Pagination   domain.Pagination
}

type HistoryFilter struct {
	OrderID    string
	Fields     []domain.HistoryField
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type CatalogFilter struct {
	ItemType   *domain.ItemType
	ActiveOnly bool
}
