package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	Order               = domain.Order
	OrderStatus         = domain.OrderStatus
	OrderPriority       = domain.OrderPriority
	OrderItem           = domain.OrderItem
	OrderItemComponent  = domain.OrderItemComponent
	OrderService        = domain.OrderService
	OrderMotorInfo      = domain.OrderMotorInfo
	OrderHistory        = domain.OrderHistory
	HistoryField        = domain.HistoryField
	ItemType            = domain.ItemType
	ServiceCatalogEntry = domain.ServiceCatalogEntry
	Attachment          = domain.Attachment
	SystemHealthReport  = domain.SystemHealthReport
	OrderListFilter     = repositories.OrderListFilter
	CatalogFilter       = repositories.CatalogFilter
)

// OrderLifecycleService drives repair orders from intake to delivery. Every mutating call runs
// in a single unit of work; notifications and cache invalidation happen after commit.
type OrderLifecycleService interface {
	CreateOrderWithMotorItems(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	SubmitBudget(ctx context.Context, cmd SubmitBudgetCommand) (Order, error)
	CustomerApproval(ctx context.Context, cmd CustomerApprovalCommand) (Order, error)
	MarkWorkCompleted(ctx context.Context, cmd CompleteWorkCommand) (Order, error)
	MarkReadyForDelivery(ctx context.Context, cmd OrderActionCommand) (Order, error)
	DeliverOrder(ctx context.Context, cmd OrderActionCommand) (Order, error)

	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	UpdateMotorInfo(ctx context.Context, cmd UpdateMotorInfoCommand) (Order, error)
	MarkItemReceived(ctx context.Context, cmd MarkItemReceivedCommand) (Order, error)
	ListHistory(ctx context.Context, filter HistoryListFilter) (domain.CursorPage[OrderHistory], error)
}

// CatalogService exposes the service catalog used for budgeting.
type CatalogService interface {
	ListServices(ctx context.Context, filter CatalogFilter) ([]ServiceCatalogEntry, error)
	FindActiveServiceByKey(ctx context.Context, serviceKey string) (ServiceCatalogEntry, error)
}

// CacheVersionService hands out per-namespace invalidation counters.
type CacheVersionService interface {
	BumpVersion(ctx context.Context, namespace string) (int64, error)
	CurrentVersion(ctx context.Context, namespace string) (int64, error)
	// InvalidateOrder bumps the list, detail and history namespaces for one order.
	InvalidateOrder(ctx context.Context, orderID string) error
}

// NotificationSink delivers lifecycle signals. Callers treat it as fire-and-forget.
type NotificationSink interface {
	Notify(ctx context.Context, notification Notification) error
}

// AttachmentLister enumerates files uploaded for an order.
type AttachmentLister interface {
	ListAttachments(ctx context.Context, orderID string) ([]Attachment, error)
}

// SystemService aggregates utility endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

type CreateOrderCommand struct {
	CustomerID          string
	Title               string
	Description         *string
	Priority            OrderPriority
	AssignedTo          *string
	EstimatedCompletion *time.Time
	Notes               *string
	Categories          []int
	Motor               MotorInfoInput
	Items               []CreateOrderItemInput
	Actor               *string
}

type CreateOrderItemInput struct {
	ItemType   string
	Components []string
}

type MotorInfoInput struct {
	Brand         *string
	Liters        *string
	Year          *string
	Model         *string
	CylinderCount *string
	DownPayment   *decimal.Decimal
}

type BudgetLine struct {
	OrderItemID string
	ServiceKey  string
	Measurement *string
	Notes       *string
}

type SubmitBudgetCommand struct {
	OrderID string
	Lines   []BudgetLine
	Actor   *string
}

type CustomerApprovalCommand struct {
	OrderID              string
	AuthorizedServiceIDs []string
	DownPayment          *decimal.Decimal
	Actor                *string
}

type CompleteWorkCommand struct {
	OrderID             string
	CompletedServiceIDs []string
	Actor               *string
}

type OrderActionCommand struct {
	OrderID string
	Actor   *string
}

// UpdateOrderCommand patches tracked fields. Nil fields are left untouched; the Clear flags
// empty nullable fields.
type UpdateOrderCommand struct {
	OrderID             string
	Title               *string
	Description         *string
	Priority            *OrderPriority
	AssignedTo          *string
	EstimatedCompletion *time.Time
	Notes               *string
	Categories          *[]int

	ClearDescription         bool
	ClearAssignedTo          bool
	ClearEstimatedCompletion bool
	ClearNotes               bool

	Comment *string
	Actor   *string
}

type OrderStatusTransitionCommand struct {
	OrderID          string
	TargetStatus     OrderStatus
	ActualCompletion *time.Time
	ExpectedStatus   *OrderStatus
	Comment          *string
	Actor            *string
}

type UpdateMotorInfoCommand struct {
	OrderID string
	Motor   MotorInfoInput
	Actor   *string
}

type MarkItemReceivedCommand struct {
	OrderID        string
	OrderItemID    string
	ComponentNames []string
	Actor          *string
}

type HistoryListFilter struct {
	OrderID    string
	Fields     []HistoryField
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// Notification is a lifecycle signal addressed to users by id.
type Notification struct {
	ID         string
	EventType  string
	OrderID    string
	Recipients []string
	Payload    map[string]any
	OccurredAt time.Time
}
