package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Order is the root aggregate for a repair job. Items, Services and MotorInfo are
// populated only when the aggregate is loaded in full.
type Order struct {
	ID                  string
	CustomerID          string
	Title               string
	Description         *string
	Status              OrderStatus
	Priority            OrderPriority
	AssignedTo          *string
	CreatedBy           string
	UpdatedBy           *string
	EstimatedCompletion *time.Time
	ActualCompletion    *time.Time
	Notes               *string
	Categories          []int
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time

	Items     []OrderItem
	Services  []OrderService
	MotorInfo *OrderMotorInfo
	History   []OrderHistory
}

// Item returns the item with the provided ID.
func (o Order) Item(id string) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ID == id {
			return item, true
		}
	}
	return OrderItem{}, false
}

// Service returns the service line with the provided ID.
func (o Order) Service(id string) (OrderService, bool) {
	for _, svc := range o.Services {
		if svc.ID == id {
			return svc, true
		}
	}
	return OrderService{}, false
}

// OrderItem is a motor part received with the order. One per item type.
type OrderItem struct {
	ID         string
	OrderID    string
	ItemType   ItemType
	IsReceived bool
	Components []OrderItemComponent
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderItemComponent is a sub-part of an item, unique by name within the item.
type OrderItemComponent struct {
	ID          string
	OrderItemID string
	Name        string
	IsReceived  bool
	CreatedAt   time.Time
}

// OrderService is a billable unit of work attached to one item and one catalog entry.
// Prices are snapshotted from the catalog at budgeting time.
type OrderService struct {
	ID           string
	OrderID      string
	OrderItemID  string
	ServiceKey   string
	Measurement  *string
	Notes        *string
	IsBudgeted   bool
	IsAuthorized bool
	IsCompleted  bool
	BasePrice    decimal.Decimal
	NetPrice     decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderMotorInfo stores engine descriptors and the derived financial totals.
type OrderMotorInfo struct {
	ID            string
	OrderID       string
	Brand         *string
	Liters        *string
	Year          *string
	Model         *string
	CylinderCount *string
	DownPayment   decimal.Decimal
	TotalCost     decimal.Decimal
	IsFullyPaid   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HistoryField identifies what an OrderHistory row describes.
type HistoryField string

const (
	HistoryFieldStatus              HistoryField = "status"
	HistoryFieldPriority            HistoryField = "priority"
	HistoryFieldAssignedTo          HistoryField = "assigned_to"
	HistoryFieldEstimatedCompletion HistoryField = "estimated_completion"
	HistoryFieldTitle               HistoryField = "title"
	HistoryFieldDescription         HistoryField = "description"
	HistoryFieldNotes               HistoryField = "notes"
	HistoryFieldCategories          HistoryField = "categories"

	HistoryFieldItemReceived      HistoryField = "item_received"
	HistoryFieldComponentReceived HistoryField = "component_received"
	HistoryFieldServiceBudgeted   HistoryField = "service_budgeted"
	HistoryFieldServiceAuthorized HistoryField = "service_authorized"
	HistoryFieldServiceCompleted  HistoryField = "service_completed"
	HistoryFieldDownPayment       HistoryField = "down_payment"
)

// TrackedOrderFields lists audited order fields in the order their history rows are written.
var TrackedOrderFields = []HistoryField{
	HistoryFieldStatus,
	HistoryFieldPriority,
	HistoryFieldAssignedTo,
	HistoryFieldEstimatedCompletion,
	HistoryFieldTitle,
	HistoryFieldDescription,
	HistoryFieldNotes,
	HistoryFieldCategories,
}

// OrderHistory is an append-only audit row. Nil values mean the side was empty.
type OrderHistory struct {
	ID           string
	OrderID      string
	FieldChanged HistoryField
	OldValue     *string
	NewValue     *string
	Comment      *string
	CreatedBy    string
	CreatedAt    time.Time

	Description string
	Attachments []Attachment
}

// ServiceCatalogEntry describes a service the shop offers for an item type.
type ServiceCatalogEntry struct {
	ID                  string
	ServiceKey          string
	DisplayNameKey      string
	ItemType            ItemType
	BasePrice           decimal.Decimal
	TaxPercentage       decimal.Decimal
	RequiresMeasurement bool
	IsActive            bool
	DisplayOrder        int
}

// NetPrice applies the catalog tax rate to the base price.
func (e ServiceCatalogEntry) NetPrice() decimal.Decimal {
	return NetPrice(e.BasePrice, e.TaxPercentage)
}

// Attachment describes a file uploaded for an order.
type Attachment struct {
	Key        string
	FileName   string
	MimeType   string
	Size       int64
	UploadedBy string
	UploadedAt time.Time
}

// UserRole enumerates staff and customer roles.
type UserRole string

const (
	UserRoleSuperAdmin UserRole = "super_admin"
	UserRoleAdmin      UserRole = "admin"
	UserRoleEmployee   UserRole = "employee"
	UserRoleCustomer   UserRole = "customer"
)

// User is the minimal identity record the order workflow needs.
type User struct {
	ID       string
	Email    string
	Role     UserRole
	IsActive bool
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
