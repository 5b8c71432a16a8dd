package sqlrepo

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
)

// intSet stores category IDs as a JSON array column.
type intSet []int

func (s intSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]int(s))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (s *intSet) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("sqlrepo: cannot scan %T into intSet", src)
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	var out []int
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*s = out
	return nil
}

type orderRecord struct {
	ID                  string         `gorm:"primaryKey;size:40"`
	CustomerID          string         `gorm:"size:64;not null;index"`
	Title               string         `gorm:"size:255;not null"`
	Description         *string        `gorm:"type:text"`
	Status              string         `gorm:"size:40;not null;index"`
	Priority            string         `gorm:"size:16;not null"`
	AssignedTo          *string        `gorm:"size:64;index"`
	CreatedBy           string         `gorm:"size:64;not null"`
	UpdatedBy           *string        `gorm:"size:64"`
	EstimatedCompletion *time.Time
	ActualCompletion    *time.Time
	Notes               *string        `gorm:"type:text"`
	Categories          intSet         `gorm:"type:text"`
	Version             int64          `gorm:"not null"`
	CreatedAt           time.Time      `gorm:"index"`
	UpdatedAt           time.Time
	DeletedAt           gorm.DeletedAt `gorm:"index"`

	Items []orderItemRecord `gorm:"foreignKey:OrderID"`
}

func (orderRecord) TableName() string { return "orders" }

type orderItemRecord struct {
	ID         string `gorm:"primaryKey;size:40"`
	OrderID    string `gorm:"size:40;not null;uniqueIndex:idx_order_item_type"`
	ItemType   string `gorm:"size:32;not null;uniqueIndex:idx_order_item_type"`
	IsReceived bool   `gorm:"not null;default:false"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Components []componentRecord `gorm:"foreignKey:OrderItemID"`
}

func (orderItemRecord) TableName() string { return "order_items" }

type componentRecord struct {
	ID          string `gorm:"primaryKey;size:40"`
	OrderItemID string `gorm:"size:40;not null;uniqueIndex:idx_item_component"`
	Name        string `gorm:"size:128;not null;uniqueIndex:idx_item_component"`
	IsReceived  bool   `gorm:"not null;default:false"`
	CreatedAt   time.Time
}

func (componentRecord) TableName() string { return "order_item_components" }

type orderServiceRecord struct {
	ID           string          `gorm:"primaryKey;size:40"`
	OrderID      string          `gorm:"size:40;not null;index"`
	OrderItemID  string          `gorm:"size:40;not null;index"`
	ServiceKey   string          `gorm:"size:128;not null"`
	Measurement  *string         `gorm:"size:128"`
	Notes        *string         `gorm:"type:text"`
	IsBudgeted   bool            `gorm:"not null;default:false"`
	IsAuthorized bool            `gorm:"not null;default:false"`
	IsCompleted  bool            `gorm:"not null;default:false"`
	BasePrice    decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	NetPrice     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (orderServiceRecord) TableName() string { return "order_services" }

type motorInfoRecord struct {
	ID            string          `gorm:"primaryKey;size:40"`
	OrderID       string          `gorm:"size:40;not null;uniqueIndex"`
	Brand         *string         `gorm:"size:128"`
	Liters        *string         `gorm:"size:32"`
	Year          *string         `gorm:"size:16"`
	Model         *string         `gorm:"size:128"`
	CylinderCount *string         `gorm:"size:16"`
	DownPayment   decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	TotalCost     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	IsFullyPaid   bool            `gorm:"not null;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (motorInfoRecord) TableName() string { return "order_motor_info" }

type historyRecord struct {
	ID           string    `gorm:"primaryKey;size:40"`
	OrderID      string    `gorm:"size:40;not null;index:idx_history_order_created"`
	FieldChanged string    `gorm:"size:64;not null;index"`
	OldValue     *string   `gorm:"type:text"`
	NewValue     *string   `gorm:"type:text"`
	Comment      *string   `gorm:"type:text"`
	CreatedBy    string    `gorm:"size:64;not null"`
	CreatedAt    time.Time `gorm:"not null;index:idx_history_order_created"`
}

func (historyRecord) TableName() string { return "order_histories" }

type catalogRecord struct {
	ID                  string          `gorm:"primaryKey;size:40"`
	ServiceKey          string          `gorm:"size:128;not null;uniqueIndex"`
	DisplayNameKey      string          `gorm:"size:255;not null"`
	ItemType            string          `gorm:"size:32;not null;index"`
	BasePrice           decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	TaxPercentage       decimal.Decimal `gorm:"type:numeric(5,2);not null"`
	RequiresMeasurement bool            `gorm:"not null;default:false"`
	IsActive            bool            `gorm:"not null"`
	DisplayOrder        int             `gorm:"not null;default:0"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (catalogRecord) TableName() string { return "service_catalog" }

type userRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Email     string `gorm:"size:255;not null"`
	Role      string `gorm:"size:32;not null;index"`
	IsActive  bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userRecord) TableName() string { return "users" }

type cacheVersionRecord struct {
	Namespace string `gorm:"primaryKey;size:191"`
	Version   int64  `gorm:"not null"`
	UpdatedAt time.Time
}

func (cacheVersionRecord) TableName() string { return "cache_versions" }

// Migrate creates or updates every table the order store needs.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("sqlrepo: db is required")
	}
	return db.WithContext(ctx).AutoMigrate(
		&orderRecord{},
		&orderItemRecord{},
		&componentRecord{},
		&orderServiceRecord{},
		&motorInfoRecord{},
		&historyRecord{},
		&catalogRecord{},
		&userRecord{},
		&cacheVersionRecord{},
	)
}

func newOrderRecord(order domain.Order) orderRecord {
	rec := orderRecord{
		ID:                  order.ID,
		CustomerID:          order.CustomerID,
		Title:               order.Title,
		Description:         order.Description,
		Status:              string(order.Status),
		Priority:            string(order.Priority),
		AssignedTo:          order.AssignedTo,
		CreatedBy:           order.CreatedBy,
		UpdatedBy:           order.UpdatedBy,
		EstimatedCompletion: order.EstimatedCompletion,
		ActualCompletion:    order.ActualCompletion,
		Notes:               order.Notes,
		Categories:          intSet(order.Categories),
		Version:             order.Version,
		CreatedAt:           order.CreatedAt,
		UpdatedAt:           order.UpdatedAt,
	}
	if order.DeletedAt != nil {
		rec.DeletedAt = gorm.DeletedAt{Time: *order.DeletedAt, Valid: true}
	}
	return rec
}

func (r orderRecord) toDomain() domain.Order {
	order := domain.Order{
		ID:                  r.ID,
		CustomerID:          r.CustomerID,
		Title:               r.Title,
		Description:         r.Description,
		Status:              domain.OrderStatus(r.Status),
		Priority:            domain.OrderPriority(r.Priority),
		AssignedTo:          r.AssignedTo,
		CreatedBy:           r.CreatedBy,
		UpdatedBy:           r.UpdatedBy,
		EstimatedCompletion: utcPtr(r.EstimatedCompletion),
		ActualCompletion:    utcPtr(r.ActualCompletion),
		Notes:               r.Notes,
		Categories:          []int(r.Categories),
		Version:             r.Version,
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
	if r.DeletedAt.Valid {
		deleted := r.DeletedAt.Time.UTC()
		order.DeletedAt = &deleted
	}
	for _, item := range r.Items {
		order.Items = append(order.Items, item.toDomain())
	}
	return order
}

func newItemRecord(item domain.OrderItem) orderItemRecord {
	return orderItemRecord{
		ID:         item.ID,
		OrderID:    item.OrderID,
		ItemType:   string(item.ItemType),
		IsReceived: item.IsReceived,
		CreatedAt:  item.CreatedAt,
		UpdatedAt:  item.UpdatedAt,
	}
}

func (r orderItemRecord) toDomain() domain.OrderItem {
	item := domain.OrderItem{
		ID:         r.ID,
		OrderID:    r.OrderID,
		ItemType:   domain.ItemType(r.ItemType),
		IsReceived: r.IsReceived,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	for _, c := range r.Components {
		item.Components = append(item.Components, domain.OrderItemComponent{
			ID:          c.ID,
			OrderItemID: c.OrderItemID,
			Name:        c.Name,
			IsReceived:  c.IsReceived,
			CreatedAt:   c.CreatedAt.UTC(),
		})
	}
	return item
}

func newServiceRecord(svc domain.OrderService) orderServiceRecord {
	return orderServiceRecord{
		ID:           svc.ID,
		OrderID:      svc.OrderID,
		OrderItemID:  svc.OrderItemID,
		ServiceKey:   svc.ServiceKey,
		Measurement:  svc.Measurement,
		Notes:        svc.Notes,
		IsBudgeted:   svc.IsBudgeted,
		IsAuthorized: svc.IsAuthorized,
		IsCompleted:  svc.IsCompleted,
		BasePrice:    svc.BasePrice,
		NetPrice:     svc.NetPrice,
		CreatedAt:    svc.CreatedAt,
		UpdatedAt:    svc.UpdatedAt,
	}
}

func (r orderServiceRecord) toDomain() domain.OrderService {
	return domain.OrderService{
		ID:           r.ID,
		OrderID:      r.OrderID,
		OrderItemID:  r.OrderItemID,
		ServiceKey:   r.ServiceKey,
		Measurement:  r.Measurement,
		Notes:        r.Notes,
		IsBudgeted:   r.IsBudgeted,
		IsAuthorized: r.IsAuthorized,
		IsCompleted:  r.IsCompleted,
		BasePrice:    domain.RoundMoney(r.BasePrice),
		NetPrice:     domain.RoundMoney(r.NetPrice),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func newMotorInfoRecord(info domain.OrderMotorInfo) motorInfoRecord {
	return motorInfoRecord{
		ID:            info.ID,
		OrderID:       info.OrderID,
		Brand:         info.Brand,
		Liters:        info.Liters,
		Year:          info.Year,
		Model:         info.Model,
		CylinderCount: info.CylinderCount,
		DownPayment:   info.DownPayment,
		TotalCost:     info.TotalCost,
		IsFullyPaid:   info.IsFullyPaid,
		CreatedAt:     info.CreatedAt,
		UpdatedAt:     info.UpdatedAt,
	}
}

func (r motorInfoRecord) toDomain() domain.OrderMotorInfo {
	return domain.OrderMotorInfo{
		ID:            r.ID,
		OrderID:       r.OrderID,
		Brand:         r.Brand,
		Liters:        r.Liters,
		Year:          r.Year,
		Model:         r.Model,
		CylinderCount: r.CylinderCount,
		DownPayment:   domain.RoundMoney(r.DownPayment),
		TotalCost:     domain.RoundMoney(r.TotalCost),
		IsFullyPaid:   r.IsFullyPaid,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func newHistoryRecord(entry domain.OrderHistory) historyRecord {
	return historyRecord{
		ID:           entry.ID,
		OrderID:      entry.OrderID,
		FieldChanged: string(entry.FieldChanged),
		OldValue:     entry.OldValue,
		NewValue:     entry.NewValue,
		Comment:      entry.Comment,
		CreatedBy:    entry.CreatedBy,
		CreatedAt:    entry.CreatedAt,
	}
}

func (r historyRecord) toDomain() domain.OrderHistory {
	return domain.OrderHistory{
		ID:           r.ID,
		OrderID:      r.OrderID,
		FieldChanged: domain.HistoryField(r.FieldChanged),
		OldValue:     r.OldValue,
		NewValue:     r.NewValue,
		Comment:      r.Comment,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

func newCatalogRecord(entry domain.ServiceCatalogEntry) catalogRecord {
	return catalogRecord{
		ID:                  entry.ID,
		ServiceKey:          entry.ServiceKey,
		DisplayNameKey:      entry.DisplayNameKey,
		ItemType:            string(entry.ItemType),
		BasePrice:           entry.BasePrice,
		TaxPercentage:       entry.TaxPercentage,
		RequiresMeasurement: entry.RequiresMeasurement,
		IsActive:            entry.IsActive,
		DisplayOrder:        entry.DisplayOrder,
	}
}

func (r catalogRecord) toDomain() domain.ServiceCatalogEntry {
	return domain.ServiceCatalogEntry{
		ID:                  r.ID,
		ServiceKey:          r.ServiceKey,
		DisplayNameKey:      r.DisplayNameKey,
		ItemType:            domain.ItemType(r.ItemType),
		BasePrice:           domain.RoundMoney(r.BasePrice),
		TaxPercentage:       r.TaxPercentage,
		RequiresMeasurement: r.RequiresMeasurement,
		IsActive:            r.IsActive,
		DisplayOrder:        r.DisplayOrder,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
