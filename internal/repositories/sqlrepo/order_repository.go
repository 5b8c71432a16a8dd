package sqlrepo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/pagination"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/sqlstore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

// OrderRepository persists orders, items and components in relational tables.
type OrderRepository struct {
	db *gorm.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a gorm-backed order repository.
func NewOrderRepository(db *gorm.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires db")
	}
	return &OrderRepository{db: db}, nil
}

// Insert stores the header first, then items and their components.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	conn := sqlstore.Conn(ctx, r.db)
	rec := newOrderRecord(order)
	if err := conn.Omit(clause.Associations).Create(&rec).Error; err != nil {
		return sqlstore.WrapError("orders.insert", err)
	}
	for _, item := range order.Items {
		itemRec := newItemRecord(item)
		itemRec.OrderID = order.ID
		if err := conn.Omit(clause.Associations).Create(&itemRec).Error; err != nil {
			return sqlstore.WrapError("order_items.insert", err)
		}
		for _, component := range item.Components {
			compRec := componentRecord{
				ID:          component.ID,
				OrderItemID: item.ID,
				Name:        component.Name,
				IsReceived:  component.IsReceived,
				CreatedAt:   component.CreatedAt,
			}
			if err := conn.Create(&compRec).Error; err != nil {
				return sqlstore.WrapError("order_item_components.insert", err)
			}
		}
	}
	return nil
}

// FindByID loads the order with items and components.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.load(sqlstore.Conn(ctx, r.db), orderID, "orders.find")
}

// LockByID loads the order holding a row lock until the transaction ends. sqlite ignores the
// locking clause; its single writer serialises transactions instead.
func (r *OrderRepository) LockByID(ctx context.Context, orderID string) (domain.Order, error) {
	if !sqlstore.InTx(ctx) {
		return domain.Order{}, errors.New("orders.lock: must run inside a transaction")
	}
	conn := sqlstore.Conn(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"})
	return r.load(conn, orderID, "orders.lock")
}

func (r *OrderRepository) load(conn *gorm.DB, orderID, op string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, sqlstore.NotFound(op, "order id is required")
	}
	var rec orderRecord
	err := conn.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Items.Components", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("id = ?", id).
		First(&rec).Error
	if err != nil {
		return domain.Order{}, sqlstore.WrapError(op, err)
	}
	return rec.toDomain(), nil
}

// Update writes header fields guarded by the expected version.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	conn := sqlstore.Conn(ctx, r.db)
	categories, err := intSet(order.Categories).Value()
	if err != nil {
		return err
	}
	result := conn.Model(&orderRecord{}).
		Where("id = ? AND version = ?", order.ID, expectedVersion).
		Updates(map[string]any{
			"title":                order.Title,
			"description":          order.Description,
			"status":               string(order.Status),
			"priority":             string(order.Priority),
			"assigned_to":          order.AssignedTo,
			"updated_by":           order.UpdatedBy,
			"estimated_completion": order.EstimatedCompletion,
			"actual_completion":    order.ActualCompletion,
			"notes":                order.Notes,
			"categories":           categories,
			"version":              expectedVersion + 1,
			"updated_at":           order.UpdatedAt,
		})
	if result.Error != nil {
		return sqlstore.WrapError("orders.update", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := conn.Model(&orderRecord{}).Where("id = ?", order.ID).Count(&count).Error; err != nil {
			return sqlstore.WrapError("orders.update", err)
		}
		if count == 0 {
			return sqlstore.NotFound("orders.update", "order not found")
		}
		return sqlstore.Conflict("orders.update", "order version changed")
	}
	return nil
}

// UpdateItem writes receipt flags for the item and each listed component.
func (r *OrderRepository) UpdateItem(ctx context.Context, item domain.OrderItem) error {
	conn := sqlstore.Conn(ctx, r.db)
	result := conn.Model(&orderItemRecord{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{"is_received": item.IsReceived, "updated_at": item.UpdatedAt})
	if result.Error != nil {
		return sqlstore.WrapError("order_items.update", result.Error)
	}
	if result.RowsAffected == 0 {
		return sqlstore.NotFound("order_items.update", "order item not found")
	}
	for _, component := range item.Components {
		err := conn.Model(&componentRecord{}).
			Where("id = ?", component.ID).
			Update("is_received", component.IsReceived).Error
		if err != nil {
			return sqlstore.WrapError("order_item_components.update", err)
		}
	}
	return nil
}

// List returns orders newest first using a keyset cursor over (created_at, id).
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := pagination.Normalize(filter.Pagination.PageSize)
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	query := sqlstore.Conn(ctx, r.db).Model(&orderRecord{})
	if filter.CustomerID != "" {
		query = query.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.AssignedTo != "" {
		query = query.Where("assigned_to = ?", filter.AssignedTo)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status IN ?", statuses)
	}
	if filter.CreatedRange.From != nil {
		query = query.Where("created_at >= ?", *filter.CreatedRange.From)
	}
	if filter.CreatedRange.To != nil {
		query = query.Where("created_at <= ?", *filter.CreatedRange.To)
	}
	if !cursor.IsZero() {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var recs []orderRecord
	err = query.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Items.Components").
		Order("created_at DESC, id DESC").
		Limit(pageSize).
		Find(&recs).Error
	if err != nil {
		return domain.CursorPage[domain.Order]{}, sqlstore.WrapError("orders.list", err)
	}

	items := make([]domain.Order, 0, len(recs))
	for _, rec := range recs {
		items = append(items, rec.toDomain())
	}
	return domain.CursorPage[domain.Order]{
		Items: items,
		NextPageToken: pagination.NextToken(items, pageSize, func(o domain.Order) pagination.Cursor {
			return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
		}),
	}, nil
}
