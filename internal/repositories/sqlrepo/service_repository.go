package sqlrepo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/sqlstore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

// OrderServiceRepository stores billable service lines.
type OrderServiceRepository struct {
	db *gorm.DB
}

var _ repositories.OrderServiceRepository = (*OrderServiceRepository)(nil)

func NewOrderServiceRepository(db *gorm.DB) (*OrderServiceRepository, error) {
	if db == nil {
		return nil, errors.New("order service repository requires db")
	}
	return &OrderServiceRepository{db: db}, nil
}

func (r *OrderServiceRepository) Insert(ctx context.Context, services ...domain.OrderService) error {
	if len(services) == 0 {
		return nil
	}
	recs := make([]orderServiceRecord, 0, len(services))
	for _, svc := range services {
		recs = append(recs, newServiceRecord(svc))
	}
	if err := sqlstore.Conn(ctx, r.db).Create(&recs).Error; err != nil {
		return sqlstore.WrapError("order_services.insert", err)
	}
	return nil
}

// Update writes the gate flags. Prices are immutable once budgeted and are not touched.
func (r *OrderServiceRepository) Update(ctx context.Context, service domain.OrderService) error {
	result := sqlstore.Conn(ctx, r.db).Model(&orderServiceRecord{}).
		Where("id = ? AND order_id = ?", service.ID, service.OrderID).
		Updates(map[string]any{
			"measurement":   service.Measurement,
			"notes":         service.Notes,
			"is_budgeted":   service.IsBudgeted,
			"is_authorized": service.IsAuthorized,
			"is_completed":  service.IsCompleted,
			"updated_at":    service.UpdatedAt,
		})
	if result.Error != nil {
		return sqlstore.WrapError("order_services.update", result.Error)
	}
	if result.RowsAffected == 0 {
		return sqlstore.NotFound("order_services.update", "order service not found")
	}
	return nil
}

func (r *OrderServiceRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderService, error) {
	id := strings.TrimSpace(orderID)
	var recs []orderServiceRecord
	err := sqlstore.Conn(ctx, r.db).
		Where("order_id = ?", id).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, sqlstore.WrapError("order_services.list", err)
	}
	out := make([]domain.OrderService, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toDomain())
	}
	return out, nil
}
