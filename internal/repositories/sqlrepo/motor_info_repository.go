package sqlrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/sqlstore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

// MotorInfoRepository stores the one-to-one motor row keyed by order id.
type MotorInfoRepository struct {
	db *gorm.DB
}

var _ repositories.MotorInfoRepository = (*MotorInfoRepository)(nil)

func NewMotorInfoRepository(db *gorm.DB) (*MotorInfoRepository, error) {
	if db == nil {
		return nil, errors.New("motor info repository requires db")
	}
	return &MotorInfoRepository{db: db}, nil
}

func (r *MotorInfoRepository) FindByOrder(ctx context.Context, orderID string) (domain.OrderMotorInfo, error) {
	var rec motorInfoRecord
	if err := sqlstore.Conn(ctx, r.db).Where("order_id = ?", orderID).First(&rec).Error; err != nil {
		return domain.OrderMotorInfo{}, sqlstore.WrapError("order_motor_info.find", err)
	}
	return rec.toDomain(), nil
}

// Upsert inserts the row or overwrites it in place, keeping the stored id and created_at.
func (r *MotorInfoRepository) Upsert(ctx context.Context, info domain.OrderMotorInfo) error {
	conn := sqlstore.Conn(ctx, r.db)
	rec := newMotorInfoRecord(info)
	var existing motorInfoRecord
	err := conn.Where("order_id = ?", info.OrderID).Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = conn.Create(&rec).Error
	case err == nil:
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		err = conn.Save(&rec).Error
	}
	if err != nil {
		return sqlstore.WrapError("order_motor_info.upsert", err)
	}
	return nil
}
