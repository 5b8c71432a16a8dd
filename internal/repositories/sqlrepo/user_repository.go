package sqlrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/sqlstore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

// UserRepository reads the staff directory.
type UserRepository struct {
	db *gorm.DB
}

var _ repositories.UserRepository = (*UserRepository)(nil)

func NewUserRepository(db *gorm.DB) (*UserRepository, error) {
	if db == nil {
		return nil, errors.New("user repository requires db")
	}
	return &UserRepository{db: db}, nil
}

func (r *UserRepository) ListActiveByRoles(ctx context.Context, roles ...domain.UserRole) ([]domain.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	var recs []userRecord
	err := sqlstore.Conn(ctx, r.db).
		Where("role IN ? AND is_active = ?", names, true).
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, sqlstore.WrapError("users.list", err)
	}
	out := make([]domain.User, 0, len(recs))
	for _, rec := range recs {
		out = append(out, domain.User{ID: rec.ID, Email: rec.Email, Role: domain.UserRole(rec.Role), IsActive: rec.IsActive})
	}
	return out, nil
}

func (r *UserRepository) Upsert(ctx context.Context, user domain.User) error {
	rec := userRecord{ID: user.ID, Email: user.Email, Role: string(user.Role), IsActive: user.IsActive}
	err := sqlstore.Conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "role", "is_active", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return sqlstore.WrapError("users.upsert", err)
	}
	return nil
}
