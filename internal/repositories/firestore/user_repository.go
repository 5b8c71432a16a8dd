package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	pfirestore "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/firestore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

const userCollection = "users"

// UserRepository reads staff records keyed by auth UID.
type UserRepository struct {
	base *pfirestore.Collection[userDocument]
	now  func() time.Time
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewCollection[userDocument](provider, userCollection)
	return &UserRepository{base: base, now: func() time.Time { return time.Now().UTC() }}, nil
}

// ListActiveByRoles returns active users holding any of roles, ordered by UID.
func (r *UserRepository) ListActiveByRoles(ctx context.Context, roles ...domain.UserRole) ([]domain.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("role", "in", names).
			Where("isActive", "==", true).
			OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, domain.User{
			ID:       doc.ID,
			Email:    doc.Data.Email,
			Role:     domain.UserRole(doc.Data.Role),
			IsActive: doc.Data.IsActive,
		})
	}
	return users, nil
}

// Upsert writes the user record, used by seeding and auth claim sync.
func (r *UserRepository) Upsert(ctx context.Context, user domain.User) error {
	id := strings.TrimSpace(user.ID)
	if id == "" {
		return errors.New("user repository: user id is required")
	}
	return r.base.Set(ctx, id, userDocument{
		Email:     strings.TrimSpace(user.Email),
		Role:      string(user.Role),
		IsActive:  user.IsActive,
		UpdatedAt: r.now(),
	})
}
