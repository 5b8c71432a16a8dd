package sqlrepo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/config"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/sqlstore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

type RegistrySuite struct {
	suite.Suite
	db  *gorm.DB
	reg *Registry
	ctx context.Context
	now time.Time
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	db, err := sqlstore.Open(config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:"}, nil)
	s.Require().NoError(err)
	s.Require().NoError(Migrate(context.Background(), db))
	reg, err := NewRegistry(db)
	s.Require().NoError(err)
	s.db = db
	s.reg = reg
	s.ctx = context.Background()
	s.now = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
}

func (s *RegistrySuite) TearDownTest() {
	s.Require().NoError(s.reg.Close(s.ctx))
}

func (s *RegistrySuite) sampleOrder(id string) domain.Order {
	return domain.Order{
		ID:         id,
		CustomerID: "cus_1",
		Title:      "Head rebuild",
		Status:     domain.OrderStatusReceived,
		Priority:   domain.OrderPriorityNormal,
		CreatedBy:  "emp_1",
		Categories: []int{1, 3},
		Version:    1,
		CreatedAt:  s.now,
		UpdatedAt:  s.now,
		Items: []domain.OrderItem{{
			ID:        id + "_itm",
			OrderID:   id,
			ItemType:  domain.ItemTypeCylinderHead,
			CreatedAt: s.now,
			UpdatedAt: s.now,
			Components: []domain.OrderItemComponent{
				{ID: id + "_c1", OrderItemID: id + "_itm", Name: "valves", CreatedAt: s.now},
				{ID: id + "_c2", OrderItemID: id + "_itm", Name: "springs", CreatedAt: s.now},
			},
		}},
	}
}

func (s *RegistrySuite) TestOrderRoundTripAndVersionGuard() {
	order := s.sampleOrder("ord_a")
	s.Require().NoError(s.reg.Orders().Insert(s.ctx, order))

	loaded, err := s.reg.Orders().FindByID(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal([]int{1, 3}, loaded.Categories)
	s.Require().Len(loaded.Items, 1)
	s.Len(loaded.Items[0].Components, 2)
	s.Equal(int64(1), loaded.Version)

	err = s.reg.RunInTx(s.ctx, func(ctx context.Context) error {
		locked, err := s.reg.Orders().LockByID(ctx, order.ID)
		if err != nil {
			return err
		}
		locked.Status = domain.OrderStatusAwaitingReview
		return s.reg.Orders().Update(ctx, locked, locked.Version)
	})
	s.Require().NoError(err)

	err = s.reg.Orders().Update(s.ctx, loaded, 1)
	var repoErr repositories.RepositoryError
	s.Require().True(errors.As(err, &repoErr))
	s.True(repoErr.IsConflict())

	missing := s.sampleOrder("ord_missing")
	err = s.reg.Orders().Update(s.ctx, missing, 1)
	s.Require().True(errors.As(err, &repoErr))
	s.True(repoErr.IsNotFound())
}

func (s *RegistrySuite) TestLockRequiresTransaction() {
	_, err := s.reg.Orders().LockByID(s.ctx, "ord_a")
	s.Error(err)
}

func (s *RegistrySuite) TestRollbackDiscardsWrites() {
	boom := errors.New("boom")
	err := s.reg.RunInTx(s.ctx, func(ctx context.Context) error {
		if err := s.reg.Orders().Insert(ctx, s.sampleOrder("ord_rollback")); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.reg.Orders().FindByID(s.ctx, "ord_rollback")
	var repoErr repositories.RepositoryError
	s.Require().True(errors.As(err, &repoErr))
	s.True(repoErr.IsNotFound())
}

func (s *RegistrySuite) TestItemReceipt() {
	order := s.sampleOrder("ord_item")
	s.Require().NoError(s.reg.Orders().Insert(s.ctx, order))

	item := order.Items[0]
	item.IsReceived = true
	item.Components[1].IsReceived = true
	s.Require().NoError(s.reg.Orders().UpdateItem(s.ctx, item))

	loaded, err := s.reg.Orders().FindByID(s.ctx, order.ID)
	s.Require().NoError(err)
	s.True(loaded.Items[0].IsReceived)
	received := map[string]bool{}
	for _, c := range loaded.Items[0].Components {
		received[c.Name] = c.IsReceived
	}
	s.Equal(map[string]bool{"valves": false, "springs": true}, received)
}

func (s *RegistrySuite) TestListOrdersPaginates() {
	for i, id := range []string{"ord_1", "ord_2", "ord_3"} {
		order := s.sampleOrder(id)
		order.CreatedAt = s.now.Add(time.Duration(i) * time.Minute)
		s.Require().NoError(s.reg.Orders().Insert(s.ctx, order))
	}

	page, err := s.reg.Orders().List(s.ctx, repositories.OrderListFilter{Pagination: domain.Pagination{PageSize: 2}})
	s.Require().NoError(err)
	s.Require().Len(page.Items, 2)
	s.Equal("ord_3", page.Items[0].ID)
	s.Equal("ord_2", page.Items[1].ID)
	s.NotEmpty(page.NextPageToken)

	page, err = s.reg.Orders().List(s.ctx, repositories.OrderListFilter{
		Pagination: domain.Pagination{PageSize: 2, PageToken: page.NextPageToken},
	})
	s.Require().NoError(err)
	s.Require().Len(page.Items, 1)
	s.Equal("ord_1", page.Items[0].ID)
	s.Empty(page.NextPageToken)

	page, err = s.reg.Orders().List(s.ctx, repositories.OrderListFilter{
		Statuses: []domain.OrderStatus{domain.OrderStatusDelivered},
	})
	s.Require().NoError(err)
	s.Empty(page.Items)
}

func (s *RegistrySuite) TestServicesMotorInfoAndHistory() {
	order := s.sampleOrder("ord_svc")
	s.Require().NoError(s.reg.Orders().Insert(s.ctx, order))

	svc := domain.OrderService{
		ID:          "svc_1",
		OrderID:     order.ID,
		OrderItemID: order.Items[0].ID,
		ServiceKey:  "cylinder_head.resurface",
		IsBudgeted:  true,
		BasePrice:   decimal.RequireFromString("600.00"),
		NetPrice:    decimal.RequireFromString("696.00"),
		CreatedAt:   s.now,
		UpdatedAt:   s.now,
	}
	s.Require().NoError(s.reg.OrderServices().Insert(s.ctx, svc))
	svc.IsAuthorized = true
	svc.NetPrice = decimal.RequireFromString("1.00")
	s.Require().NoError(s.reg.OrderServices().Update(s.ctx, svc))

	services, err := s.reg.OrderServices().ListByOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Require().Len(services, 1)
	s.True(services[0].IsAuthorized)
	s.Equal("696.00", services[0].NetPrice.StringFixed(2))

	info := domain.OrderMotorInfo{ID: "mot_1", OrderID: order.ID, DownPayment: decimal.NewFromInt(200), TotalCost: decimal.Zero, CreatedAt: s.now, UpdatedAt: s.now}
	s.Require().NoError(s.reg.MotorInfo().Upsert(s.ctx, info))
	info.TotalCost = decimal.RequireFromString("696.00")
	s.Require().NoError(s.reg.MotorInfo().Upsert(s.ctx, info))
	stored, err := s.reg.MotorInfo().FindByOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal("696.00", stored.TotalCost.StringFixed(2))
	s.Equal("200.00", stored.DownPayment.StringFixed(2))

	oldValue, newValue := "received", "awaiting_review"
	s.Require().NoError(s.reg.History().Append(s.ctx,
		domain.OrderHistory{ID: "h_2", OrderID: order.ID, FieldChanged: domain.HistoryFieldPriority, NewValue: &newValue, CreatedBy: "emp_1", CreatedAt: s.now},
		domain.OrderHistory{ID: "h_1", OrderID: order.ID, FieldChanged: domain.HistoryFieldStatus, OldValue: &oldValue, NewValue: &newValue, CreatedBy: "emp_1", CreatedAt: s.now},
	))
	history, err := s.reg.History().List(s.ctx, repositories.HistoryFilter{OrderID: order.ID})
	s.Require().NoError(err)
	s.Require().Len(history.Items, 2)
	s.Equal("h_1", history.Items[0].ID)
	s.Nil(history.Items[1].OldValue)

	history, err = s.reg.History().List(s.ctx, repositories.HistoryFilter{OrderID: order.ID, Fields: []domain.HistoryField{domain.HistoryFieldStatus}})
	s.Require().NoError(err)
	s.Len(history.Items, 1)
}

func (s *RegistrySuite) TestCatalogAndUsers() {
	entry := domain.ServiceCatalogEntry{
		ID:             "cat_1",
		ServiceKey:     "cylinder_head.resurface",
		DisplayNameKey: "services.cylinder_head.resurface",
		ItemType:       domain.ItemTypeCylinderHead,
		BasePrice:      decimal.RequireFromString("600.00"),
		TaxPercentage:  decimal.NewFromInt(16),
		IsActive:       true,
	}
	s.Require().NoError(s.reg.Catalog().Upsert(s.ctx, entry))

	found, err := s.reg.Catalog().FindActiveByKey(s.ctx, entry.ServiceKey)
	s.Require().NoError(err)
	s.Equal("696.00", found.NetPrice().StringFixed(2))

	entry.IsActive = false
	s.Require().NoError(s.reg.Catalog().Upsert(s.ctx, entry))
	_, err = s.reg.Catalog().FindActiveByKey(s.ctx, entry.ServiceKey)
	var repoErr repositories.RepositoryError
	s.Require().True(errors.As(err, &repoErr))
	s.True(repoErr.IsNotFound())

	all, err := s.reg.Catalog().List(s.ctx, repositories.CatalogFilter{})
	s.Require().NoError(err)
	s.Len(all, 1)

	s.Require().NoError(s.reg.Users().Upsert(s.ctx, domain.User{ID: "u_admin", Email: "a@example.com", Role: domain.UserRoleAdmin, IsActive: true}))
	s.Require().NoError(s.reg.Users().Upsert(s.ctx, domain.User{ID: "u_root", Email: "r@example.com", Role: domain.UserRoleSuperAdmin, IsActive: true}))
	s.Require().NoError(s.reg.Users().Upsert(s.ctx, domain.User{ID: "u_off", Email: "o@example.com", Role: domain.UserRoleAdmin, IsActive: false}))
	s.Require().NoError(s.reg.Users().Upsert(s.ctx, domain.User{ID: "u_emp", Email: "e@example.com", Role: domain.UserRoleEmployee, IsActive: true}))

	admins, err := s.reg.Users().ListActiveByRoles(s.ctx, domain.UserRoleAdmin, domain.UserRoleSuperAdmin)
	s.Require().NoError(err)
	s.Require().Len(admins, 2)
	s.Equal("u_admin", admins[0].ID)
	s.Equal("u_root", admins[1].ID)
}

func (s *RegistrySuite) TestCacheVersions() {
	current, err := s.reg.CacheVersions().Current(s.ctx, "orders")
	s.Require().NoError(err)
	s.Zero(current)

	for want := int64(1); want <= 3; want++ {
		got, err := s.reg.CacheVersions().Bump(s.ctx, "orders")
		s.Require().NoError(err)
		s.Equal(want, got)
	}
	other, err := s.reg.CacheVersions().Bump(s.ctx, "order:ord_1")
	s.Require().NoError(err)
	s.Equal(int64(1), other)

	_, err = s.reg.CacheVersions().Bump(s.ctx, "")
	var versionErr *repositories.VersionError
	s.Require().True(errors.As(err, &versionErr))
	s.Equal(repositories.VersionErrorInvalidNamespace, versionErr.Code)
}
