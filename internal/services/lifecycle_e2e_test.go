package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/config"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/sqlstore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories/sqlrepo"
)

type lockedSink struct {
	mu   sync.Mutex
	sent []Notification
}

func (s *lockedSink) Notify(_ context.Context, notification Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, notification)
	return nil
}

type LifecycleSuite struct {
	suite.Suite
	ctx  context.Context
	reg  *sqlrepo.Registry
	svc  OrderLifecycleService
	sink *lockedSink
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

func (s *LifecycleSuite) SetupTest() {
	s.ctx = context.Background()
	db, err := sqlstore.Open(config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:"}, nil)
	s.Require().NoError(err)
	s.Require().NoError(sqlrepo.Migrate(s.ctx, db))
	reg, err := sqlrepo.NewRegistry(db)
	s.Require().NoError(err)
	s.reg = reg

	for _, entry := range []domain.ServiceCatalogEntry{
		{ID: "cat_vg", ServiceKey: "valve_grinding", DisplayNameKey: "catalog.valve_grinding", ItemType: domain.ItemTypeCylinderHead,
			BasePrice: decimal.RequireFromString("600.00"), TaxPercentage: decimal.RequireFromString("16"), IsActive: true, DisplayOrder: 1},
		{ID: "cat_hr", ServiceKey: "head_resurfacing", DisplayNameKey: "catalog.head_resurfacing", ItemType: domain.ItemTypeCylinderHead,
			BasePrice: decimal.RequireFromString("600.40"), IsActive: true, DisplayOrder: 2},
		{ID: "cat_bb", ServiceKey: "block_boring", DisplayNameKey: "catalog.block_boring", ItemType: domain.ItemTypeEngineBlock,
			BasePrice: decimal.RequireFromString("652.40"), IsActive: true, DisplayOrder: 1},
	} {
		s.Require().NoError(reg.Catalog().Upsert(s.ctx, entry))
	}
	s.Require().NoError(reg.Users().Upsert(s.ctx, domain.User{ID: "adm_1", Email: "admin@example.com", Role: domain.UserRoleAdmin, IsActive: true}))

	catalog, err := NewCatalogService(CatalogServiceDeps{Catalog: reg.Catalog()})
	s.Require().NoError(err)
	versions, err := NewCacheVersionService(CacheVersionServiceDeps{Repository: reg.CacheVersions()})
	s.Require().NoError(err)
	s.sink = &lockedSink{}

	svc, err := NewOrderLifecycleService(OrderLifecycleServiceDeps{
		Orders:        reg.Orders(),
		Services:      reg.OrderServices(),
		MotorInfo:     reg.MotorInfo(),
		History:       reg.History(),
		Users:         reg.Users(),
		Catalog:       catalog,
		UnitOfWork:    reg,
		CacheVersions: versions,
		Notifications: s.sink,
	})
	s.Require().NoError(err)
	s.svc = svc
}

func (s *LifecycleSuite) TearDownTest() {
	s.Require().NoError(s.reg.Close(s.ctx))
}

func (s *LifecycleSuite) create() Order {
	order, err := s.svc.CreateOrderWithMotorItems(s.ctx, CreateOrderCommand{
		CustomerID: "cus_1",
		Title:      "Head and block rebuild",
		Categories: []int{3, 1, 2},
		Motor:      MotorInfoInput{Brand: valuePtr("Nissan"), Model: valuePtr("Tsuru")},
		Items: []CreateOrderItemInput{
			{ItemType: "cylinder_head", Components: []string{"valves", "springs", "seals"}},
			{ItemType: "engine_block"},
		},
		Actor: valuePtr("emp_front"),
	})
	s.Require().NoError(err)
	return order
}

func (s *LifecycleSuite) item(order Order, itemType domain.ItemType) domain.OrderItem {
	for _, item := range order.Items {
		if item.ItemType == itemType {
			return item
		}
	}
	s.FailNowf("missing item", "order %s has no %s", order.ID, itemType)
	return domain.OrderItem{}
}

func (s *LifecycleSuite) statusRows(orderID string) []domain.OrderHistory {
	page, err := s.svc.ListHistory(s.ctx, HistoryListFilter{
		OrderID: orderID,
		Fields:  []domain.HistoryField{domain.HistoryFieldStatus},
	})
	s.Require().NoError(err)
	return page.Items
}

func (s *LifecycleSuite) TestEndToEndLifecycle() {
	order := s.create()
	s.Equal(domain.OrderStatusAwaitingReview, order.Status)
	s.Len(s.item(order, domain.ItemTypeCylinderHead).Components, 3)
	s.Empty(s.item(order, domain.ItemTypeEngineBlock).Components)

	order, err := s.svc.SubmitBudget(s.ctx, SubmitBudgetCommand{
		OrderID: order.ID,
		Lines:   []BudgetLine{{OrderItemID: s.item(order, domain.ItemTypeCylinderHead).ID, ServiceKey: "valve_grinding"}},
		Actor:   valuePtr("emp_tech"),
	})
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusAwaitingCustomerApproval, order.Status)
	s.Require().Len(order.Services, 1)
	s.Equal("696.00", order.Services[0].NetPrice.StringFixed(2))

	downPayment := decimal.NewFromInt(200)
	order, err = s.svc.CustomerApproval(s.ctx, CustomerApprovalCommand{
		OrderID:              order.ID,
		AuthorizedServiceIDs: []string{order.Services[0].ID},
		DownPayment:          &downPayment,
		Actor:                valuePtr("cus_1"),
	})
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusReadyForWork, order.Status)
	s.Require().NotNil(order.MotorInfo)
	s.Equal("200.00", order.MotorInfo.DownPayment.StringFixed(2))

	order, err = s.svc.MarkWorkCompleted(s.ctx, CompleteWorkCommand{
		OrderID:             order.ID,
		CompletedServiceIDs: []string{order.Services[0].ID},
		Actor:               valuePtr("emp_tech"),
	})
	s.Require().NoError(err)
	s.Equal("696.00", order.MotorInfo.TotalCost.StringFixed(2))
	s.False(order.MotorInfo.IsFullyPaid)

	order, err = s.svc.MarkReadyForDelivery(s.ctx, OrderActionCommand{OrderID: order.ID, Actor: valuePtr("emp_tech")})
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusReadyForDelivery, order.Status)

	order, err = s.svc.DeliverOrder(s.ctx, OrderActionCommand{OrderID: order.ID, Actor: valuePtr("emp_front")})
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusDelivered, order.Status)

	stored, err := s.svc.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusDelivered, stored.Status)
	s.Equal("Nissan", *stored.MotorInfo.Brand)
	s.Equal("696.00", stored.MotorInfo.TotalCost.StringFixed(2))

	var statuses []string
	for _, row := range s.statusRows(order.ID) {
		statuses = append(statuses, *row.NewValue)
	}
	s.Equal([]string{
		"awaiting_review", "reviewed", "awaiting_customer_approval", "ready_for_work",
		"in_progress", "ready_for_delivery", "delivered",
	}, statuses)

	version, err := s.reg.CacheVersions().Current(s.ctx, OrderCacheNamespace(order.ID))
	s.Require().NoError(err)
	s.EqualValues(6, version)
}

func (s *LifecycleSuite) TestTransitionTableCompleteness() {
	base := s.create()
	now := time.Now().UTC()
	for i, from := range domain.AllOrderStatuses() {
		for _, to := range domain.AllOrderStatuses() {
			if from == to || from.CanTransitionTo(to) {
				continue
			}
			order := base
			order.ID = base.ID + "_" + string(from) + "_" + string(to)
			order.Status = from
			order.Items = nil
			order.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
			s.Require().NoError(s.reg.Orders().Insert(s.ctx, order))

			_, err := s.svc.TransitionStatus(s.ctx, OrderStatusTransitionCommand{
				OrderID:          order.ID,
				TargetStatus:     to,
				ActualCompletion: &now,
			})
			s.Require().ErrorIs(err, ErrInvalidState, "%s -> %s", from, to)

			stored, err := s.reg.Orders().FindByID(s.ctx, order.ID)
			s.Require().NoError(err)
			s.Equal(from, stored.Status, "%s -> %s", from, to)
		}
	}
}

func (s *LifecycleSuite) TestNoOpUpdateAndCategoryOrderWriteNoHistory() {
	order := s.create()
	before, err := s.svc.ListHistory(s.ctx, HistoryListFilter{OrderID: order.ID})
	s.Require().NoError(err)

	_, err = s.svc.UpdateOrder(s.ctx, UpdateOrderCommand{
		OrderID:    order.ID,
		Title:      valuePtr(order.Title),
		Categories: &[]int{2, 1, 3},
		Actor:      valuePtr("emp_front"),
	})
	s.Require().NoError(err)

	after, err := s.svc.ListHistory(s.ctx, HistoryListFilter{OrderID: order.ID})
	s.Require().NoError(err)
	s.Len(after.Items, len(before.Items))

	stored, err := s.reg.Orders().FindByID(s.ctx, order.ID)
	s.Require().NoError(err)
	s.EqualValues(1, stored.Version)
}

func (s *LifecycleSuite) TestTotalsAcrossItems() {
	order := s.create()
	order, err := s.svc.SubmitBudget(s.ctx, SubmitBudgetCommand{
		OrderID: order.ID,
		Lines: []BudgetLine{
			{OrderItemID: s.item(order, domain.ItemTypeCylinderHead).ID, ServiceKey: "head_resurfacing"},
			{OrderItemID: s.item(order, domain.ItemTypeEngineBlock).ID, ServiceKey: "block_boring"},
		},
	})
	s.Require().NoError(err)
	ids := []string{order.Services[0].ID, order.Services[1].ID}

	downPayment := decimal.RequireFromString("1252.80")
	_, err = s.svc.CustomerApproval(s.ctx, CustomerApprovalCommand{OrderID: order.ID, AuthorizedServiceIDs: ids, DownPayment: &downPayment})
	s.Require().NoError(err)
	order, err = s.svc.MarkWorkCompleted(s.ctx, CompleteWorkCommand{OrderID: order.ID, CompletedServiceIDs: ids})
	s.Require().NoError(err)

	info, err := s.reg.MotorInfo().FindByOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal("1252.80", info.TotalCost.StringFixed(2))
	s.True(info.IsFullyPaid)
}

func (s *LifecycleSuite) TestConcurrentCompletionsKeepBothSets() {
	order := s.create()
	order, err := s.svc.SubmitBudget(s.ctx, SubmitBudgetCommand{
		OrderID: order.ID,
		Lines: []BudgetLine{
			{OrderItemID: s.item(order, domain.ItemTypeCylinderHead).ID, ServiceKey: "head_resurfacing"},
			{OrderItemID: s.item(order, domain.ItemTypeEngineBlock).ID, ServiceKey: "block_boring"},
		},
	})
	s.Require().NoError(err)
	first, second := order.Services[0].ID, order.Services[1].ID
	_, err = s.svc.CustomerApproval(s.ctx, CustomerApprovalCommand{OrderID: order.ID, AuthorizedServiceIDs: []string{first, second}})
	s.Require().NoError(err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{first, second} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = s.svc.MarkWorkCompleted(s.ctx, CompleteWorkCommand{
				OrderID:             order.ID,
				CompletedServiceIDs: []string{id},
				Actor:               valuePtr("emp_tech"),
			})
		}(i, id)
	}
	wg.Wait()
	s.Require().NoError(errors.Join(errs...))

	services, err := s.reg.OrderServices().ListByOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	for _, svc := range services {
		s.True(svc.IsCompleted, svc.ID)
	}
	info, err := s.reg.MotorInfo().FindByOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal("1252.80", info.TotalCost.StringFixed(2))
}

func (s *LifecycleSuite) TestSystemTransitionCreatorFallback() {
	order := s.create()

	_, err := s.svc.MarkItemReceived(s.ctx, MarkItemReceivedCommand{
		OrderID:     order.ID,
		OrderItemID: s.item(order, domain.ItemTypeEngineBlock).ID,
	})
	s.Require().NoError(err)
	rows, err := s.svc.ListHistory(s.ctx, HistoryListFilter{
		OrderID: order.ID,
		Fields:  []domain.HistoryField{domain.HistoryFieldItemReceived},
	})
	s.Require().NoError(err)
	s.Require().Len(rows.Items, 1)
	s.Equal("emp_front", rows.Items[0].CreatedBy)

	_, err = s.svc.UpdateOrder(s.ctx, UpdateOrderCommand{OrderID: order.ID, Notes: valuePtr("rush"), Actor: valuePtr("emp_lead")})
	s.Require().NoError(err)
	_, err = s.svc.TransitionStatus(s.ctx, OrderStatusTransitionCommand{OrderID: order.ID, TargetStatus: domain.OrderStatusCancelled})
	s.Require().NoError(err)

	status := s.statusRows(order.ID)
	last := status[len(status)-1]
	s.Equal("cancelled", *last.NewValue)
	s.Equal("emp_lead", last.CreatedBy)
}

func (s *LifecycleSuite) TestFailedOperationRollsBack() {
	order := s.create()
	head := s.item(order, domain.ItemTypeCylinderHead)

	_, err := s.svc.SubmitBudget(s.ctx, SubmitBudgetCommand{
		OrderID: order.ID,
		Lines: []BudgetLine{
			{OrderItemID: head.ID, ServiceKey: "valve_grinding"},
			{OrderItemID: head.ID, ServiceKey: "block_boring"},
		},
	})
	s.Require().ErrorIs(err, ErrValidation)

	services, err := s.reg.OrderServices().ListByOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Empty(services)
	s.Len(s.statusRows(order.ID), 1)
}
