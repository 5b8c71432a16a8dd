package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/sqlstore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

type memoryOrders struct {
	rows     map[string]domain.Order
	updateFn func(ctx context.Context, order domain.Order, expectedVersion int64) error
	updates  int
	inserts  int
}

func newMemoryOrders() *memoryOrders {
	return &memoryOrders{rows: map[string]domain.Order{}}
}

func (m *memoryOrders) Insert(_ context.Context, order domain.Order) error {
	if _, ok := m.rows[order.ID]; ok {
		return sqlstore.Conflict("orders.insert", "order exists")
	}
	m.inserts++
	order.Items = cloneItems(order.Items)
	m.rows[order.ID] = order
	return nil
}

func (m *memoryOrders) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := m.rows[orderID]
	if !ok {
		return domain.Order{}, sqlstore.NotFound("orders.find", "order not found")
	}
	order.Items = cloneItems(order.Items)
	return order, nil
}

func (m *memoryOrders) LockByID(ctx context.Context, orderID string) (domain.Order, error) {
	return m.FindByID(ctx, orderID)
}

func (m *memoryOrders) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	if m.updateFn != nil {
		if err := m.updateFn(ctx, order, expectedVersion); err != nil {
			return err
		}
	}
	stored, ok := m.rows[order.ID]
	if !ok {
		return sqlstore.NotFound("orders.update", "order not found")
	}
	if stored.Version != expectedVersion {
		return sqlstore.Conflict("orders.update", "version mismatch")
	}
	m.updates++
	order.Items = stored.Items
	order.Version = expectedVersion + 1
	m.rows[order.ID] = order
	return nil
}

func (m *memoryOrders) UpdateItem(_ context.Context, item domain.OrderItem) error {
	order, ok := m.rows[item.OrderID]
	if !ok {
		return sqlstore.NotFound("order_items.update", "order not found")
	}
	items := cloneItems(order.Items)
	idx := slices.IndexFunc(items, func(i domain.OrderItem) bool { return i.ID == item.ID })
	if idx < 0 {
		return sqlstore.NotFound("order_items.update", "item not found")
	}
	items[idx] = item
	order.Items = items
	m.rows[item.OrderID] = order
	return nil
}

func (m *memoryOrders) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	var out []domain.Order
	for _, order := range m.rows {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		out = append(out, order)
	}
	return domain.CursorPage[domain.Order]{Items: out}, nil
}

type memoryServices struct {
	rows map[string][]domain.OrderService
}

func (m *memoryServices) Insert(_ context.Context, services ...domain.OrderService) error {
	if m.rows == nil {
		m.rows = map[string][]domain.OrderService{}
	}
	for _, svc := range services {
		m.rows[svc.OrderID] = append(m.rows[svc.OrderID], svc)
	}
	return nil
}

func (m *memoryServices) Update(_ context.Context, service domain.OrderService) error {
	rows := m.rows[service.OrderID]
	idx := slices.IndexFunc(rows, func(s domain.OrderService) bool { return s.ID == service.ID })
	if idx < 0 {
		return sqlstore.NotFound("order_services.update", "service not found")
	}
	rows[idx] = service
	return nil
}

func (m *memoryServices) ListByOrder(_ context.Context, orderID string) ([]domain.OrderService, error) {
	return slices.Clone(m.rows[orderID]), nil
}

type stubCatalog struct {
	entries map[string]domain.ServiceCatalogEntry
}

func (s *stubCatalog) ListServices(context.Context, CatalogFilter) ([]ServiceCatalogEntry, error) {
	var out []ServiceCatalogEntry
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	return out, nil
}

func (s *stubCatalog) FindActiveServiceByKey(_ context.Context, key string) (ServiceCatalogEntry, error) {
	entry, ok := s.entries[key]
	if !ok || !entry.IsActive {
		return ServiceCatalogEntry{}, &NotFoundError{Resource: "service catalog entry", ID: key}
	}
	return entry, nil
}

type stubUsers struct {
	listFn func(ctx context.Context, roles ...domain.UserRole) ([]domain.User, error)
}

func (s *stubUsers) ListActiveByRoles(ctx context.Context, roles ...domain.UserRole) ([]domain.User, error) {
	if s.listFn != nil {
		return s.listFn(ctx, roles...)
	}
	return []domain.User{{ID: "adm_1", Role: domain.UserRoleAdmin, IsActive: true}}, nil
}

func (s *stubUsers) Upsert(context.Context, domain.User) error { return nil }

type stubNotificationSink struct {
	notifyFn func(ctx context.Context, notification Notification) error
	sent     []Notification
}

func (s *stubNotificationSink) Notify(ctx context.Context, notification Notification) error {
	if s.notifyFn != nil {
		if err := s.notifyFn(ctx, notification); err != nil {
			return err
		}
	}
	s.sent = append(s.sent, notification)
	return nil
}

type stubAttachments struct {
	items []domain.Attachment
	err   error
}

func (s *stubAttachments) ListAttachments(context.Context, string) ([]Attachment, error) {
	return s.items, s.err
}

type loggedEvent struct {
	event  string
	fields map[string]any
}

type lifecycleHarness struct {
	svc         OrderLifecycleService
	orders      *memoryOrders
	services    *memoryServices
	motor       *stubMotorInfoRepo
	history     *stubHistoryRepo
	catalog     *stubCatalog
	users       *stubUsers
	versions    *stubCacheVersions
	sink        *stubNotificationSink
	attachments *stubAttachments
	logs        []loggedEvent
	now         time.Time
}

func newLifecycleHarness(t *testing.T) *lifecycleHarness {
	t.Helper()
	h := &lifecycleHarness{
		orders:   newMemoryOrders(),
		services: &memoryServices{},
		motor:    &stubMotorInfoRepo{},
		history:  &stubHistoryRepo{},
		catalog: &stubCatalog{entries: map[string]domain.ServiceCatalogEntry{
			"valve_grinding": {
				ID: "cat_1", ServiceKey: "valve_grinding", ItemType: domain.ItemTypeCylinderHead,
				BasePrice: decimal.RequireFromString("600.00"), TaxPercentage: decimal.RequireFromString("16"), IsActive: true,
			},
			"head_resurfacing": {
				ID: "cat_2", ServiceKey: "head_resurfacing", ItemType: domain.ItemTypeCylinderHead,
				BasePrice: decimal.RequireFromString("600.40"), IsActive: true,
			},
			"block_boring": {
				ID: "cat_3", ServiceKey: "block_boring", ItemType: domain.ItemTypeEngineBlock,
				BasePrice: decimal.RequireFromString("652.40"), RequiresMeasurement: true, IsActive: true,
			},
			"retired": {
				ID: "cat_4", ServiceKey: "retired", ItemType: domain.ItemTypeEngineBlock,
				BasePrice: decimal.RequireFromString("10"), IsActive: false,
			},
		}},
		users:       &stubUsers{},
		versions:    &stubCacheVersions{},
		sink:        &stubNotificationSink{},
		attachments: &stubAttachments{},
		now:         time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	seq := 0
	svc, err := NewOrderLifecycleService(OrderLifecycleServiceDeps{
		Orders:        h.orders,
		Services:      h.services,
		MotorInfo:     h.motor,
		History:       h.history,
		Users:         h.users,
		Catalog:       h.catalog,
		CacheVersions: h.versions,
		Notifications: h.sink,
		Attachments:   h.attachments,
		Correlator:    NewAttachmentCorrelator(0),
		Clock:         func() time.Time { return h.now },
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("%04d", seq)
		},
		Logger: func(_ context.Context, event string, fields map[string]any) {
			h.logs = append(h.logs, loggedEvent{event: event, fields: fields})
		},
	})
	if err != nil {
		t.Fatalf("NewOrderLifecycleService: %v", err)
	}
	h.svc = svc
	return h
}

func (h *lifecycleHarness) createOrder(t *testing.T) Order {
	t.Helper()
	order, err := h.svc.CreateOrderWithMotorItems(context.Background(), CreateOrderCommand{
		CustomerID: "cus_1",
		Title:      "Head and block rebuild",
		AssignedTo: valuePtr("emp_tech"),
		Categories: []int{2, 1},
		Motor: MotorInfoInput{
			Brand:  valuePtr("Nissan"),
			Liters: valuePtr("1.6"),
		},
		Items: []CreateOrderItemInput{
			{ItemType: "cylinder_head", Components: []string{"valves", "springs"}},
			{ItemType: "engine_block"},
		},
		Actor: valuePtr("emp_front"),
	})
	if err != nil {
		t.Fatalf("CreateOrderWithMotorItems: %v", err)
	}
	return order
}

func itemOfType(t *testing.T, order Order, itemType domain.ItemType) domain.OrderItem {
	t.Helper()
	for _, item := range order.Items {
		if item.ItemType == itemType {
			return item
		}
	}
	t.Fatalf("order %s has no %s item", order.ID, itemType)
	return domain.OrderItem{}
}

func historyRows(entries []domain.OrderHistory, field domain.HistoryField) []domain.OrderHistory {
	var out []domain.OrderHistory
	for _, entry := range entries {
		if entry.FieldChanged == field {
			out = append(out, entry)
		}
	}
	return out
}

// budgetedOrder drives a fresh order to ready_for_work with the given services authorised.
func (h *lifecycleHarness) budgetedOrder(t *testing.T, downPayment string) (Order, []domain.OrderService) {
	t.Helper()
	ctx := context.Background()
	order := h.createOrder(t)
	head := itemOfType(t, order, domain.ItemTypeCylinderHead)
	block := itemOfType(t, order, domain.ItemTypeEngineBlock)

	order, err := h.svc.SubmitBudget(ctx, SubmitBudgetCommand{
		OrderID: order.ID,
		Lines: []BudgetLine{
			{OrderItemID: head.ID, ServiceKey: "head_resurfacing"},
			{OrderItemID: block.ID, ServiceKey: "block_boring", Measurement: valuePtr("0.020")},
		},
		Actor: valuePtr("emp_tech"),
	})
	if err != nil {
		t.Fatalf("SubmitBudget: %v", err)
	}
	ids := []string{order.Services[0].ID, order.Services[1].ID}
	dp := decimal.RequireFromString(downPayment)
	order, err = h.svc.CustomerApproval(ctx, CustomerApprovalCommand{
		OrderID:              order.ID,
		AuthorizedServiceIDs: ids,
		DownPayment:          &dp,
	})
	if err != nil {
		t.Fatalf("CustomerApproval: %v", err)
	}
	return order, order.Services
}

func TestCreateOrderWithMotorItemsLandsInAwaitingReview(t *testing.T) {
	h := newLifecycleHarness(t)
	order := h.createOrder(t)

	if order.Status != domain.OrderStatusAwaitingReview {
		t.Fatalf("expected awaiting_review, got %s", order.Status)
	}
	if order.Version != 1 || order.CreatedBy != "emp_front" {
		t.Fatalf("unexpected version/creator: %d %q", order.Version, order.CreatedBy)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected two items, got %d", len(order.Items))
	}
	head := itemOfType(t, order, domain.ItemTypeCylinderHead)
	if len(head.Components) != 2 || head.IsReceived {
		t.Fatalf("unexpected head item %+v", head)
	}
	if order.MotorInfo == nil || order.MotorInfo.Brand == nil || *order.MotorInfo.Brand != "Nissan" {
		t.Fatalf("expected motor info with brand, got %+v", order.MotorInfo)
	}
	if !order.MotorInfo.TotalCost.IsZero() || !order.MotorInfo.DownPayment.IsZero() {
		t.Fatalf("expected zero totals, got %+v", order.MotorInfo)
	}

	statusRows := historyRows(h.history.appended, domain.HistoryFieldStatus)
	if len(statusRows) != 1 {
		t.Fatalf("expected one status row, got %d", len(statusRows))
	}
	if *statusRows[0].OldValue != "received" || *statusRows[0].NewValue != "awaiting_review" {
		t.Fatalf("unexpected status row %q -> %q", *statusRows[0].OldValue, *statusRows[0].NewValue)
	}
	if len(order.History) != len(h.history.appended) {
		t.Fatalf("expected history attached to result")
	}
	if order.History[0].Description == "" {
		t.Fatalf("expected described history")
	}

	if len(h.sink.sent) != 1 || h.sink.sent[0].EventType != EventOrderCreated {
		t.Fatalf("expected created notification, got %+v", h.sink.sent)
	}
	if !slices.Equal(h.sink.sent[0].Recipients, []string{"cus_1"}) {
		t.Fatalf("expected customer recipient, got %v", h.sink.sent[0].Recipients)
	}
	if !slices.Contains(h.versions.bumped, order.ID) {
		t.Fatalf("expected cache invalidation for %s", order.ID)
	}
}

func TestCreateOrderWithoutActorIsAttributedToSystem(t *testing.T) {
	h := newLifecycleHarness(t)
	order, err := h.svc.CreateOrderWithMotorItems(context.Background(), CreateOrderCommand{
		CustomerID: "cus_1",
		Title:      "<b>Crankshaft</b> polish",
		Items:      []CreateOrderItemInput{{ItemType: "crankshaft"}},
	})
	if err != nil {
		t.Fatalf("CreateOrderWithMotorItems: %v", err)
	}
	if order.CreatedBy != "system" {
		t.Fatalf("expected system creator, got %q", order.CreatedBy)
	}
	if order.Title != "Crankshaft polish" {
		t.Fatalf("expected markup stripped, got %q", order.Title)
	}
	if h.history.appended[0].CreatedBy != "system" {
		t.Fatalf("expected history attributed to system, got %q", h.history.appended[0].CreatedBy)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	h := newLifecycleHarness(t)
	cases := []CreateOrderCommand{
		{Title: "missing customer"},
		{CustomerID: "cus_1", Title: "   "},
		{CustomerID: "cus_1", Title: "dup", Items: []CreateOrderItemInput{{ItemType: "engine_block"}, {ItemType: "ENGINE_BLOCK"}}},
		{CustomerID: "cus_1", Title: "bad type", Items: []CreateOrderItemInput{{ItemType: "turbo"}}},
		{CustomerID: "cus_1", Title: "dup component", Items: []CreateOrderItemInput{{ItemType: "cylinder_head", Components: []string{"valves", "Valves"}}}},
		{CustomerID: "cus_1", Title: "negative", Motor: MotorInfoInput{DownPayment: valuePtr(decimal.NewFromInt(-1))}},
	}
	for i, cmd := range cases {
		if _, err := h.svc.CreateOrderWithMotorItems(context.Background(), cmd); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if h.orders.inserts != 0 || len(h.sink.sent) != 0 {
		t.Fatalf("rejected commands must not persist or notify")
	}
}

func TestSubmitBudgetSnapshotsPricesAndCascadesReview(t *testing.T) {
	h := newLifecycleHarness(t)
	order := h.createOrder(t)
	head := itemOfType(t, order, domain.ItemTypeCylinderHead)

	order, err := h.svc.SubmitBudget(context.Background(), SubmitBudgetCommand{
		OrderID: order.ID,
		Lines:   []BudgetLine{{OrderItemID: head.ID, ServiceKey: "valve_grinding", Notes: valuePtr("check seats")}},
		Actor:   valuePtr("emp_tech"),
	})
	if err != nil {
		t.Fatalf("SubmitBudget: %v", err)
	}
	if order.Status != domain.OrderStatusAwaitingCustomerApproval {
		t.Fatalf("expected awaiting_customer_approval, got %s", order.Status)
	}
	if len(order.Services) != 1 {
		t.Fatalf("expected one service, got %d", len(order.Services))
	}
	svc := order.Services[0]
	if svc.NetPrice.StringFixed(2) != "696.00" || svc.BasePrice.StringFixed(2) != "600.00" {
		t.Fatalf("unexpected prices base=%s net=%s", svc.BasePrice, svc.NetPrice)
	}
	if !svc.IsBudgeted || svc.IsAuthorized || svc.IsCompleted {
		t.Fatalf("unexpected flags %+v", svc)
	}

	statusRows := historyRows(h.history.appended, domain.HistoryFieldStatus)
	if len(statusRows) != 3 {
		t.Fatalf("expected a status row per hop, got %d", len(statusRows))
	}
	if *statusRows[1].NewValue != "reviewed" || *statusRows[2].NewValue != "awaiting_customer_approval" {
		t.Fatalf("unexpected hops %q, %q", *statusRows[1].NewValue, *statusRows[2].NewValue)
	}
	if rows := historyRows(h.history.appended, domain.HistoryFieldServiceBudgeted); len(rows) != 1 || rows[0].CreatedBy != "emp_tech" {
		t.Fatalf("expected one budget row by emp_tech, got %+v", rows)
	}
	if order.Version != 2 {
		t.Fatalf("expected version 2, got %d", order.Version)
	}
}

func TestSubmitBudgetRejectsInvalidLines(t *testing.T) {
	h := newLifecycleHarness(t)
	order := h.createOrder(t)
	head := itemOfType(t, order, domain.ItemTypeCylinderHead)
	block := itemOfType(t, order, domain.ItemTypeEngineBlock)

	cases := []struct {
		name  string
		lines []BudgetLine
		want  error
	}{
		{"empty", nil, ErrValidation},
		{"unknown item", []BudgetLine{{OrderItemID: "itm_missing", ServiceKey: "valve_grinding"}}, ErrNotFound},
		{"unknown service", []BudgetLine{{OrderItemID: head.ID, ServiceKey: "nope"}}, ErrNotFound},
		{"inactive service", []BudgetLine{{OrderItemID: block.ID, ServiceKey: "retired"}}, ErrNotFound},
		{"item type mismatch", []BudgetLine{{OrderItemID: block.ID, ServiceKey: "valve_grinding"}}, ErrValidation},
		{"missing measurement", []BudgetLine{{OrderItemID: block.ID, ServiceKey: "block_boring"}}, ErrValidation},
		{"duplicate", []BudgetLine{
			{OrderItemID: head.ID, ServiceKey: "valve_grinding"},
			{OrderItemID: head.ID, ServiceKey: "valve_grinding"},
		}, ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.SubmitBudget(context.Background(), SubmitBudgetCommand{OrderID: order.ID, Lines: tc.lines})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	stored, _ := h.orders.FindByID(context.Background(), order.ID)
	if stored.Status != domain.OrderStatusAwaitingReview || stored.Version != 1 {
		t.Fatalf("rejected budgets must not change the order, got %s v%d", stored.Status, stored.Version)
	}
	if len(h.services.rows[order.ID]) != 0 {
		t.Fatalf("rejected budgets must not insert services")
	}
}

func TestSubmitBudgetRequiresReviewStatus(t *testing.T) {
	h := newLifecycleHarness(t)
	order, _ := h.budgetedOrder(t, "0")
	head := itemOfType(t, order, domain.ItemTypeCylinderHead)

	_, err := h.svc.SubmitBudget(context.Background(), SubmitBudgetCommand{
		OrderID: order.ID,
		Lines:   []BudgetLine{{OrderItemID: head.ID, ServiceKey: "valve_grinding"}},
	})
	var stateErr *InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if stateErr.Current != domain.OrderStatusReadyForWork {
		t.Fatalf("expected current ready_for_work, got %s", stateErr.Current)
	}
}

func TestCustomerApprovalRecordsDownPayment(t *testing.T) {
	h := newLifecycleHarness(t)
	order, services := h.budgetedOrder(t, "200")

	if order.Status != domain.OrderStatusReadyForWork {
		t.Fatalf("expected ready_for_work, got %s", order.Status)
	}
	for _, svc := range services {
		if !svc.IsAuthorized {
			t.Fatalf("expected service %s authorised", svc.ID)
		}
	}
	if order.MotorInfo == nil || order.MotorInfo.DownPayment.StringFixed(2) != "200.00" {
		t.Fatalf("expected down payment 200.00, got %+v", order.MotorInfo)
	}
	if !order.MotorInfo.IsFullyPaid || !order.MotorInfo.TotalCost.IsZero() {
		t.Fatalf("nothing is completed yet so 200 covers a zero total, got %+v", order.MotorInfo)
	}
	rows := historyRows(h.history.appended, domain.HistoryFieldDownPayment)
	if len(rows) != 1 || *rows[0].OldValue != "0.00" || *rows[0].NewValue != "200.00" {
		t.Fatalf("unexpected down payment rows %+v", rows)
	}
	// Without an actor the order's last updater is credited.
	if rows[0].CreatedBy != "emp_tech" {
		t.Fatalf("expected fallback to last updater, got %q", rows[0].CreatedBy)
	}

	last := h.sink.sent[len(h.sink.sent)-1]
	if last.EventType != EventOrderApproved {
		t.Fatalf("expected approval notification, got %s", last.EventType)
	}
	if !slices.Equal(last.Recipients, []string{"adm_1", "emp_tech"}) {
		t.Fatalf("expected admins and assignee, got %v", last.Recipients)
	}
}

func TestCustomerApprovalRejectsUnbudgetedService(t *testing.T) {
	h := newLifecycleHarness(t)
	order := h.createOrder(t)
	head := itemOfType(t, order, domain.ItemTypeCylinderHead)
	order, err := h.svc.SubmitBudget(context.Background(), SubmitBudgetCommand{
		OrderID: order.ID,
		Lines:   []BudgetLine{{OrderItemID: head.ID, ServiceKey: "valve_grinding"}},
	})
	if err != nil {
		t.Fatalf("SubmitBudget: %v", err)
	}

	_, err = h.svc.CustomerApproval(context.Background(), CustomerApprovalCommand{
		OrderID:              order.ID,
		AuthorizedServiceIDs: []string{"svc_unknown"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	negative := decimal.NewFromInt(-5)
	_, err = h.svc.CustomerApproval(context.Background(), CustomerApprovalCommand{OrderID: order.ID, DownPayment: &negative})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMarkWorkCompletedRecalculatesTotals(t *testing.T) {
	h := newLifecycleHarness(t)
	order, services := h.budgetedOrder(t, "1252.79")

	order, err := h.svc.MarkWorkCompleted(context.Background(), CompleteWorkCommand{
		OrderID:             order.ID,
		CompletedServiceIDs: []string{services[0].ID, services[1].ID},
		Actor:               valuePtr("emp_tech"),
	})
	if err != nil {
		t.Fatalf("MarkWorkCompleted: %v", err)
	}
	if order.Status != domain.OrderStatusReadyForWork {
		t.Fatalf("completing services must not move the status, got %s", order.Status)
	}
	if got := order.MotorInfo.TotalCost.StringFixed(2); got != "1252.80" {
		t.Fatalf("expected total 1252.80, got %s", got)
	}
	if order.MotorInfo.IsFullyPaid {
		t.Fatalf("1252.79 does not cover 1252.80")
	}
	if rows := historyRows(h.history.appended, domain.HistoryFieldServiceCompleted); len(rows) != 2 {
		t.Fatalf("expected two completion rows, got %d", len(rows))
	}

	// Paying the remaining cent flips the flag.
	order, err = h.svc.UpdateMotorInfo(context.Background(), UpdateMotorInfoCommand{
		OrderID: order.ID,
		Motor:   MotorInfoInput{DownPayment: valuePtr(decimal.RequireFromString("1252.80"))},
	})
	if err != nil {
		t.Fatalf("UpdateMotorInfo: %v", err)
	}
	if !order.MotorInfo.IsFullyPaid {
		t.Fatalf("expected fully paid after covering the total")
	}
}

func TestMarkWorkCompletedIsIdempotent(t *testing.T) {
	h := newLifecycleHarness(t)
	order, services := h.budgetedOrder(t, "0")
	cmd := CompleteWorkCommand{OrderID: order.ID, CompletedServiceIDs: []string{services[0].ID}}

	if _, err := h.svc.MarkWorkCompleted(context.Background(), cmd); err != nil {
		t.Fatalf("MarkWorkCompleted: %v", err)
	}
	updates := h.orders.updates
	rows := len(h.history.appended)
	sent := len(h.sink.sent)

	if _, err := h.svc.MarkWorkCompleted(context.Background(), cmd); err != nil {
		t.Fatalf("MarkWorkCompleted again: %v", err)
	}
	if h.orders.updates != updates || len(h.history.appended) != rows || len(h.sink.sent) != sent {
		t.Fatalf("repeating a completion must not write or notify")
	}
}

func TestMarkWorkCompletedRejectsUnauthorisedService(t *testing.T) {
	h := newLifecycleHarness(t)
	order := h.createOrder(t)
	head := itemOfType(t, order, domain.ItemTypeCylinderHead)
	order, err := h.svc.SubmitBudget(context.Background(), SubmitBudgetCommand{
		OrderID: order.ID,
		Lines:   []BudgetLine{{OrderItemID: head.ID, ServiceKey: "valve_grinding"}},
	})
	if err != nil {
		t.Fatalf("SubmitBudget: %v", err)
	}
	_, err = h.svc.CustomerApproval(context.Background(), CustomerApprovalCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("CustomerApproval: %v", err)
	}

	_, err = h.svc.MarkWorkCompleted(context.Background(), CompleteWorkCommand{
		OrderID:             order.ID,
		CompletedServiceIDs: []string{order.Services[0].ID},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMarkReadyForDeliveryPassesThroughInProgress(t *testing.T) {
	h := newLifecycleHarness(t)
	order, _ := h.budgetedOrder(t, "0")
	before := len(historyRows(h.history.appended, domain.HistoryFieldStatus))

	order, err := h.svc.MarkReadyForDelivery(context.Background(), OrderActionCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("MarkReadyForDelivery: %v", err)
	}
	if order.Status != domain.OrderStatusReadyForDelivery {
		t.Fatalf("expected ready_for_delivery, got %s", order.Status)
	}
	rows := historyRows(h.history.appended, domain.HistoryFieldStatus)[before:]
	if len(rows) != 2 || *rows[0].NewValue != "in_progress" || *rows[1].NewValue != "ready_for_delivery" {
		t.Fatalf("expected two hops, got %+v", rows)
	}

	order, err = h.svc.DeliverOrder(context.Background(), OrderActionCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("DeliverOrder: %v", err)
	}
	if order.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", order.Status)
	}
	last := h.sink.sent[len(h.sink.sent)-1]
	if last.EventType != EventOrderDelivered || !slices.Equal(last.Recipients, []string{"cus_1", "adm_1"}) {
		t.Fatalf("unexpected delivery notification %+v", last)
	}
}

func TestDeliverOrderRequiresReadyForDelivery(t *testing.T) {
	h := newLifecycleHarness(t)
	order := h.createOrder(t)
	_, err := h.svc.DeliverOrder(context.Background(), OrderActionCommand{OrderID: order.ID})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	_, err = h.svc.DeliverOrder(context.Background(), OrderActionCommand{OrderID: "ord_missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransitionStatusFollowsTable(t *testing.T) {
	h := newLifecycleHarness(t)
	order := h.createOrder(t)
	ctx := context.Background()

	if _, err := h.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: order.ID, TargetStatus: "bogus"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := h.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: order.ID, TargetStatus: domain.OrderStatusDelivered}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	expected := domain.OrderStatusReviewed
	if _, err := h.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID: order.ID, TargetStatus: domain.OrderStatusCancelled, ExpectedStatus: &expected,
	}); !errors.Is(err, ErrConcurrency) {
		t.Fatalf("expected concurrency error, got %v", err)
	}

	order, err := h.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      order.ID,
		TargetStatus: domain.OrderStatusCancelled,
		Comment:      valuePtr("customer withdrew"),
		Actor:        valuePtr("emp_front"),
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}
	rows := historyRows(h.history.appended, domain.HistoryFieldStatus)
	last := rows[len(rows)-1]
	if last.Comment == nil || *last.Comment != "customer withdrew" {
		t.Fatalf("expected comment on status row, got %v", last.Comment)
	}
	if _, err := h.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: order.ID, TargetStatus: domain.OrderStatusAwaitingReview}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("terminal status must reject transitions, got %v", err)
	}
}

func TestTransitionStatusCompletedRequiresActualCompletion(t *testing.T) {
	h := newLifecycleHarness(t)
	order, _ := h.budgetedOrder(t, "0")
	ctx := context.Background()
	order, err := h.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: order.ID, TargetStatus: domain.OrderStatusInProgress})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}

	if _, err := h.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: order.ID, TargetStatus: domain.OrderStatusCompleted}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	done := h.now.Add(2 * time.Hour)
	order, err = h.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID: order.ID, TargetStatus: domain.OrderStatusCompleted, ActualCompletion: &done,
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if order.ActualCompletion == nil || !order.ActualCompletion.Equal(done) {
		t.Fatalf("expected actual completion %v, got %v", done, order.ActualCompletion)
	}
}

func TestUpdateOrderWithoutChangesWritesNothing(t *testing.T) {
	h := newLifecycleHarness(t)
	order := h.createOrder(t)
	updates := h.orders.updates
	rows := len(h.history.appended)
	bumps := len(h.versions.bumped)

	order, err := h.svc.UpdateOrder(context.Background(), UpdateOrderCommand{
		OrderID:    order.ID,
		Title:      valuePtr("  Head and block rebuild "),
		Categories: &[]int{1, 2, 2},
	})
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if h.orders.updates != updates || len(h.history.appended) != rows || len(h.versions.bumped) != bumps {
		t.Fatalf("a no-op update must not write, audit or invalidate")
	}
	if order.Version != 1 {
		t.Fatalf("expected version to stay 1, got %d", order.Version)
	}
}

func TestUpdateOrderRecordsTrackedFields(t *testing.T) {
	h := newLifecycleHarness(t)
	order := h.createOrder(t)
	priority := domain.OrderPriorityUrgent

	order, err := h.svc.UpdateOrder(context.Background(), UpdateOrderCommand{
		OrderID:         order.ID,
		Priority:        &priority,
		Notes:           valuePtr("<script>x</script>call first"),
		ClearAssignedTo: true,
		Comment:         valuePtr("customer called"),
		Actor:           valuePtr("emp_front"),
	})
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if order.AssignedTo != nil || order.Priority != domain.OrderPriorityUrgent {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.Notes == nil || *order.Notes != "call first" {
		t.Fatalf("expected sanitised notes, got %v", order.Notes)
	}
	fields := []domain.HistoryField{domain.HistoryFieldPriority, domain.HistoryFieldAssignedTo, domain.HistoryFieldNotes}
	tail := h.history.appended[len(h.history.appended)-len(fields):]
	for i, field := range fields {
		if tail[i].FieldChanged != field {
			t.Fatalf("row %d: expected %s, got %s", i, field, tail[i].FieldChanged)
		}
		if tail[i].Comment == nil || *tail[i].Comment != "customer called" {
			t.Fatalf("row %d: expected comment", i)
		}
	}
	if tail[1].NewValue != nil || *tail[1].OldValue != "emp_tech" {
		t.Fatalf("expected assignee removal row, got %+v", tail[1])
	}
	if _, err := h.svc.UpdateOrder(context.Background(), UpdateOrderCommand{OrderID: order.ID, Title: valuePtr("  ")}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for blank title, got %v", err)
	}
}

func TestUpdateMotorInfoDescriptorsOnly(t *testing.T) {
	h := newLifecycleHarness(t)
	order := h.createOrder(t)
	rows := len(h.history.appended)

	order, err := h.svc.UpdateMotorInfo(context.Background(), UpdateMotorInfoCommand{
		OrderID: order.ID,
		Motor:   MotorInfoInput{Model: valuePtr("Sentra"), Year: valuePtr("2012")},
	})
	if err != nil {
		t.Fatalf("UpdateMotorInfo: %v", err)
	}
	if order.MotorInfo.Model == nil || *order.MotorInfo.Model != "Sentra" || *order.MotorInfo.Brand != "Nissan" {
		t.Fatalf("expected merged descriptors, got %+v", order.MotorInfo)
	}
	if len(h.history.appended) != rows {
		t.Fatalf("descriptor edits are not audited")
	}
}

func TestMarkItemReceivedFlipsFlagsOnce(t *testing.T) {
	h := newLifecycleHarness(t)
	order := h.createOrder(t)
	head := itemOfType(t, order, domain.ItemTypeCylinderHead)
	cmd := MarkItemReceivedCommand{OrderID: order.ID, OrderItemID: head.ID, ComponentNames: []string{"VALVES"}}

	order, err := h.svc.MarkItemReceived(context.Background(), cmd)
	if err != nil {
		t.Fatalf("MarkItemReceived: %v", err)
	}
	head = itemOfType(t, order, domain.ItemTypeCylinderHead)
	if !head.IsReceived || !head.Components[0].IsReceived || head.Components[1].IsReceived {
		t.Fatalf("unexpected receipt flags %+v", head)
	}
	stored, _ := h.orders.FindByID(context.Background(), order.ID)
	if !itemOfType(t, stored, domain.ItemTypeCylinderHead).IsReceived {
		t.Fatalf("expected receipt persisted")
	}
	if len(historyRows(h.history.appended, domain.HistoryFieldItemReceived)) != 1 ||
		len(historyRows(h.history.appended, domain.HistoryFieldComponentReceived)) != 1 {
		t.Fatalf("expected one item and one component row")
	}

	rows := len(h.history.appended)
	if _, err := h.svc.MarkItemReceived(context.Background(), cmd); err != nil {
		t.Fatalf("MarkItemReceived again: %v", err)
	}
	if len(h.history.appended) != rows {
		t.Fatalf("repeating a receipt must not audit")
	}

	cmd.ComponentNames = []string{"pistons"}
	if _, err := h.svc.MarkItemReceived(context.Background(), cmd); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown component, got %v", err)
	}
}

func TestNotificationFailureDoesNotFailTheOperation(t *testing.T) {
	h := newLifecycleHarness(t)
	h.sink.notifyFn = func(context.Context, Notification) error { return errors.New("broker down") }
	h.versions.bumpErr = errors.New("redis down")

	order := h.createOrder(t)
	if order.Status != domain.OrderStatusAwaitingReview {
		t.Fatalf("expected committed order, got %s", order.Status)
	}
	events := make([]string, 0, len(h.logs))
	for _, entry := range h.logs {
		events = append(events, entry.event)
	}
	if !slices.Contains(events, "order.notification.failed") || !slices.Contains(events, "order.cache.invalidate.failed") {
		t.Fatalf("expected side effect failures logged, got %v", events)
	}
}

func TestAdminLookupFailureStillNotifiesOthers(t *testing.T) {
	h := newLifecycleHarness(t)
	h.users.listFn = func(context.Context, ...domain.UserRole) ([]domain.User, error) {
		return nil, errors.New("directory unavailable")
	}
	order, _ := h.budgetedOrder(t, "0")
	if _, err := h.svc.DeliverOrder(context.Background(), OrderActionCommand{OrderID: order.ID}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	last := h.sink.sent[len(h.sink.sent)-1]
	if last.EventType != EventOrderApproved || !slices.Equal(last.Recipients, []string{"emp_tech"}) {
		t.Fatalf("expected assignee-only approval notification, got %+v", last)
	}
}

func TestVersionConflictSkipsSideEffects(t *testing.T) {
	h := newLifecycleHarness(t)
	order := h.createOrder(t)
	sent := len(h.sink.sent)
	bumps := len(h.versions.bumped)
	h.orders.updateFn = func(context.Context, domain.Order, int64) error {
		return sqlstore.Conflict("orders.update", "version mismatch")
	}

	_, err := h.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: order.ID, TargetStatus: domain.OrderStatusCancelled,
	})
	if !errors.Is(err, ErrConcurrency) {
		t.Fatalf("expected concurrency error, got %v", err)
	}
	if len(h.sink.sent) != sent || len(h.versions.bumped) != bumps {
		t.Fatalf("failed writes must not notify or invalidate")
	}
}

func TestGetOrderHidesSoftDeleted(t *testing.T) {
	h := newLifecycleHarness(t)
	order := h.createOrder(t)

	got, err := h.svc.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.MotorInfo == nil || len(got.History) == 0 {
		t.Fatalf("expected full aggregate, got %+v", got)
	}

	stored := h.orders.rows[order.ID]
	stored.DeletedAt = valuePtr(h.now)
	h.orders.rows[order.ID] = stored
	if _, err := h.svc.GetOrder(context.Background(), order.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.svc.UpdateOrder(context.Background(), UpdateOrderCommand{OrderID: order.ID, Title: valuePtr("x")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on mutation, got %v", err)
	}
}

func TestListOrdersValidatesFilter(t *testing.T) {
	h := newLifecycleHarness(t)
	h.createOrder(t)

	if _, err := h.svc.ListOrders(context.Background(), OrderListFilter{Statuses: []domain.OrderStatus{"bogus"}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	from := h.now
	to := h.now.Add(-time.Hour)
	if _, err := h.svc.ListOrders(context.Background(), OrderListFilter{CreatedRange: domain.RangeQuery[time.Time]{From: &from, To: &to}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for inverted range, got %v", err)
	}
	page, err := h.svc.ListOrders(context.Background(), OrderListFilter{CustomerID: " cus_1 "})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one order, got %d", len(page.Items))
	}
}

func TestListHistoryCorrelatesAttachments(t *testing.T) {
	h := newLifecycleHarness(t)
	order := h.createOrder(t)
	h.attachments.items = []domain.Attachment{
		{Key: "a", FileName: "intake.jpg", UploadedAt: h.now.Add(30 * time.Second)},
		{Key: "b", FileName: "late.jpg", UploadedAt: h.now.Add(time.Hour)},
	}

	page, err := h.svc.ListHistory(context.Background(), HistoryListFilter{OrderID: order.ID})
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(page.Items) == 0 {
		t.Fatalf("expected history rows")
	}
	first := page.Items[0]
	if len(first.Attachments) != 1 || first.Attachments[0].Key != "a" {
		t.Fatalf("expected the nearby upload only, got %+v", first.Attachments)
	}
	if first.Description != "Status changed from `received` to `awaiting_review`" {
		t.Fatalf("unexpected description %q", first.Description)
	}

	h.attachments.err = errors.New("bucket unavailable")
	if _, err := h.svc.ListHistory(context.Background(), HistoryListFilter{OrderID: order.ID}); err != nil {
		t.Fatalf("attachment failures must not fail the listing: %v", err)
	}
	if _, err := h.svc.ListHistory(context.Background(), HistoryListFilter{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEveryStatusChangeHasOneHistoryRow(t *testing.T) {
	h := newLifecycleHarness(t)
	order, services := h.budgetedOrder(t, "200")
	ctx := context.Background()
	if _, err := h.svc.MarkWorkCompleted(ctx, CompleteWorkCommand{OrderID: order.ID, CompletedServiceIDs: []string{services[0].ID}}); err != nil {
		t.Fatalf("MarkWorkCompleted: %v", err)
	}
	if _, err := h.svc.MarkReadyForDelivery(ctx, OrderActionCommand{OrderID: order.ID}); err != nil {
		t.Fatalf("MarkReadyForDelivery: %v", err)
	}
	if _, err := h.svc.DeliverOrder(ctx, OrderActionCommand{OrderID: order.ID}); err != nil {
		t.Fatalf("DeliverOrder: %v", err)
	}

	want := []domain.OrderStatus{
		domain.OrderStatusAwaitingReview,
		domain.OrderStatusReviewed,
		domain.OrderStatusAwaitingCustomerApproval,
		domain.OrderStatusReadyForWork,
		domain.OrderStatusInProgress,
		domain.OrderStatusReadyForDelivery,
		domain.OrderStatusDelivered,
	}
	rows := historyRows(h.history.appended, domain.HistoryFieldStatus)
	if len(rows) != len(want) {
		t.Fatalf("expected %d status rows, got %d", len(want), len(rows))
	}
	previous := domain.OrderStatusReceived
	for i, row := range rows {
		if *row.OldValue != string(previous) || *row.NewValue != string(want[i]) {
			t.Fatalf("row %d: expected %s -> %s, got %s -> %s", i, previous, want[i], *row.OldValue, *row.NewValue)
		}
		if !previous.CanTransitionTo(want[i]) {
			t.Fatalf("row %d is not an allowed edge", i)
		}
		previous = want[i]
	}
}
