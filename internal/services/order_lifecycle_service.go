package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

const (
	EventOrderCreated          = "order.created"
	EventOrderBudgetSubmitted  = "order.budget.submitted"
	EventOrderApproved         = "order.approved"
	EventOrderServiceCompleted = "order.service.completed"
	EventOrderReadyForDelivery = "order.ready_for_delivery"
	EventOrderDelivered        = "order.delivered"
	EventOrderStatusChanged    = "order.status.changed"

	orderIDPrefix     = "ord_"
	itemIDPrefix      = "itm_"
	componentIDPrefix = "cmp_"
	serviceIDPrefix   = "svc_"

	systemActor         = "system"
	historyPageSize     = 200
	maxBudgetLines      = 100
	maxComponentsInItem = 50
)

var tracer = otel.Tracer("github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/services")

type recipientGroup int

const (
	recipientCustomer recipientGroup = iota
	recipientAdmins
	recipientAssignee
)

// pendingNotification is resolved to user ids only after commit.
type pendingNotification struct {
	eventType string
	audience  []recipientGroup
	payload   map[string]any
}

type statusHop struct {
	from domain.OrderStatus
	to   domain.OrderStatus
}

// OrderLifecycleServiceDeps bundles collaborators required to construct the lifecycle service.
type OrderLifecycleServiceDeps struct {
	Orders        repositories.OrderRepository
	Services      repositories.OrderServiceRepository
	MotorInfo     repositories.MotorInfoRepository
	History       repositories.HistoryRepository
	Users         repositories.UserRepository
	Catalog       CatalogService
	UnitOfWork    repositories.UnitOfWork
	CacheVersions CacheVersionService
	Notifications NotificationSink
	Attachments   AttachmentLister
	Correlator    *AttachmentCorrelator
	Metrics       *LifecycleMetrics
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderLifecycleService struct {
	orders        repositories.OrderRepository
	services      repositories.OrderServiceRepository
	motor         repositories.MotorInfoRepository
	history       repositories.HistoryRepository
	users         repositories.UserRepository
	catalog       CatalogService
	unitOfWork    repositories.UnitOfWork
	cacheVersions CacheVersionService
	notifications NotificationSink
	attachments   AttachmentLister
	correlator    *AttachmentCorrelator
	metrics       *LifecycleMetrics
	recorder      *HistoryRecorder
	totals        *TotalsRecalculator
	sanitizer     *bluemonday.Policy
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

var _ OrderLifecycleService = (*orderLifecycleService)(nil)

// NewOrderLifecycleService wires dependencies into a concrete OrderLifecycleService.
func NewOrderLifecycleService(deps OrderLifecycleServiceDeps) (OrderLifecycleService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order lifecycle service: order repository is required")
	}
	if deps.Services == nil {
		return nil, errors.New("order lifecycle service: order service repository is required")
	}
	if deps.MotorInfo == nil {
		return nil, errors.New("order lifecycle service: motor info repository is required")
	}
	if deps.History == nil {
		return nil, errors.New("order lifecycle service: history repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order lifecycle service: catalog service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	recorder, err := NewHistoryRecorder(HistoryRecorderDeps{
		Repository:  deps.History,
		Clock:       clock,
		IDGenerator: idGen,
	})
	if err != nil {
		return nil, err
	}
	totals, err := NewTotalsRecalculator(TotalsRecalculatorDeps{
		MotorInfo:   deps.MotorInfo,
		Clock:       clock,
		IDGenerator: idGen,
	})
	if err != nil {
		return nil, err
	}

	return &orderLifecycleService{
		orders:        deps.Orders,
		services:      deps.Services,
		motor:         deps.MotorInfo,
		history:       deps.History,
		users:         deps.Users,
		catalog:       deps.Catalog,
		unitOfWork:    unit,
		cacheVersions: deps.CacheVersions,
		notifications: deps.Notifications,
		attachments:   deps.Attachments,
		correlator:    deps.Correlator,
		metrics:       deps.Metrics,
		recorder:      recorder,
		totals:        totals,
		sanitizer:     bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// orderState is the working copy of one aggregate inside a unit of work. All reads happen in
// load and the apply callback; persist only writes.
type orderState struct {
	loaded   domain.Order
	order    domain.Order
	services []domain.OrderService
	motor    *domain.OrderMotorInfo
	actor    *string
	now      time.Time

	changed         bool
	inserted        bool
	newServices     []domain.OrderService
	updatedServices []string
	updatedItems    []string
	motorBefore     *domain.OrderMotorInfo
	motorDirty      bool
	recalculate     bool

	history       []domain.OrderHistory
	hops          []statusHop
	notifications []pendingNotification
}

func (st *orderState) touch() {
	st.changed = true
	if actor := actorID(st.actor); actor != "" {
		st.order.UpdatedBy = valuePtr(actor)
	}
	st.order.UpdatedAt = st.now
}

func (st *orderState) serviceIndex(id string) int {
	return slices.IndexFunc(st.services, func(svc domain.OrderService) bool { return svc.ID == id })
}

func (st *orderState) itemIndex(id string) int {
	return slices.IndexFunc(st.order.Items, func(item domain.OrderItem) bool { return item.ID == id })
}

func (st *orderState) markServiceUpdated(id string) {
	if !slices.Contains(st.updatedServices, id) {
		st.updatedServices = append(st.updatedServices, id)
	}
}

func (st *orderState) markItemUpdated(id string) {
	if !slices.Contains(st.updatedItems, id) {
		st.updatedItems = append(st.updatedItems, id)
	}
}

func (st *orderState) notify(eventType string, payload map[string]any, audience ...recipientGroup) {
	st.notifications = append(st.notifications, pendingNotification{
		eventType: eventType,
		audience:  audience,
		payload:   payload,
	})
}

// result assembles the aggregate returned to callers.
func (st *orderState) result() Order {
	out := st.order
	out.Services = slices.Clone(st.services)
	if st.motor != nil {
		info := *st.motor
		out.MotorInfo = &info
	}
	return out
}

func (s *orderLifecycleService) CreateOrderWithMotorItems(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	ctx, span := s.startSpan(ctx, "CreateOrderWithMotorItems")
	defer span.End()

	order, err := s.buildNewOrder(cmd)
	if err != nil {
		return Order{}, endSpan(span, err)
	}
	motorInput, err := normalizeMotorInput(cmd.Motor)
	if err != nil {
		return Order{}, endSpan(span, err)
	}

	now := order.CreatedAt
	st := &orderState{
		order:    order,
		actor:    cmd.Actor,
		now:      now,
		changed:  true,
		inserted: true,
	}
	info := applyMotorInput(domain.OrderMotorInfo{}, motorInput)
	st.motor = &info
	st.recalculate = true

	// Creation always lands in awaiting_review through the transition table.
	if err := s.transition(st, domain.OrderStatusAwaitingReview, nil); err != nil {
		return Order{}, endSpan(span, err)
	}
	st.notify(EventOrderCreated, map[string]any{
		"title":  order.Title,
		"status": string(st.order.Status),
	}, recipientCustomer)

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		return s.persist(txCtx, st)
	})
	if err != nil {
		return Order{}, endSpan(span, mapRepositoryError(err, "order", order.ID))
	}

	s.afterCommit(ctx, st)
	return s.withHistory(ctx, st.result()), nil
}

func (s *orderLifecycleService) SubmitBudget(ctx context.Context, cmd SubmitBudgetCommand) (Order, error) {
	ctx, span := s.startSpan(ctx, "SubmitBudget")
	defer span.End()

	if len(cmd.Lines) == 0 {
		return Order{}, endSpan(span, invalidInput("services", "at least one budget line is required"))
	}
	if len(cmd.Lines) > maxBudgetLines {
		return Order{}, endSpan(span, invalidInput("services", "at most %d budget lines are allowed", maxBudgetLines))
	}

	order, err := s.mutate(ctx, cmd.OrderID, cmd.Actor, func(ctx context.Context, st *orderState) error {
		if err := requireStatus("submit budget", st.order, domain.OrderStatusReviewed, domain.OrderStatusAwaitingReview); err != nil {
			return err
		}

		budget := decimal.Zero
		for i, line := range cmd.Lines {
			svc, err := s.budgetLine(ctx, st, i, line)
			if err != nil {
				return err
			}
			st.services = append(st.services, svc)
			st.newServices = append(st.newServices, svc)
			budget = budget.Add(svc.NetPrice)

			item, _ := st.order.Item(svc.OrderItemID)
			if entry, ok := s.recorder.GateChange(st.order, domain.HistoryFieldServiceBudgeted, serviceSubject(svc, item), false, true, st.actor); ok {
				st.history = append(st.history, entry)
			}
		}
		st.touch()

		// Budgeting cascades the review hops.
		if err := s.transition(st, domain.OrderStatusReviewed, nil); err != nil {
			return err
		}
		if err := s.transition(st, domain.OrderStatusAwaitingCustomerApproval, nil); err != nil {
			return err
		}

		st.notify(EventOrderBudgetSubmitted, map[string]any{
			"services": len(cmd.Lines),
			"budget":   domain.RoundMoney(budget).StringFixed(2),
		}, recipientCustomer)
		return nil
	})
	return order, endSpan(span, err)
}

func (s *orderLifecycleService) budgetLine(ctx context.Context, st *orderState, index int, line BudgetLine) (domain.OrderService, error) {
	field := fmt.Sprintf("services[%d]", index)
	itemID := strings.TrimSpace(line.OrderItemID)
	if itemID == "" {
		return domain.OrderService{}, invalidInput(field+".order_item_id", "order item id is required")
	}
	item, ok := st.order.Item(itemID)
	if !ok {
		return domain.OrderService{}, &NotFoundError{Resource: "order item", ID: itemID}
	}

	entry, err := s.catalog.FindActiveServiceByKey(ctx, line.ServiceKey)
	if err != nil {
		return domain.OrderService{}, err
	}
	if entry.ItemType != item.ItemType {
		return domain.OrderService{}, invalidInput(field+".service_key", "service %q applies to %s, not %s", entry.ServiceKey, entry.ItemType, item.ItemType)
	}

	measurement := s.cleanText(line.Measurement)
	if entry.RequiresMeasurement && measurement == nil {
		return domain.OrderService{}, invalidInput(field+".measurement", "service %q requires a measurement", entry.ServiceKey)
	}

	for _, existing := range st.services {
		if existing.OrderItemID == item.ID && existing.ServiceKey == entry.ServiceKey {
			return domain.OrderService{}, invalidInput(field+".service_key", "service %q is already budgeted for this item", entry.ServiceKey)
		}
	}

	return domain.OrderService{
		ID:          serviceIDPrefix + s.newID(),
		OrderID:     st.order.ID,
		OrderItemID: item.ID,
		ServiceKey:  entry.ServiceKey,
		Measurement: measurement,
		Notes:       s.cleanText(line.Notes),
		IsBudgeted:  true,
		BasePrice:   domain.RoundMoney(entry.BasePrice),
		NetPrice:    entry.NetPrice(),
		CreatedAt:   st.now,
		UpdatedAt:   st.now,
	}, nil
}

func (s *orderLifecycleService) CustomerApproval(ctx context.Context, cmd CustomerApprovalCommand) (Order, error) {
	ctx, span := s.startSpan(ctx, "CustomerApproval")
	defer span.End()

	ids := uniqueTrimmed(cmd.AuthorizedServiceIDs)
	var downPayment *decimal.Decimal
	if cmd.DownPayment != nil {
		if cmd.DownPayment.IsNegative() {
			return Order{}, endSpan(span, invalidInput("down_payment", "down payment must not be negative"))
		}
		downPayment = valuePtr(domain.RoundMoney(*cmd.DownPayment))
	}

	order, err := s.mutate(ctx, cmd.OrderID, cmd.Actor, func(ctx context.Context, st *orderState) error {
		if err := requireStatus("customer approval", st.order, domain.OrderStatusReadyForWork, domain.OrderStatusAwaitingCustomerApproval); err != nil {
			return err
		}

		for _, id := range ids {
			idx := st.serviceIndex(id)
			if idx < 0 {
				return &NotFoundError{Resource: "order service", ID: id}
			}
			svc := st.services[idx]
			if !svc.IsBudgeted {
				return invalidInput("authorized_service_ids", "service %q was never budgeted", id)
			}
			if svc.IsAuthorized {
				continue
			}
			svc.IsAuthorized = true
			svc.UpdatedAt = st.now
			st.services[idx] = svc
			st.markServiceUpdated(svc.ID)

			item, _ := st.order.Item(svc.OrderItemID)
			if entry, ok := s.recorder.GateChange(st.order, domain.HistoryFieldServiceAuthorized, serviceSubject(svc, item), false, true, st.actor); ok {
				st.history = append(st.history, entry)
			}
		}
		st.touch()

		if downPayment != nil {
			s.setDownPayment(st, *downPayment)
		}

		if err := s.transition(st, domain.OrderStatusReadyForWork, nil); err != nil {
			return err
		}
		st.notify(EventOrderApproved, map[string]any{
			"authorizedServices": ids,
		}, recipientAdmins, recipientAssignee)
		return nil
	})
	return order, endSpan(span, err)
}

func (s *orderLifecycleService) MarkWorkCompleted(ctx context.Context, cmd CompleteWorkCommand) (Order, error) {
	ctx, span := s.startSpan(ctx, "MarkWorkCompleted")
	defer span.End()

	ids := uniqueTrimmed(cmd.CompletedServiceIDs)
	if len(ids) == 0 {
		return Order{}, endSpan(span, invalidInput("completed_service_ids", "at least one service id is required"))
	}

	order, err := s.mutate(ctx, cmd.OrderID, cmd.Actor, func(ctx context.Context, st *orderState) error {
		if err := requireStatus("mark work completed", st.order, domain.OrderStatusInProgress, domain.OrderStatusReadyForWork, domain.OrderStatusInProgress); err != nil {
			return err
		}

		var completed []map[string]any
		for _, id := range ids {
			idx := st.serviceIndex(id)
			if idx < 0 {
				return &NotFoundError{Resource: "order service", ID: id}
			}
			svc := st.services[idx]
			if !svc.IsAuthorized {
				return invalidInput("completed_service_ids", "service %q was not authorized", id)
			}
			if svc.IsCompleted {
				continue
			}
			svc.IsCompleted = true
			svc.UpdatedAt = st.now
			st.services[idx] = svc
			st.markServiceUpdated(svc.ID)
			st.recalculate = true

			item, _ := st.order.Item(svc.OrderItemID)
			if entry, ok := s.recorder.GateChange(st.order, domain.HistoryFieldServiceCompleted, serviceSubject(svc, item), false, true, st.actor); ok {
				st.history = append(st.history, entry)
			}
			completed = append(completed, map[string]any{
				"serviceId":  svc.ID,
				"serviceKey": svc.ServiceKey,
				"netPrice":   svc.NetPrice.StringFixed(2),
			})
		}
		if len(completed) == 0 {
			return nil
		}
		st.touch()
		st.notify(EventOrderServiceCompleted, map[string]any{
			"services": completed,
		}, recipientAdmins)
		return nil
	})
	return order, endSpan(span, err)
}

func (s *orderLifecycleService) MarkReadyForDelivery(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	ctx, span := s.startSpan(ctx, "MarkReadyForDelivery")
	defer span.End()

	order, err := s.mutate(ctx, cmd.OrderID, cmd.Actor, func(ctx context.Context, st *orderState) error {
		if err := requireStatus("mark ready for delivery", st.order, domain.OrderStatusReadyForDelivery, domain.OrderStatusInProgress, domain.OrderStatusReadyForWork); err != nil {
			return err
		}
		st.touch()
		// ready_for_work has no direct edge to ready_for_delivery.
		if st.order.Status == domain.OrderStatusReadyForWork {
			if err := s.transition(st, domain.OrderStatusInProgress, nil); err != nil {
				return err
			}
		}
		if err := s.transition(st, domain.OrderStatusReadyForDelivery, nil); err != nil {
			return err
		}
		st.notify(EventOrderReadyForDelivery, map[string]any{
			"totalCost": motorTotal(st.motor),
		}, recipientCustomer)
		return nil
	})
	return order, endSpan(span, err)
}

func (s *orderLifecycleService) DeliverOrder(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	ctx, span := s.startSpan(ctx, "DeliverOrder")
	defer span.End()

	order, err := s.mutate(ctx, cmd.OrderID, cmd.Actor, func(ctx context.Context, st *orderState) error {
		if err := requireStatus("deliver order", st.order, domain.OrderStatusDelivered, domain.OrderStatusReadyForDelivery); err != nil {
			return err
		}
		st.touch()
		if err := s.transition(st, domain.OrderStatusDelivered, nil); err != nil {
			return err
		}
		st.notify(EventOrderDelivered, map[string]any{
			"totalCost": motorTotal(st.motor),
		}, recipientCustomer, recipientAdmins)
		return nil
	})
	return order, endSpan(span, err)
}

func (s *orderLifecycleService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, invalidInput("order_id", "order id is required")
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, "order", orderID)
	}
	if order.DeletedAt != nil {
		return Order{}, &NotFoundError{Resource: "order", ID: orderID}
	}
	services, err := s.services.ListByOrder(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, "order", orderID)
	}
	order.Services = services
	motor, err := s.findMotorInfo(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, "order", orderID)
	}
	order.MotorInfo = motor

	history, err := s.loadHistory(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, "order", orderID)
	}
	order.History = history
	return order, nil
}

func (s *orderLifecycleService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	filter.CustomerID = strings.TrimSpace(filter.CustomerID)
	filter.AssignedTo = strings.TrimSpace(filter.AssignedTo)
	for _, status := range filter.Statuses {
		if !status.IsValid() {
			return domain.CursorPage[Order]{}, invalidInput("status", "unknown status %q", status)
		}
	}
	if r := filter.CreatedRange; r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return domain.CursorPage[Order]{}, invalidInput("created_range", "end must not precede start")
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err, "order", "")
	}
	return page, nil
}

func (s *orderLifecycleService) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error) {
	ctx, span := s.startSpan(ctx, "UpdateOrder")
	defer span.End()

	order, err := s.mutate(ctx, cmd.OrderID, cmd.Actor, func(ctx context.Context, st *orderState) error {
		next := st.order
		if cmd.Title != nil {
			title := s.cleanText(cmd.Title)
			if title == nil {
				return invalidInput("title", "title must not be empty")
			}
			next.Title = *title
		}
		if cmd.Priority != nil {
			priority, err := domain.ParseOrderPriority(string(*cmd.Priority))
			if err != nil {
				return invalidInput("priority", "%v", err)
			}
			next.Priority = priority
		}
		next.Description = s.patchText(next.Description, cmd.Description, cmd.ClearDescription)
		next.Notes = s.patchText(next.Notes, cmd.Notes, cmd.ClearNotes)
		next.AssignedTo = patchRef(next.AssignedTo, cmd.AssignedTo, cmd.ClearAssignedTo)
		switch {
		case cmd.ClearEstimatedCompletion:
			next.EstimatedCompletion = nil
		case cmd.EstimatedCompletion != nil:
			next.EstimatedCompletion = valuePtr(cmd.EstimatedCompletion.UTC())
		}
		if cmd.Categories != nil {
			next.Categories = normalizeCategories(*cmd.Categories)
		}

		if len(changedOrderFields(st.order, next)) == 0 {
			return nil
		}
		st.order = next
		st.touch()
		st.history = append(st.history, s.recorder.OrderChanges(st.loaded, st.order, st.actor, s.cleanText(cmd.Comment))...)
		return nil
	})
	return order, endSpan(span, err)
}

func (s *orderLifecycleService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	ctx, span := s.startSpan(ctx, "TransitionStatus")
	defer span.End()

	target, err := domain.ParseOrderStatus(string(cmd.TargetStatus))
	if err != nil {
		return Order{}, endSpan(span, invalidInput("status", "%v", err))
	}

	order, err := s.mutate(ctx, cmd.OrderID, cmd.Actor, func(ctx context.Context, st *orderState) error {
		if cmd.ExpectedStatus != nil && st.order.Status != *cmd.ExpectedStatus {
			return &ConcurrencyError{
				OrderID: st.order.ID,
				Err:     fmt.Errorf("expected status %q but was %q", *cmd.ExpectedStatus, st.order.Status),
			}
		}
		if err := checkTransition(st.order.Status, target); err != nil {
			return err
		}
		if target == domain.OrderStatusCompleted {
			completion := cmd.ActualCompletion
			if completion == nil {
				completion = st.order.ActualCompletion
			}
			if completion == nil || completion.IsZero() {
				return invalidInput("actual_completion", "completing an order requires the actual completion time")
			}
			st.order.ActualCompletion = valuePtr(completion.UTC())
		} else if cmd.ActualCompletion != nil {
			st.order.ActualCompletion = valuePtr(cmd.ActualCompletion.UTC())
		}

		st.touch()
		if err := s.transition(st, target, s.cleanText(cmd.Comment)); err != nil {
			return err
		}
		st.notify(EventOrderStatusChanged, map[string]any{
			"previousStatus": string(st.loaded.Status),
			"status":         string(target),
		}, recipientCustomer, recipientAssignee)
		return nil
	})
	return order, endSpan(span, err)
}

func (s *orderLifecycleService) UpdateMotorInfo(ctx context.Context, cmd UpdateMotorInfoCommand) (Order, error) {
	ctx, span := s.startSpan(ctx, "UpdateMotorInfo")
	defer span.End()

	input, err := normalizeMotorInput(cmd.Motor)
	if err != nil {
		return Order{}, endSpan(span, err)
	}

	order, err := s.mutate(ctx, cmd.OrderID, cmd.Actor, func(ctx context.Context, st *orderState) error {
		current := domain.OrderMotorInfo{}
		if st.motor != nil {
			current = *st.motor
		}
		next := applyMotorInput(current, motorInput{
			brand:         input.brand,
			liters:        input.liters,
			year:          input.year,
			model:         input.model,
			cylinderCount: input.cylinderCount,
		})
		descriptorsChanged := st.motor == nil || !sameMotorDescriptors(current, next)
		if descriptorsChanged {
			st.motor = &next
			st.motorDirty = true
		}
		if input.downPayment != nil {
			s.setDownPayment(st, *input.downPayment)
		}
		if st.motorDirty {
			st.touch()
		}
		return nil
	})
	return order, endSpan(span, err)
}

func (s *orderLifecycleService) MarkItemReceived(ctx context.Context, cmd MarkItemReceivedCommand) (Order, error) {
	ctx, span := s.startSpan(ctx, "MarkItemReceived")
	defer span.End()

	itemID := strings.TrimSpace(cmd.OrderItemID)
	if itemID == "" {
		return Order{}, endSpan(span, invalidInput("order_item_id", "order item id is required"))
	}
	names := uniqueTrimmed(cmd.ComponentNames)

	order, err := s.mutate(ctx, cmd.OrderID, cmd.Actor, func(ctx context.Context, st *orderState) error {
		idx := st.itemIndex(itemID)
		if idx < 0 {
			return &NotFoundError{Resource: "order item", ID: itemID}
		}
		item := st.order.Items[idx]
		item.Components = slices.Clone(item.Components)

		var entries []domain.OrderHistory
		if entry, ok := s.recorder.GateChange(st.order, domain.HistoryFieldItemReceived, "item "+string(item.ItemType), item.IsReceived, true, st.actor); ok {
			entries = append(entries, entry)
			item.IsReceived = true
		}
		for _, name := range names {
			cidx := slices.IndexFunc(item.Components, func(c domain.OrderItemComponent) bool {
				return strings.EqualFold(c.Name, name)
			})
			if cidx < 0 {
				return &NotFoundError{Resource: "item component", ID: name}
			}
			component := item.Components[cidx]
			subject := fmt.Sprintf("component %s of %s", component.Name, item.ItemType)
			if entry, ok := s.recorder.GateChange(st.order, domain.HistoryFieldComponentReceived, subject, component.IsReceived, true, st.actor); ok {
				entries = append(entries, entry)
				component.IsReceived = true
				item.Components[cidx] = component
			}
		}
		if len(entries) == 0 {
			return nil
		}
		item.UpdatedAt = st.now
		st.order.Items[idx] = item
		st.markItemUpdated(item.ID)
		st.history = append(st.history, entries...)
		st.touch()
		return nil
	})
	return order, endSpan(span, err)
}

func (s *orderLifecycleService) ListHistory(ctx context.Context, filter HistoryListFilter) (domain.CursorPage[OrderHistory], error) {
	orderID := strings.TrimSpace(filter.OrderID)
	if orderID == "" {
		return domain.CursorPage[OrderHistory]{}, invalidInput("order_id", "order id is required")
	}
	if r := filter.DateRange; r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return domain.CursorPage[OrderHistory]{}, invalidInput("date_range", "end must not precede start")
	}

	page, err := s.history.List(ctx, repositories.HistoryFilter{
		OrderID:    orderID,
		Fields:     filter.Fields,
		DateRange:  filter.DateRange,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[OrderHistory]{}, mapRepositoryError(err, "order", orderID)
	}
	for i := range page.Items {
		page.Items[i].Description = DescribeChange(page.Items[i])
	}

	if s.attachments != nil && len(page.Items) > 0 {
		attachments, err := s.attachments.ListAttachments(ctx, orderID)
		if err != nil {
			s.logger(ctx, "order.attachments.list.failed", map[string]any{
				"order": orderID,
				"error": err.Error(),
			})
		} else {
			page.Items = s.correlator.Correlate(page.Items, attachments)
		}
	}
	return page, nil
}

// mutate loads and locks the aggregate, applies fn and persists the result in one unit of
// work. Side effects run only after commit.
func (s *orderLifecycleService) mutate(ctx context.Context, orderID string, actor *string, fn func(ctx context.Context, st *orderState) error) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, invalidInput("order_id", "order id is required")
	}

	var committed *orderState
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		st, err := s.load(txCtx, orderID, actor)
		if err != nil {
			return err
		}
		if err := fn(txCtx, st); err != nil {
			return err
		}
		if err := s.persist(txCtx, st); err != nil {
			return err
		}
		committed = st
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err, "order", orderID)
	}

	s.afterCommit(ctx, committed)
	return s.withHistory(ctx, committed.result()), nil
}

func (s *orderLifecycleService) load(ctx context.Context, orderID string, actor *string) (*orderState, error) {
	order, err := s.orders.LockByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.DeletedAt != nil {
		return nil, &NotFoundError{Resource: "order", ID: orderID}
	}
	services, err := s.services.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	motor, err := s.findMotorInfo(ctx, orderID)
	if err != nil {
		return nil, err
	}

	working := order
	working.Items = cloneItems(order.Items)
	return &orderState{
		loaded:      order,
		order:       working,
		services:    services,
		motor:       motor,
		motorBefore: motor,
		actor:       actor,
		now:         s.now(),
	}, nil
}

// persist writes the state. It issues no reads so Firestore transactions stay valid.
func (s *orderLifecycleService) persist(ctx context.Context, st *orderState) error {
	if !st.changed {
		return nil
	}

	if st.inserted {
		if err := s.orders.Insert(ctx, st.order); err != nil {
			return err
		}
	}

	if len(st.newServices) > 0 {
		if err := s.services.Insert(ctx, st.newServices...); err != nil {
			return err
		}
	}
	for _, id := range st.updatedServices {
		if idx := st.serviceIndex(id); idx >= 0 {
			if err := s.services.Update(ctx, st.services[idx]); err != nil {
				return err
			}
		}
	}
	for _, id := range st.updatedItems {
		if idx := st.itemIndex(id); idx >= 0 {
			if err := s.orders.UpdateItem(ctx, st.order.Items[idx]); err != nil {
				return err
			}
		}
	}

	if err := s.persistMotorInfo(ctx, st); err != nil {
		return err
	}

	if !st.inserted {
		if err := s.orders.Update(ctx, st.order, st.loaded.Version); err != nil {
			return err
		}
		st.order.Version = st.loaded.Version + 1
	}

	return s.recorder.Append(ctx, st.history)
}

func (s *orderLifecycleService) persistMotorInfo(ctx context.Context, st *orderState) error {
	if st.motor != nil && totalsInputsChanged(st.motorBefore, *st.motor) {
		st.recalculate = true
	}
	switch {
	case st.recalculate:
		info, err := s.totals.Recalculate(ctx, st.order.ID, st.services, st.motor)
		if err != nil {
			return err
		}
		st.motor = &info
	case st.motorDirty && st.motor != nil:
		info := *st.motor
		info.UpdatedAt = st.now
		if err := s.motor.Upsert(ctx, info); err != nil {
			return err
		}
		st.motor = &info
	}
	return nil
}

// transition moves the working copy one edge and appends the matching status row.
func (s *orderLifecycleService) transition(st *orderState, target domain.OrderStatus, comment *string) error {
	if err := checkTransition(st.order.Status, target); err != nil {
		return err
	}
	before := st.order
	st.order.Status = target
	st.order.UpdatedAt = st.now
	st.changed = true
	st.history = append(st.history, s.recorder.OrderChanges(before, st.order, st.actor, comment)...)
	st.hops = append(st.hops, statusHop{from: before.Status, to: target})
	return nil
}

func (s *orderLifecycleService) setDownPayment(st *orderState, amount decimal.Decimal) {
	current := domain.OrderMotorInfo{}
	var before *string
	if st.motor != nil {
		if st.motor.DownPayment.Equal(amount) {
			return
		}
		current = *st.motor
		before = valuePtr(current.DownPayment.StringFixed(2))
	}
	after := valuePtr(amount.StringFixed(2))
	if entry, ok := s.recorder.MoneyChange(st.order, domain.HistoryFieldDownPayment, before, after, st.actor); ok {
		st.history = append(st.history, entry)
	}
	current.DownPayment = amount
	st.motor = &current
	st.motorDirty = true
}

func (s *orderLifecycleService) afterCommit(ctx context.Context, st *orderState) {
	if st == nil || !st.changed {
		return
	}
	for _, hop := range st.hops {
		s.metrics.recordTransition(ctx, hop.from, hop.to)
	}
	s.metrics.recordHistory(ctx, st.history)

	if s.cacheVersions != nil {
		if err := s.cacheVersions.InvalidateOrder(ctx, st.order.ID); err != nil {
			s.logger(ctx, "order.cache.invalidate.failed", map[string]any{
				"order": st.order.ID,
				"error": err.Error(),
			})
		}
	}

	for _, pending := range st.notifications {
		s.dispatch(ctx, st.order, pending)
	}
}

func (s *orderLifecycleService) dispatch(ctx context.Context, order domain.Order, pending pendingNotification) {
	if s.notifications == nil {
		return
	}
	recipients, err := s.resolveRecipients(ctx, order, pending.audience)
	if err != nil {
		s.logger(ctx, "order.notification.recipients.failed", map[string]any{
			"type":  pending.eventType,
			"order": order.ID,
			"error": err.Error(),
		})
	}
	if len(recipients) == 0 {
		return
	}

	payload := maps.Clone(pending.payload)
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = string(order.Status)

	notification := Notification{
		EventType:  pending.eventType,
		OrderID:    order.ID,
		Recipients: recipients,
		Payload:    payload,
		OccurredAt: s.now(),
	}
	if err := s.notifications.Notify(ctx, notification); err != nil {
		s.logger(ctx, "order.notification.failed", map[string]any{
			"type":   pending.eventType,
			"order":  order.ID,
			"error":  err.Error(),
			"status": string(order.Status),
		})
	}
}

func (s *orderLifecycleService) resolveRecipients(ctx context.Context, order domain.Order, audience []recipientGroup) ([]string, error) {
	var recipients []string
	var errs []error
	for _, group := range audience {
		switch group {
		case recipientCustomer:
			recipients = append(recipients, order.CustomerID)
		case recipientAssignee:
			if order.AssignedTo != nil {
				recipients = append(recipients, *order.AssignedTo)
			}
		case recipientAdmins:
			if s.users == nil {
				continue
			}
			admins, err := s.users.ListActiveByRoles(ctx, domain.UserRoleAdmin, domain.UserRoleSuperAdmin)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			for _, user := range admins {
				recipients = append(recipients, user.ID)
			}
		}
	}
	return uniqueTrimmed(recipients), errors.Join(errs...)
}

// withHistory attaches the timeline to a committed aggregate. Failures are logged because
// the write already succeeded.
func (s *orderLifecycleService) withHistory(ctx context.Context, order Order) Order {
	history, err := s.loadHistory(ctx, order.ID)
	if err != nil {
		s.logger(ctx, "order.history.load.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return order
	}
	order.History = history
	return order
}

func (s *orderLifecycleService) loadHistory(ctx context.Context, orderID string) ([]domain.OrderHistory, error) {
	var out []domain.OrderHistory
	token := ""
	for {
		page, err := s.history.List(ctx, repositories.HistoryFilter{
			OrderID:    orderID,
			Pagination: domain.Pagination{PageSize: historyPageSize, PageToken: token},
		})
		if err != nil {
			return nil, err
		}
		for _, entry := range page.Items {
			entry.Description = DescribeChange(entry)
			out = append(out, entry)
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		token = page.NextPageToken
	}
}

func (s *orderLifecycleService) findMotorInfo(ctx context.Context, orderID string) (*domain.OrderMotorInfo, error) {
	info, err := s.motor.FindByOrder(ctx, orderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil, nil
		}
		return nil, err
	}
	return &info, nil
}

func (s *orderLifecycleService) buildNewOrder(cmd CreateOrderCommand) (domain.Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return domain.Order{}, invalidInput("customer_id", "customer id is required")
	}
	title := s.cleanText(&cmd.Title)
	if title == nil {
		return domain.Order{}, invalidInput("title", "title is required")
	}
	priority := domain.OrderPriorityNormal
	if strings.TrimSpace(string(cmd.Priority)) != "" {
		p, err := domain.ParseOrderPriority(string(cmd.Priority))
		if err != nil {
			return domain.Order{}, invalidInput("priority", "%v", err)
		}
		priority = p
	}

	now := s.now()
	orderID := orderIDPrefix + s.newID()
	items, err := s.buildItems(orderID, cmd.Items, now)
	if err != nil {
		return domain.Order{}, err
	}

	createdBy := actorID(cmd.Actor)
	if createdBy == "" {
		createdBy = systemActor
	}
	var estimated *time.Time
	if cmd.EstimatedCompletion != nil {
		estimated = valuePtr(cmd.EstimatedCompletion.UTC())
	}

	return domain.Order{
		ID:                  orderID,
		CustomerID:          customerID,
		Title:               *title,
		Description:         s.cleanText(cmd.Description),
		Status:              domain.OrderStatusReceived,
		Priority:            priority,
		AssignedTo:          trimmedRef(cmd.AssignedTo),
		CreatedBy:           createdBy,
		EstimatedCompletion: estimated,
		Notes:               s.cleanText(cmd.Notes),
		Categories:          normalizeCategories(cmd.Categories),
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
		Items:               items,
	}, nil
}

func (s *orderLifecycleService) buildItems(orderID string, inputs []CreateOrderItemInput, now time.Time) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(inputs))
	seen := make(map[domain.ItemType]bool, len(inputs))
	for i, input := range inputs {
		field := fmt.Sprintf("items[%d]", i)
		itemType, err := domain.ParseItemType(input.ItemType)
		if err != nil {
			return nil, invalidInput(field+".item_type", "%v", err)
		}
		if seen[itemType] {
			return nil, invalidInput(field+".item_type", "item type %s is duplicated", itemType)
		}
		seen[itemType] = true

		if len(input.Components) > maxComponentsInItem {
			return nil, invalidInput(field+".components", "at most %d components are allowed", maxComponentsInItem)
		}
		item := domain.OrderItem{
			ID:        itemIDPrefix + s.newID(),
			OrderID:   orderID,
			ItemType:  itemType,
			CreatedAt: now,
			UpdatedAt: now,
		}
		names := make(map[string]bool, len(input.Components))
		for _, raw := range input.Components {
			name := s.cleanText(&raw)
			if name == nil {
				continue
			}
			key := strings.ToLower(*name)
			if names[key] {
				return nil, invalidInput(field+".components", "component %q is duplicated", *name)
			}
			names[key] = true
			item.Components = append(item.Components, domain.OrderItemComponent{
				ID:          componentIDPrefix + s.newID(),
				OrderItemID: item.ID,
				Name:        *name,
				CreatedAt:   now,
			})
		}
		items = append(items, item)
	}
	return items, nil
}

// cleanText strips markup from free text. Empty results become nil.
func (s *orderLifecycleService) cleanText(value *string) *string {
	if value == nil {
		return nil
	}
	cleaned := html.UnescapeString(s.sanitizer.Sanitize(*value))
	return optionalString(strings.TrimSpace(cleaned))
}

func (s *orderLifecycleService) patchText(current, patch *string, clear bool) *string {
	switch {
	case clear:
		return nil
	case patch != nil:
		return s.cleanText(patch)
	default:
		return current
	}
}

func (s *orderLifecycleService) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orders."+op, trace.WithAttributes(attribute.String("orders.operation", op)))
}

func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *orderLifecycleService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderLifecycleService) now() time.Time {
	return s.clock()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type motorInput struct {
	brand         *string
	liters        *string
	year          *string
	model         *string
	cylinderCount *string
	downPayment   *decimal.Decimal
}

func normalizeMotorInput(in MotorInfoInput) (motorInput, error) {
	out := motorInput{
		brand:         trimmedRef(in.Brand),
		liters:        trimmedRef(in.Liters),
		year:          trimmedRef(in.Year),
		model:         trimmedRef(in.Model),
		cylinderCount: trimmedRef(in.CylinderCount),
	}
	if in.DownPayment != nil {
		if in.DownPayment.IsNegative() {
			return motorInput{}, invalidInput("down_payment", "down payment must not be negative")
		}
		out.downPayment = valuePtr(domain.RoundMoney(*in.DownPayment))
	}
	return out, nil
}

func applyMotorInput(info domain.OrderMotorInfo, in motorInput) domain.OrderMotorInfo {
	if in.brand != nil {
		info.Brand = in.brand
	}
	if in.liters != nil {
		info.Liters = in.liters
	}
	if in.year != nil {
		info.Year = in.year
	}
	if in.model != nil {
		info.Model = in.model
	}
	if in.cylinderCount != nil {
		info.CylinderCount = in.cylinderCount
	}
	if in.downPayment != nil {
		info.DownPayment = *in.downPayment
	}
	return info
}

func sameMotorDescriptors(a, b domain.OrderMotorInfo) bool {
	return equalStringPtr(a.Brand, b.Brand) &&
		equalStringPtr(a.Liters, b.Liters) &&
		equalStringPtr(a.Year, b.Year) &&
		equalStringPtr(a.Model, b.Model) &&
		equalStringPtr(a.CylinderCount, b.CylinderCount)
}

func motorTotal(info *domain.OrderMotorInfo) string {
	if info == nil {
		return decimal.Zero.StringFixed(2)
	}
	return info.TotalCost.StringFixed(2)
}

func serviceSubject(svc domain.OrderService, item domain.OrderItem) string {
	if item.ItemType == "" {
		return "service " + svc.ServiceKey
	}
	return fmt.Sprintf("service %s on %s", svc.ServiceKey, item.ItemType)
}

func cloneItems(items []domain.OrderItem) []domain.OrderItem {
	out := make([]domain.OrderItem, len(items))
	for i, item := range items {
		item.Components = slices.Clone(item.Components)
		out[i] = item
	}
	return out
}

func uniqueTrimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func patchRef(current, patch *string, clear bool) *string {
	switch {
	case clear:
		return nil
	case patch != nil:
		return trimmedRef(patch)
	default:
		return current
	}
}

func trimmedRef(value *string) *string {
	if value == nil {
		return nil
	}
	return optionalString(strings.TrimSpace(*value))
}

func actorID(actor *string) string {
	if actor == nil {
		return ""
	}
	return strings.TrimSpace(*actor)
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	ref := *value
	return &ref
}
