package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/auth"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/httpx"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/observability"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/pagination"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/textutil"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/services"
)

const (
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
	defaultHistoryPageSize = 50
	maxOrderBodySize       = 64 * 1024
	maxActionBodySize      = 8 * 1024
)

// AttachmentLinker issues short-lived download links for attachment object keys.
type AttachmentLinker interface {
	DownloadURL(ctx context.Context, key string) (string, error)
}

// OrderHandlers exposes the repair order workflow to authenticated shop staff.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderLifecycleService
	linker      AttachmentLinker
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises optional collaborators.
type OrderHandlersOption func(*OrderHandlers)

// WithAttachmentLinker enables download URLs on history attachments.
func WithAttachmentLinker(linker AttachmentLinker) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.linker = linker
	}
}

// WithCreateIdempotency wraps order creation with the given idempotency middleware.
func WithCreateIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderLifecycleService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.StaffRoles()...))
	}

	create := http.Handler(http.HandlerFunc(h.createOrder))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}
	r.Method(http.MethodPost, "/", create)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}", h.updateOrder)
	r.Post("/{orderID}:transition", h.transitionOrder)
	r.Post("/{orderID}:ready-for-delivery", h.markReadyForDelivery)
	r.Post("/{orderID}:deliver", h.deliverOrder)
	r.Post("/{orderID}/budget", h.submitBudget)
	r.Post("/{orderID}/approval", h.customerApproval)
	r.Post("/{orderID}/work:complete", h.completeWork)
	r.Put("/{orderID}/motor-info", h.updateMotorInfo)
	r.Post("/{orderID}/items/{itemID}:receive", h.receiveItem)
	r.Get("/{orderID}/history", h.listHistory)
}

type motorInfoRequest struct {
	Brand         *string          `json:"brand"`
	Liters        *string          `json:"liters"`
	Year          *string          `json:"year"`
	Model         *string          `json:"model"`
	CylinderCount *string          `json:"cylinder_count"`
	DownPayment   *decimal.Decimal `json:"down_payment"`
}

func (m motorInfoRequest) input() services.MotorInfoInput {
	return services.MotorInfoInput{
		Brand:         m.Brand,
		Liters:        m.Liters,
		Year:          m.Year,
		Model:         m.Model,
		CylinderCount: m.CylinderCount,
		DownPayment:   m.DownPayment,
	}
}

type createOrderRequest struct {
	CustomerID          string                   `json:"customer_id"`
	Title               string                   `json:"title"`
	Description         *string                  `json:"description"`
	Priority            string                   `json:"priority"`
	AssignedTo          *string                  `json:"assigned_to"`
	EstimatedCompletion *time.Time               `json:"estimated_completion"`
	Notes               *string                  `json:"notes"`
	Categories          []int                    `json:"categories"`
	Motor               motorInfoRequest         `json:"motor"`
	Items               []createOrderItemRequest `json:"items"`
}

type createOrderItemRequest struct {
	ItemType   string   `json:"item_type"`
	Components []string `json:"components"`
}

type updateOrderRequest struct {
	Title               optional[string]    `json:"title"`
	Description         optional[string]    `json:"description"`
	Priority            optional[string]    `json:"priority"`
	AssignedTo          optional[string]    `json:"assigned_to"`
	EstimatedCompletion optional[time.Time] `json:"estimated_completion"`
	Notes               optional[string]    `json:"notes"`
	Categories          optional[[]int]     `json:"categories"`
	Comment             *string             `json:"comment"`
}

type transitionRequest struct {
	Status           string     `json:"status"`
	ExpectedStatus   *string    `json:"expected_status"`
	ActualCompletion *time.Time `json:"actual_completion"`
	Comment          *string    `json:"comment"`
}

type budgetRequest struct {
	Lines []budgetLineRequest `json:"lines"`
}

type budgetLineRequest struct {
	OrderItemID string  `json:"order_item_id"`
	ServiceKey  string  `json:"service_key"`
	Measurement *string `json:"measurement"`
	Notes       *string `json:"notes"`
}

type approvalRequest struct {
	AuthorizedServiceIDs []string         `json:"authorized_service_ids"`
	DownPayment          *decimal.Decimal `json:"down_payment"`
}

type completeWorkRequest struct {
	CompletedServiceIDs []string `json:"completed_service_ids"`
}

type receiveItemRequest struct {
	Components []string `json:"components"`
}

func (h *OrderHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.orders == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	items := make([]services.CreateOrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CreateOrderItemInput{
			ItemType:   item.ItemType,
			Components: item.Components,
		})
	}

	order, err := h.orders.CreateOrderWithMotorItems(ctx, services.CreateOrderCommand{
		CustomerID:          req.CustomerID,
		Title:               req.Title,
		Description:         req.Description,
		Priority:            domain.OrderPriority(req.Priority),
		AssignedTo:          req.AssignedTo,
		EstimatedCompletion: req.EstimatedCompletion,
		Notes:               req.Notes,
		Categories:          req.Categories,
		Motor:               req.Motor.input(),
		Items:               items,
		Actor:               auth.ActorFromContext(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: h.buildOrderPayload(ctx, order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}

	query := r.URL.Query()
	page, err := pagination.FromRequest(r, pagination.Options{DefaultPageSize: defaultOrderPageSize, MaxPageSize: maxOrderPageSize})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest(err.Error()))
		return
	}

	filter := services.OrderListFilter{
		CustomerID: strings.TrimSpace(query.Get("customer_id")),
		AssignedTo: strings.TrimSpace(query.Get("assigned_to")),
		Pagination: services.Pagination{PageSize: page.PageSize, PageToken: page.PageToken},
	}
	for _, raw := range textutil.SplitList(query["status"]) {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.BadRequest("status must be a valid order status"))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if filter.CreatedRange, err = parseRange(query.Get("created_after"), query.Get("created_before")); err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("created_after and created_before must be RFC3339 timestamps"))
		return
	}

	result, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(result.Items))
	for _, order := range result.Items {
		items = append(items, buildOrderSummary(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(result.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(ctx, order)})
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}

	var req updateOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	if req.Title.cleared() {
		httpx.WriteError(ctx, w, httpx.BadRequest("title cannot be null"))
		return
	}
	if req.Priority.cleared() {
		httpx.WriteError(ctx, w, httpx.BadRequest("priority cannot be null"))
		return
	}

	cmd := services.UpdateOrderCommand{
		OrderID:                  orderID,
		Title:                    req.Title.ptr(),
		Description:              req.Description.ptr(),
		AssignedTo:               req.AssignedTo.ptr(),
		EstimatedCompletion:      req.EstimatedCompletion.ptr(),
		Notes:                    req.Notes.ptr(),
		ClearDescription:         req.Description.cleared(),
		ClearAssignedTo:          req.AssignedTo.cleared(),
		ClearEstimatedCompletion: req.EstimatedCompletion.cleared(),
		ClearNotes:               req.Notes.cleared(),
		Comment:                  req.Comment,
		Actor:                    auth.ActorFromContext(ctx),
	}
	if priority := req.Priority.ptr(); priority != nil {
		p := domain.OrderPriority(*priority)
		cmd.Priority = &p
	}
	if req.Categories.Set {
		categories := req.Categories.Value
		if req.Categories.Null {
			categories = []int{}
		}
		cmd.Categories = &categories
	}

	order, err := h.orders.UpdateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(ctx, order)})
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}

	var req transitionRequest
	if err := httpx.DecodeJSON(r, maxActionBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	target, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("status must be a valid order status"))
		return
	}
	cmd := services.OrderStatusTransitionCommand{
		OrderID:          orderID,
		TargetStatus:     target,
		ActualCompletion: req.ActualCompletion,
		Comment:          req.Comment,
		Actor:            auth.ActorFromContext(ctx),
	}
	if raw := strings.TrimSpace(derefString(req.ExpectedStatus)); raw != "" {
		expected, err := domain.ParseOrderStatus(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.BadRequest("expected_status must be a valid order status"))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(ctx, order)})
}

func (h *OrderHandlers) submitBudget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}

	var req budgetRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	lines := make([]services.BudgetLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.BudgetLine{
			OrderItemID: line.OrderItemID,
			ServiceKey:  line.ServiceKey,
			Measurement: line.Measurement,
			Notes:       line.Notes,
		})
	}

	order, err := h.orders.SubmitBudget(ctx, services.SubmitBudgetCommand{
		OrderID: orderID,
		Lines:   lines,
		Actor:   auth.ActorFromContext(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(ctx, order)})
}

func (h *OrderHandlers) customerApproval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}

	var req approvalRequest
	if err := httpx.DecodeJSON(r, maxActionBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	order, err := h.orders.CustomerApproval(ctx, services.CustomerApprovalCommand{
		OrderID:              orderID,
		AuthorizedServiceIDs: req.AuthorizedServiceIDs,
		DownPayment:          req.DownPayment,
		Actor:                auth.ActorFromContext(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(ctx, order)})
}

func (h *OrderHandlers) completeWork(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}

	var req completeWorkRequest
	if err := httpx.DecodeJSON(r, maxActionBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	order, err := h.orders.MarkWorkCompleted(ctx, services.CompleteWorkCommand{
		OrderID:             orderID,
		CompletedServiceIDs: req.CompletedServiceIDs,
		Actor:               auth.ActorFromContext(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(ctx, order)})
}

func (h *OrderHandlers) markReadyForDelivery(w http.ResponseWriter, r *http.Request) {
	if h.available(w, r) {
		h.orderAction(w, r, h.orders.MarkReadyForDelivery)
	}
}

func (h *OrderHandlers) deliverOrder(w http.ResponseWriter, r *http.Request) {
	if h.available(w, r) {
		h.orderAction(w, r, h.orders.DeliverOrder)
	}
}

// orderAction serves body-less status actions.
func (h *OrderHandlers) orderAction(w http.ResponseWriter, r *http.Request, action func(context.Context, services.OrderActionCommand) (services.Order, error)) {
	ctx := r.Context()
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}

	order, err := action(ctx, services.OrderActionCommand{
		OrderID: orderID,
		Actor:   auth.ActorFromContext(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(ctx, order)})
}

func (h *OrderHandlers) updateMotorInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}

	var req motorInfoRequest
	if err := httpx.DecodeJSON(r, maxActionBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	order, err := h.orders.UpdateMotorInfo(ctx, services.UpdateMotorInfoCommand{
		OrderID: orderID,
		Motor:   req.input(),
		Actor:   auth.ActorFromContext(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(ctx, order)})
}

func (h *OrderHandlers) receiveItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}
	itemID, ok := pathParam(w, r, "itemID")
	if !ok {
		return
	}

	var req receiveItemRequest
	if err := httpx.DecodeJSON(r, maxActionBodySize, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	order, err := h.orders.MarkItemReceived(ctx, services.MarkItemReceivedCommand{
		OrderID:        orderID,
		OrderItemID:    itemID,
		ComponentNames: req.Components,
		Actor:          auth.ActorFromContext(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(ctx, order)})
}

func (h *OrderHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}

	query := r.URL.Query()
	page, err := pagination.FromRequest(r, pagination.Options{DefaultPageSize: defaultHistoryPageSize, MaxPageSize: maxOrderPageSize})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest(err.Error()))
		return
	}

	filter := services.HistoryListFilter{
		OrderID:    orderID,
		Pagination: services.Pagination{PageSize: page.PageSize, PageToken: page.PageToken},
	}
	for _, raw := range textutil.SplitList(query["field"]) {
		field, err := domain.ParseHistoryField(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.BadRequest("field must be a known history field"))
			return
		}
		filter.Fields = append(filter.Fields, field)
	}
	if filter.DateRange, err = parseRange(query.Get("from"), query.Get("to")); err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("from and to must be RFC3339 timestamps"))
		return
	}

	result, err := h.orders.ListHistory(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, historyListResponse{
		Items:         h.buildHistoryPayloads(ctx, result.Items),
		NextPageToken: strings.TrimSpace(result.NextPageToken),
	})
}

func parseRange(fromRaw, toRaw string) (domain.RangeQuery[time.Time], error) {
	var rng domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(fromRaw); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return rng, err
		}
		rng.From = &ts
	}
	if raw := strings.TrimSpace(toRaw); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return rng, err
		}
		rng.To = &ts
	}
	return rng, nil
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var (
		validation *services.ValidationError
		notFound   *services.NotFoundError
		state      *services.InvalidStateError
	)
	switch {
	case errors.As(err, &validation):
		apiErr := httpx.BadRequest(err.Error())
		if validation.Field != "" {
			apiErr = apiErr.WithDetails(map[string]any{"field": validation.Field})
		}
		httpx.WriteError(ctx, w, apiErr)
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.BadRequest(err.Error()))
	case errors.As(err, &notFound):
		code := strings.ReplaceAll(strings.TrimSpace(notFound.Resource), " ", "_") + "_not_found"
		httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), http.StatusNotFound).
			WithDetails(map[string]any{"resource": notFound.Resource, "id": notFound.ID}))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case errors.As(err, &state):
		details := map[string]any{
			"current_status":   string(state.Current),
			"attempted_status": string(state.Attempted),
		}
		if state.Operation != "" {
			details["operation"] = state.Operation
		}
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict).WithDetails(details))
	case errors.Is(err, services.ErrConcurrency):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		observability.FromContext(ctx).Error("order request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
