package domain

import (
	"fmt"
	"slices"
	"strings"
)

// OrderStatus enumerates valid lifecycle states for repair orders.
type OrderStatus string

const (
	// OrderStatusReceived indicates the motor parts were dropped off and the order was opened.
	OrderStatusReceived OrderStatus = "received"
	// OrderStatusAwaitingReview indicates the parts wait for a technician to inspect them.
	OrderStatusAwaitingReview OrderStatus = "awaiting_review"
	// OrderStatusReviewed indicates inspection finished and a budget was drafted.
	OrderStatusReviewed OrderStatus = "reviewed"
	// OrderStatusAwaitingCustomerApproval indicates the budget was sent to the customer.
	OrderStatusAwaitingCustomerApproval OrderStatus = "awaiting_customer_approval"
	// OrderStatusReadyForWork indicates the customer authorised the work.
	OrderStatusReadyForWork OrderStatus = "ready_for_work"
	// OrderStatusOpen is the legacy entry state for orders created without intake.
	OrderStatusOpen OrderStatus = "open"
	// OrderStatusInProgress indicates work is under way.
	OrderStatusInProgress OrderStatus = "in_progress"
	// OrderStatusOnHold indicates work was paused.
	OrderStatusOnHold OrderStatus = "on_hold"
	// OrderStatusReadyForDelivery indicates the work is done and the parts await pickup.
	OrderStatusReadyForDelivery OrderStatus = "ready_for_delivery"
	// OrderStatusDelivered indicates the customer picked up the parts.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusPaid indicates the balance was settled.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusReturned indicates the customer returned the parts after delivery.
	OrderStatusReturned OrderStatus = "returned"
	// OrderStatusNotPaid indicates delivery happened without settlement.
	OrderStatusNotPaid OrderStatus = "not_paid"
	// OrderStatusCancelled indicates the order was abandoned.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusCompleted indicates the order was closed without a delivery step.
	OrderStatusCompleted OrderStatus = "completed"
)

var allOrderStatuses = []OrderStatus{
	OrderStatusReceived,
	OrderStatusAwaitingReview,
	OrderStatusReviewed,
	OrderStatusAwaitingCustomerApproval,
	OrderStatusReadyForWork,
	OrderStatusOpen,
	OrderStatusInProgress,
	OrderStatusOnHold,
	OrderStatusReadyForDelivery,
	OrderStatusDelivered,
	OrderStatusPaid,
	OrderStatusReturned,
	OrderStatusNotPaid,
	OrderStatusCancelled,
	OrderStatusCompleted,
}

// orderStatusTransitions is the single source of truth for allowed status edges.
// Statuses with an empty slice are terminal.
var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusReceived:                 {OrderStatusAwaitingReview, OrderStatusCancelled},
	OrderStatusAwaitingReview:           {OrderStatusReviewed, OrderStatusCancelled},
	OrderStatusReviewed:                 {OrderStatusAwaitingCustomerApproval, OrderStatusCancelled},
	OrderStatusAwaitingCustomerApproval: {OrderStatusReadyForWork, OrderStatusCancelled},
	OrderStatusReadyForWork:             {OrderStatusInProgress, OrderStatusCancelled},
	OrderStatusOpen:                     {OrderStatusInProgress, OrderStatusCancelled, OrderStatusOnHold},
	OrderStatusInProgress:               {OrderStatusReadyForDelivery, OrderStatusCompleted, OrderStatusCancelled, OrderStatusOnHold},
	OrderStatusOnHold:                   {OrderStatusInProgress, OrderStatusCancelled},
	OrderStatusReadyForDelivery:         {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:                {OrderStatusPaid, OrderStatusReturned, OrderStatusNotPaid},
	OrderStatusPaid:                     {},
	OrderStatusReturned:                 {OrderStatusCancelled},
	OrderStatusNotPaid:                  {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusCancelled:                {},
	OrderStatusCompleted:                {},
}

// AllOrderStatuses returns every status in declaration order.
func AllOrderStatuses() []OrderStatus {
	return slices.Clone(allOrderStatuses)
}

// ParseOrderStatus converts a stored or user supplied value into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(value)))
	if !status.IsValid() {
		return "", fmt.Errorf("domain: unknown order status %q", value)
	}
	return status, nil
}

// IsValid reports whether the status is a member of the enum.
func (s OrderStatus) IsValid() bool {
	_, ok := orderStatusTransitions[s]
	return ok
}

// IsTerminal reports whether no outgoing transitions exist.
func (s OrderStatus) IsTerminal() bool {
	next, ok := orderStatusTransitions[s]
	return ok && len(next) == 0
}

// AllowedTransitions lists the statuses reachable in one step.
func (s OrderStatus) AllowedTransitions() []OrderStatus {
	return slices.Clone(orderStatusTransitions[s])
}

// CanTransitionTo reports whether target is a permitted next status.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	return slices.Contains(orderStatusTransitions[s], target)
}

func (s OrderStatus) String() string {
	return string(s)
}

// OrderPriority captures how urgently the shop should handle the order.
type OrderPriority string

const (
	OrderPriorityLow    OrderPriority = "low"
	OrderPriorityNormal OrderPriority = "normal"
	OrderPriorityHigh   OrderPriority = "high"
	OrderPriorityUrgent OrderPriority = "urgent"
)

// ParseOrderPriority validates a priority value.
func ParseOrderPriority(value string) (OrderPriority, error) {
	p := OrderPriority(strings.ToLower(strings.TrimSpace(value)))
	switch p {
	case OrderPriorityLow, OrderPriorityNormal, OrderPriorityHigh, OrderPriorityUrgent:
		return p, nil
	}
	return "", fmt.Errorf("domain: unknown order priority %q", value)
}

// ItemType identifies the kind of motor part received for repair.
type ItemType string

const (
	ItemTypeCylinderHead   ItemType = "cylinder_head"
	ItemTypeEngineBlock    ItemType = "engine_block"
	ItemTypeCrankshaft     ItemType = "crankshaft"
	ItemTypeConnectingRods ItemType = "connecting_rods"
	ItemTypeOthers         ItemType = "others"
)

// ParseItemType validates an item type value.
func ParseItemType(value string) (ItemType, error) {
	t := ItemType(strings.ToLower(strings.TrimSpace(value)))
	switch t {
	case ItemTypeCylinderHead, ItemTypeEngineBlock, ItemTypeCrankshaft, ItemTypeConnectingRods, ItemTypeOthers:
		return t, nil
	}
	return "", fmt.Errorf("domain: unknown item type %q", value)
}

// ParseHistoryField validates a history field identifier.
func ParseHistoryField(value string) (HistoryField, error) {
	field := HistoryField(strings.ToLower(strings.TrimSpace(value)))
	switch field {
	case HistoryFieldStatus, HistoryFieldPriority, HistoryFieldAssignedTo, HistoryFieldEstimatedCompletion,
		HistoryFieldTitle, HistoryFieldDescription, HistoryFieldNotes, HistoryFieldCategories,
		HistoryFieldItemReceived, HistoryFieldComponentReceived, HistoryFieldServiceBudgeted,
		HistoryFieldServiceAuthorized, HistoryFieldServiceCompleted, HistoryFieldDownPayment:
		return field, nil
	}
	return "", fmt.Errorf("domain: unknown history field %q", value)
}
