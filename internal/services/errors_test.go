package services

import (
	"errors"
	"fmt"
	"testing"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/sqlstore"
)

func TestMapRepositoryError(t *testing.T) {
	validation := invalidInput("title", "required")
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"not found", sqlstore.NotFound("orders.find", "missing"), ErrNotFound},
		{"conflict", sqlstore.Conflict("orders.update", "version"), ErrConcurrency},
		{"service error passes through", validation, ErrValidation},
		{"wrapped state error", fmt.Errorf("tx: %w", &InvalidStateError{Current: domain.OrderStatusPaid}), ErrInvalidState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapRepositoryError(tc.err, "order", "ord_1")
			if !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	if mapRepositoryError(nil, "order", "ord_1") != nil {
		t.Fatalf("nil must stay nil")
	}
	plain := errors.New("boom")
	if got := mapRepositoryError(plain, "order", "ord_1"); got != plain {
		t.Fatalf("unclassified errors must be returned as is, got %v", got)
	}

	var notFound *NotFoundError
	if !errors.As(mapRepositoryError(sqlstore.NotFound("orders.find", "missing"), "order", "ord_9"), &notFound) || notFound.ID != "ord_9" {
		t.Fatalf("expected not found error naming the order")
	}
}

func TestCheckTransitionUsesTable(t *testing.T) {
	if err := checkTransition(domain.OrderStatusReceived, domain.OrderStatusAwaitingReview); err != nil {
		t.Fatalf("expected allowed edge, got %v", err)
	}
	err := checkTransition(domain.OrderStatusPaid, domain.OrderStatusCancelled)
	var stateErr *InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if stateErr.Current != domain.OrderStatusPaid || stateErr.Attempted != domain.OrderStatusCancelled {
		t.Fatalf("unexpected diagnostics %+v", stateErr)
	}
}
