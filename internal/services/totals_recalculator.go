package services

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

const motorInfoIDPrefix = "mtr_"

type recalculationGuardKey struct{}

// withRecalculationGuard marks ctx so writes issued by the recalculator do not trigger it again.
func withRecalculationGuard(ctx context.Context) context.Context {
	return context.WithValue(ctx, recalculationGuardKey{}, true)
}

func recalculating(ctx context.Context) bool {
	v, _ := ctx.Value(recalculationGuardKey{}).(bool)
	return v
}

// TotalsRecalculatorDeps bundles collaborators for the totals recalculator.
type TotalsRecalculatorDeps struct {
	MotorInfo   repositories.MotorInfoRepository
	Clock       func() time.Time
	IDGenerator func() string
}

// TotalsRecalculator derives total_cost and is_fully_paid from completed services.
type TotalsRecalculator struct {
	motor repositories.MotorInfoRepository
	clock func() time.Time
	newID func() string
}

// NewTotalsRecalculator wires the recalculator.
func NewTotalsRecalculator(deps TotalsRecalculatorDeps) (*TotalsRecalculator, error) {
	if deps.MotorInfo == nil {
		return nil, errors.New("totals recalculator: motor info repository is required")
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
	return &TotalsRecalculator{
		motor: deps.MotorInfo,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

// Compute returns the motor info with totals derived from services. A nil info yields a new
// row with a zero down payment; a partially built one gets its identity filled in.
func (r *TotalsRecalculator) Compute(orderID string, services []domain.OrderService, info *domain.OrderMotorInfo) domain.OrderMotorInfo {
	now := r.clock()
	out := domain.OrderMotorInfo{DownPayment: decimal.Zero}
	if info != nil {
		out = *info
	}
	if out.ID == "" {
		out.ID = motorInfoIDPrefix + r.newID()
	}
	if out.OrderID == "" {
		out.OrderID = orderID
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.TotalCost = domain.CompletedServicesTotal(services)
	out.DownPayment = domain.RoundMoney(out.DownPayment)
	out.IsFullyPaid = domain.IsFullyPaid(out.DownPayment, out.TotalCost)
	out.UpdatedAt = now
	return out
}

// Recalculate computes totals and writes the single motor info row. Calls made while a
// recalculation is already writing return info unchanged.
func (r *TotalsRecalculator) Recalculate(ctx context.Context, orderID string, services []domain.OrderService, info *domain.OrderMotorInfo) (domain.OrderMotorInfo, error) {
	if recalculating(ctx) {
		if info == nil {
			return domain.OrderMotorInfo{}, nil
		}
		return *info, nil
	}
	updated := r.Compute(orderID, services, info)
	if err := r.motor.Upsert(withRecalculationGuard(ctx), updated); err != nil {
		return domain.OrderMotorInfo{}, err
	}
	return updated, nil
}

// totalsInputsChanged reports whether a motor info write touched the observed money fields.
func totalsInputsChanged(before *domain.OrderMotorInfo, after domain.OrderMotorInfo) bool {
	if before == nil {
		return true
	}
	return !before.DownPayment.Equal(after.DownPayment) || !before.TotalCost.Equal(after.TotalCost)
}
