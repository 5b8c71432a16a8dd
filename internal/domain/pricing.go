package domain

import "github.com/shopspring/decimal"

const moneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds an amount to cents, half away from zero.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(moneyPlaces)
}

// NetPrice returns round(base * (1 + tax/100), 2).
func NetPrice(base, taxPercentage decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(taxPercentage.Div(hundred))
	return RoundMoney(base.Mul(factor))
}

// CompletedServicesTotal sums net prices of completed services.
func CompletedServicesTotal(services []OrderService) decimal.Decimal {
	total := decimal.Zero
	for _, svc := range services {
		if svc.IsCompleted {
			total = total.Add(svc.NetPrice)
		}
	}
	return RoundMoney(total)
}

// IsFullyPaid reports whether the down payment covers the total.
func IsFullyPaid(downPayment, total decimal.Decimal) bool {
	return RoundMoney(downPayment).GreaterThanOrEqual(RoundMoney(total))
}
