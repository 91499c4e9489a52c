// Package pricing рассчитывает стоимость доставки и пересчёт денег в монеты.
package pricing

// ShippingPolicy задаёт пороги ступенчатой стоимости доставки.
type ShippingPolicy struct {
	FreeThreshold    int64
	ReducedThreshold int64
	ReducedFee       int64
	StandardFee      int64
}

// DefaultShippingPolicy возвращает пороги по умолчанию.
func DefaultShippingPolicy() ShippingPolicy {
	return ShippingPolicy{
		FreeThreshold:    500_000,
		ReducedThreshold: 200_000,
		ReducedFee:       30_000,
		StandardFee:      50_000,
	}
}

// Fee возвращает стоимость доставки для суммы заказа до скидки.
func (p ShippingPolicy) Fee(total int64) int64 {
	switch {
	case total >= p.FreeThreshold:
		return 0
	case total >= p.ReducedThreshold:
		return p.ReducedFee
	default:
		return p.StandardFee
	}
}

// CoinsFor возвращает число монет для оплаты суммы amount (округление вверх).
func CoinsFor(amount, exchangeRate int64) int64 {
	if amount <= 0 || exchangeRate <= 0 {
		return 0
	}
	return (amount + exchangeRate - 1) / exchangeRate
}

// CoinsFrom возвращает число монет, в которое конвертируется возврат суммы amount (округление вниз).
func CoinsFrom(amount, exchangeRate int64) int64 {
	if amount <= 0 || exchangeRate <= 0 {
		return 0
	}
	return amount / exchangeRate
}

// LoyaltyReward возвращает бонусные монеты за оплаченный заказ.
func LoyaltyReward(finalAmount, percent, exchangeRate int64) int64 {
	if percent <= 0 {
		return 0
	}
	return CoinsFrom(finalAmount*percent/100, exchangeRate)
}
