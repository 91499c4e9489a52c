// Package promotion проверяет применимость промокода к корзине и рассчитывает скидку.
package promotion

import (
	"errors"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/bookstore-coins/internal/model"
)

var (
	// ErrNotFound возвращается для неизвестного кода.
	ErrNotFound = errors.New("promotion not found")
	// ErrInactive возвращается для выключенного, просроченного или исчерпанного промокода.
	ErrInactive = errors.New("promotion inactive")
	// ErrNotApplicable возвращается, если корзина не удовлетворяет условиям промокода.
	ErrNotApplicable = errors.New("promotion not applicable")
)

var hundred = decimal.NewFromInt(100)

// Cart содержит сведения о корзине, нужные для проверки промокода.
type Cart struct {
	Total       int64
	BookIDs     []int64
	CategoryIDs []int64
}

// Result содержит применённый промокод и размер скидки.
type Result struct {
	Promotion      *model.Promotion
	DiscountAmount int64
}

// Snapshot возвращает снимок промокода для сохранения в заказе.
func (r *Result) Snapshot() *model.AppliedPromotion {
	if r == nil || r.Promotion == nil {
		return nil
	}
	return &model.AppliedPromotion{
		Code:  r.Promotion.Code,
		Type:  r.Promotion.Type,
		Value: r.Promotion.Value,
	}
}

// Valid сообщает, действует ли промокод в момент now.
func Valid(p *model.Promotion, now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if !p.StartDate.IsZero() && now.Before(p.StartDate) {
		return false
	}
	if !p.EndDate.IsZero() && now.After(p.EndDate) {
		return false
	}
	if p.MaxUsage != nil && p.CurrentUsage >= *p.MaxUsage {
		return false
	}
	return true
}

// Resolve проверяет промокод и рассчитывает скидку для корзины.
func Resolve(p *model.Promotion, cart Cart, now time.Time) (*Result, error) {
	if p == nil {
		return nil, ErrNotFound
	}
	if !Valid(p, now) {
		return nil, ErrInactive
	}
	if cart.Total < p.MinimumPurchase {
		return nil, ErrNotApplicable
	}
	if p.Scoped() && !matchesScope(p, cart) {
		return nil, ErrNotApplicable
	}

	return &Result{
		Promotion:      p,
		DiscountAmount: Discount(p.Type, p.Value, cart.Total),
	}, nil
}

// Discount рассчитывает скидку. Процентная скидка округляется до целой денежной единицы,
// фиксированная не превышает сумму корзины.
func Discount(t model.DiscountType, value decimal.Decimal, total int64) int64 {
	if total <= 0 || !value.IsPositive() {
		return 0
	}

	var d int64
	switch t {
	case model.DiscountPercentage:
		d = decimal.NewFromInt(total).Mul(value).Div(hundred).Round(0).IntPart()
	case model.DiscountFixed:
		d = value.Round(0).IntPart()
	}
	return min(d, total)
}

func matchesScope(p *model.Promotion, cart Cart) bool {
	for _, id := range cart.BookIDs {
		if slices.Contains(p.BookIDs, id) {
			return true
		}
	}
	for _, id := range cart.CategoryIDs {
		if slices.Contains(p.CategoryIDs, id) {
			return true
		}
	}
	return false
}
