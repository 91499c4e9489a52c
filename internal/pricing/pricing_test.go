package pricing

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/bookstore-coins/internal/model"
)

func TestShippingFee(t *testing.T) {
	p := DefaultShippingPolicy()

	tests := []struct {
		total int64
		want  int64
	}{
		{total: 600_000, want: 0},
		{total: 500_000, want: 0},
		{total: 300_000, want: 30_000},
		{total: 200_000, want: 30_000},
		{total: 199_999, want: 50_000},
		{total: 100_000, want: 50_000},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Fee(tt.total), "total %d", tt.total)
	}
}

func TestCoinConversion(t *testing.T) {
	assert.Equal(t, int64(120), CoinsFrom(120_000, 1000))
	assert.Equal(t, int64(120), CoinsFrom(120_999, 1000))
	assert.Equal(t, int64(121), CoinsFor(120_001, 1000))
	assert.Equal(t, int64(120), CoinsFor(120_000, 1000))
	assert.Equal(t, int64(0), CoinsFor(0, 1000))
	assert.Equal(t, int64(0), CoinsFrom(500, 0))
	assert.Equal(t, int64(3), LoyaltyReward(300_000, 1, 1000))
	assert.Equal(t, int64(0), LoyaltyReward(300_000, 0, 1000))
}

func TestOrderFinalAmountInvariant(t *testing.T) {
	policy := DefaultShippingPolicy()
	properties := gopter.NewProperties(nil)

	properties.Property("final amount is max(0, total+fee-discount)", prop.ForAll(
		func(prices []int64, qty int, discount int64) bool {
			o := &model.Order{DiscountAmount: discount}
			for i, p := range prices {
				o.Items = append(o.Items, model.OrderItem{BookID: int64(i + 1), UnitPrice: p, Quantity: qty})
			}
			o.Recalculate()
			o.ShippingFee = policy.Fee(o.TotalAmount)
			o.Recalculate()

			want := o.TotalAmount + o.ShippingFee - o.DiscountAmount
			if want < 0 {
				want = 0
			}
			return o.FinalAmount == want && o.FinalAmount >= 0
		},
		gen.SliceOf(gen.Int64Range(0, 400_000)),
		gen.IntRange(1, 5),
		gen.Int64Range(0, 2_000_000),
	))

	properties.TestingRun(t)
}
