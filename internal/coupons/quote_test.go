package coupons

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestComputeDiscount(t *testing.T) {
	price := decimal.RequireFromString("499.00")

	cases := []struct {
		name            string
		percent         int
		wantDiscount    string
		wantFinal       string
		requiresPayment bool
	}{
		{"no discount", 0, "0.00", "499.00", true},
		{"ten percent", 10, "49.90", "449.10", true},
		{"twenty percent", 20, "99.80", "399.20", true},
		{"half off", 50, "249.50", "249.50", true},
		{"ninety nine", 99, "494.01", "4.99", true},
		{"full grant", 100, "499.00", "0.00", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			quote := ComputeDiscount(tc.percent, price)

			assert.True(t, quote.DiscountAmount.Equal(decimal.RequireFromString(tc.wantDiscount)),
				"discount = %s", quote.DiscountAmount)
			assert.True(t, quote.FinalPrice.Equal(decimal.RequireFromString(tc.wantFinal)),
				"final = %s", quote.FinalPrice)
			assert.Equal(t, tc.requiresPayment, quote.RequiresPayment)

			// Discount plus final always reassembles the original price.
			assert.True(t, quote.DiscountAmount.Add(quote.FinalPrice).Equal(price))
		})
	}
}

func TestComputeDiscountRoundsHalfUp(t *testing.T) {
	// 15% of 33.33 is 4.9995, which must round to 5.00, not 4.99.
	quote := ComputeDiscount(15, decimal.RequireFromString("33.33"))

	assert.True(t, quote.DiscountAmount.Equal(decimal.RequireFromString("5.00")),
		"discount = %s", quote.DiscountAmount)
	assert.True(t, quote.FinalPrice.Equal(decimal.RequireFromString("28.33")))
}

func TestComputeDiscountClampsPercent(t *testing.T) {
	price := decimal.RequireFromString("100.00")

	over := ComputeDiscount(150, price)
	assert.True(t, over.FinalPrice.IsZero())
	assert.False(t, over.RequiresPayment)

	under := ComputeDiscount(-5, price)
	assert.True(t, under.DiscountAmount.IsZero())
	assert.True(t, under.FinalPrice.Equal(price))
}
