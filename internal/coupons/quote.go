package coupons

import "github.com/shopspring/decimal"

var oneHundred = decimal.NewFromInt(100)

// Quote is the priced outcome of applying a discount percentage to a course
// price. FinalPrice of zero means no payment session is needed.
type Quote struct {
	OriginalPrice   decimal.Decimal
	DiscountAmount  decimal.Decimal
	FinalPrice      decimal.Decimal
	RequiresPayment bool
}

// ComputeDiscount applies percent to price with the discount rounded
// half-up at the cent. The final price is derived by subtraction so the
// parts always re-add to the original.
func ComputeDiscount(percent int, price decimal.Decimal) Quote {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	discount := price.
		Mul(decimal.NewFromInt(int64(percent))).
		Div(oneHundred).
		Round(2)
	final := price.Sub(discount)

	return Quote{
		OriginalPrice:   price,
		DiscountAmount:  discount,
		FinalPrice:      final,
		RequiresPayment: final.GreaterThan(decimal.Zero),
	}
}
