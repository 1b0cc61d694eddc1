package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestApply(t *testing.T) {
	d := decimal.RequireFromString

	tests := []struct {
		name   string
		coupon Coupon
		amount string
		want   string
	}{
		{
			name:   "percentage",
			coupon: Coupon{DiscountType: DiscountPercentage, DiscountValue: d("20")},
			amount: "500",
			want:   "100",
		},
		{
			name:   "percentage capped",
			coupon: Coupon{DiscountType: DiscountPercentage, DiscountValue: d("50"), MaxDiscount: d("150")},
			amount: "747",
			want:   "150",
		},
		{
			name:   "percentage floored",
			coupon: Coupon{DiscountType: DiscountPercentage, DiscountValue: d("15")},
			amount: "333",
			want:   "49",
		},
		{
			name:   "flat",
			coupon: Coupon{DiscountType: DiscountFlat, DiscountValue: d("75")},
			amount: "300",
			want:   "75",
		},
		{
			name:   "flat capped by amount",
			coupon: Coupon{DiscountType: DiscountFlat, DiscountValue: d("400")},
			amount: "300",
			want:   "300",
		},
		{
			name:   "negative value yields zero",
			coupon: Coupon{DiscountType: DiscountFlat, DiscountValue: d("-10")},
			amount: "300",
			want:   "0",
		},
		{
			name:   "unknown type",
			coupon: Coupon{DiscountType: "bogo", DiscountValue: d("10")},
			amount: "300",
			want:   "0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(&tt.coupon, d(tt.amount))
			assert.True(t, d(tt.want).Equal(got), "got %s", got)
		})
	}
}
