package policy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Refund types accepted on cancel-request resolution.
const (
	RefundFull    = "full"
	RefundPartial = "partial"
	RefundNone    = "none"
	RefundCustom  = "custom"
)

// ComputeRefund returns the amount to credit back when a cancel request is
// approved. Partial refunds are prorated by undelivered units: price *
// remains / quantity, computed with decimals and rounded to 2 places so
// repeated partials never leak fractions of a cent. Custom amounts must
// stay within [0, price]; exactly the order price is accepted, anything
// above it is rejected rather than silently clamped.
func ComputeRefund(refundType string, price float64, remains, quantity int, customAmount float64) (float64, error) {
	switch refundType {
	case RefundFull:
		return price, nil
	case RefundNone:
		return 0, nil
	case RefundPartial:
		if quantity <= 0 {
			return 0, fmt.Errorf("cannot prorate refund: order quantity is %d", quantity)
		}
		if remains <= 0 {
			return 0, nil
		}
		if remains >= quantity {
			return price, nil
		}
		p := decimal.NewFromFloat(price)
		amount := p.Mul(decimal.NewFromInt(int64(remains))).
			Div(decimal.NewFromInt(int64(quantity))).
			Round(2)
		f, _ := amount.Float64()
		return f, nil
	case RefundCustom:
		if customAmount < 0 {
			return 0, fmt.Errorf("custom refund amount cannot be negative")
		}
		if customAmount > price {
			return 0, fmt.Errorf("custom refund %.2f exceeds order price %.2f", customAmount, price)
		}
		d := decimal.NewFromFloat(customAmount).Round(2)
		f, _ := d.Float64()
		return f, nil
	default:
		return 0, fmt.Errorf("unknown refund type %q", refundType)
	}
}
