// Package money holds fixed-point helpers shared by pricing and gateways.
// Amounts are never represented as floats.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/billing/pkg/types"
)

var hundred = decimal.NewFromInt(100)

// Round rounds half-up to the currency exponent.
func Round(amount decimal.Decimal, currency types.Currency) decimal.Decimal {
	return amount.Round(currency.Exponent())
}

// Percent returns value percent of base, rounded for currency.
func Percent(base, value decimal.Decimal, currency types.Currency) decimal.Decimal {
	return Round(base.Mul(value).Div(hundred), currency)
}

// MinorUnit is the smallest representable step for currency (1 for IDR, 0.01 for USD).
func MinorUnit(currency types.Currency) decimal.Decimal {
	return decimal.New(1, -currency.Exponent())
}

// FromMinor converts an integer count of minor units into an amount.
func FromMinor(units int64, currency types.Currency) decimal.Decimal {
	return decimal.New(units, -currency.Exponent())
}

// ToMinor converts amount into integer minor units. Fractions below the minor unit are an error.
func ToMinor(amount decimal.Decimal, currency types.Currency) (int64, error) {
	scaled := amount.Shift(currency.Exponent())
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more precision than %s allows", amount, currency)
	}
	return scaled.IntPart(), nil
}

// Parse reads a decimal string from configuration.
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// Clamp bounds v to [lo, hi]. A zero hi means unbounded.
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		v = lo
	}
	if hi.IsPositive() && v.GreaterThan(hi) {
		v = hi
	}
	return v
}

// Adjustment is a percentage or fixed amount bounded by [Min, Max]. Vouchers and
// service-fee rules share this shape.
type Adjustment struct {
	Type  types.AdjustmentType
	Value decimal.Decimal
	Min   decimal.Decimal
	// Max of zero is uncapped.
	Max decimal.Decimal
	// Currency restricts the adjustment when set.
	Currency types.Currency
}

// AppliesTo reports whether the adjustment may be used for currency.
func (a *Adjustment) AppliesTo(currency types.Currency) bool {
	return a != nil && (a.Currency == "" || a.Currency == currency)
}

// Apply computes the bounded adjustment on base. It is zero when the adjustment
// is nil, targets another currency, or base is not positive.
func (a *Adjustment) Apply(base decimal.Decimal, currency types.Currency) decimal.Decimal {
	if !a.AppliesTo(currency) || !base.IsPositive() {
		return decimal.Zero
	}
	var v decimal.Decimal
	switch a.Type {
	case types.AdjustmentTypePercentage:
		v = Percent(base, a.Value, currency)
	case types.AdjustmentTypeFixed:
		v = Round(a.Value, currency)
	default:
		return decimal.Zero
	}
	return Clamp(v, a.Min, a.Max)
}
