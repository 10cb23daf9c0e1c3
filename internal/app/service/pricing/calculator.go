// Package pricing derives transaction amounts from line items, vouchers and service-fee rules.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/money"
	"github.com/fatflowers/billing/pkg/types"
)

var ErrInvalidPricingInput = errors.New("invalid pricing input")

type LineItem struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Breakdown struct {
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	TotalAfterDiscount decimal.Decimal `json:"total_after_discount"`
	ServiceFeeAmount   decimal.Decimal `json:"service_fee_amount"`
	FinalAmount        decimal.Decimal `json:"final_amount"`
	// UniqueCode is only set for payments whose amount carries one.
	UniqueCode int `json:"unique_code,omitempty"`
}

// Subtotal sums unit price times quantity. Negative prices or non-positive
// quantities are a malformed cart.
func Subtotal(currency types.Currency, items []LineItem) (decimal.Decimal, error) {
	if !currency.Valid() {
		return decimal.Zero, fmt.Errorf("%w: unsupported currency %q", ErrInvalidPricingInput, currency)
	}
	if len(items) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no items", ErrInvalidPricingInput)
	}
	subtotal := decimal.Zero
	for i, item := range items {
		if item.Quantity <= 0 {
			return decimal.Zero, fmt.Errorf("%w: item %d has quantity %d", ErrInvalidPricingInput, i, item.Quantity)
		}
		if item.UnitPrice.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: item %d has negative price %s", ErrInvalidPricingInput, i, item.UnitPrice)
		}
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if subtotal.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative subtotal %s", ErrInvalidPricingInput, subtotal)
	}
	return money.Round(subtotal, currency), nil
}

// Discount applies voucher to subtotal. The discount never exceeds the subtotal.
func Discount(subtotal decimal.Decimal, voucher *money.Adjustment, currency types.Currency) decimal.Decimal {
	d := voucher.Apply(subtotal, currency)
	if d.GreaterThan(subtotal) {
		return subtotal
	}
	return d
}

// ServiceFee applies rule to the discounted total.
func ServiceFee(totalAfterDiscount decimal.Decimal, rule *money.Adjustment, currency types.Currency) decimal.Decimal {
	return rule.Apply(totalAfterDiscount, currency)
}

// Finalize completes a breakdown when the discount is already fixed, e.g. by a recorded voucher usage.
func Finalize(subtotal, discount decimal.Decimal, fee *money.Adjustment, currency types.Currency) *Breakdown {
	after := subtotal.Sub(discount)
	serviceFee := ServiceFee(after, fee, currency)
	return &Breakdown{
		Subtotal:           subtotal,
		DiscountAmount:     discount,
		TotalAfterDiscount: after,
		ServiceFeeAmount:   serviceFee,
		FinalAmount:        after.Add(serviceFee),
	}
}

// FromTransaction rebuilds the breakdown persisted on t.
func FromTransaction(t *models.Transaction) *Breakdown {
	after := t.OriginalAmount.Sub(t.DiscountAmount)
	return &Breakdown{
		Subtotal:           t.OriginalAmount,
		DiscountAmount:     t.DiscountAmount,
		TotalAfterDiscount: after,
		ServiceFeeAmount:   t.ServiceFeeAmount,
		FinalAmount:        t.FinalAmount,
	}
}

// Consistent reports whether t satisfies final == original - discount + fee.
func Consistent(t *models.Transaction) bool {
	return t.FinalAmount.Equal(t.OriginalAmount.Sub(t.DiscountAmount).Add(t.ServiceFeeAmount))
}
