package pricing

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/money"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

const (
	MinUniqueCode = 100
	MaxUniqueCode = 999
)

// FallbackUniqueCode hashes the digits of paymentID into [100, 999]. It is
// deterministic but best-effort: two payments may hash to the same code.
func FallbackUniqueCode(paymentID string) int {
	digits := tool.Digits(paymentID)
	if digits == "" {
		digits = paymentID
	}
	return MinUniqueCode + int(tool.HashString(digits)%uint32(MaxUniqueCode-MinUniqueCode+1))
}

// WithUniqueCode returns the payable amount: final plus code minor units.
func WithUniqueCode(final decimal.Decimal, code int, currency types.Currency) decimal.Decimal {
	return final.Add(money.FromMinor(int64(code), currency))
}

// DeriveUniqueCode reads the code back from a payment amount. Out-of-range or
// malformed differences use the fallback.
func DeriveUniqueCode(paymentAmount, finalAmount decimal.Decimal, currency types.Currency, paymentID string) int {
	diff, err := money.ToMinor(paymentAmount.Sub(finalAmount), currency)
	if err != nil || diff < MinUniqueCode || diff > MaxUniqueCode {
		return FallbackUniqueCode(paymentID)
	}
	return int(diff)
}

// UniqueCodeAllocator picks codes not used by other pending manual transfers of
// the same currency and base amount created within the lookback window.
type UniqueCodeAllocator struct {
	attempts int
	lookback time.Duration
	now      func() time.Time
	intn     func(n int) int
}

func NewUniqueCodeAllocator(attempts int, lookback time.Duration, now func() time.Time) *UniqueCodeAllocator {
	return &UniqueCodeAllocator{attempts: attempts, lookback: lookback, now: now, intn: rand.IntN}
}

// WithRand replaces the random source, for tests.
func (a *UniqueCodeAllocator) WithRand(intn func(n int) int) *UniqueCodeAllocator {
	cp := *a
	cp.intn = intn
	return &cp
}

type codeRow struct {
	BaseAmount decimal.Decimal
	UniqueCode int
}

// Allocate returns a code for a new payment. fallback is true when no free
// code was found in the configured number of attempts.
func (a *UniqueCodeAllocator) Allocate(ctx context.Context, tx *gorm.DB, paymentID string, currency types.Currency, base decimal.Decimal) (code int, fallback bool, err error) {
	var rows []codeRow
	if err := tx.WithContext(ctx).Model(&models.Payment{}).
		Select("base_amount", "unique_code").
		Where("method = ? AND status = ? AND currency = ? AND created_at >= ?",
			types.PaymentMethodManualTransfer, types.PaymentStatusPending, currency, a.now().Add(-a.lookback)).
		Find(&rows).Error; err != nil {
		return 0, false, err
	}

	used := make(map[int]struct{}, len(rows))
	for _, r := range rows {
		// numeric columns may come back with a different scale, so compare values
		if r.BaseAmount.Equal(base) {
			used[r.UniqueCode] = struct{}{}
		}
	}

	span := MaxUniqueCode - MinUniqueCode + 1
	if len(used) < span {
		for i := 0; i < a.attempts; i++ {
			candidate := MinUniqueCode + a.intn(span)
			if _, taken := used[candidate]; !taken {
				return candidate, false, nil
			}
		}
	}
	return FallbackUniqueCode(paymentID), true, nil
}
