package voucher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/testutil"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

var d = decimal.RequireFromString

func newTestService(t *testing.T) (*Service, *gorm.DB, *testutil.Clock) {
	t.Helper()
	db := testutil.NewDB(t)
	clock := testutil.NewClock(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	return NewService(db, zap.NewNop().Sugar()).WithClock(clock.Now), db, clock
}

func newTxn(t *testing.T, db *gorm.DB, currency types.Currency, original string) *models.Transaction {
	t.Helper()
	txn := &models.Transaction{
		ID:               tool.GenerateUUIDV7(),
		CustomerID:       "cust-1",
		Currency:         currency,
		Type:             types.TransactionTypeWhatsApp,
		OriginalAmount:   d(original),
		DiscountAmount:   decimal.Zero,
		ServiceFeeAmount: decimal.Zero,
		FinalAmount:      d(original),
		Status:           types.TransactionStatusCreated,
	}
	require.NoError(t, db.Create(txn).Error)
	return txn
}

// apply redeems code against txn in its own DB transaction, the way checkout does.
func apply(ctx context.Context, svc *Service, db *gorm.DB, txn *models.Transaction, code string) (decimal.Decimal, *models.VoucherUsage, error) {
	var discount decimal.Decimal
	var usage *models.VoucherUsage
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		discount, usage, err = svc.ApplyTx(ctx, tx, txn, code)
		return err
	})
	return discount, usage, err
}

func TestApply_PercentageCappedAndIdempotent(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	idr := types.CurrencyIDR
	require.NoError(t, svc.Create(ctx, &models.Voucher{
		Code: " hemat10 ", Type: types.AdjustmentTypePercentage, Value: d("10"), MaxDiscount: d("5000"),
		Currency: &idr, Quota: 10, Active: true,
	}))
	txn := newTxn(t, db, types.CurrencyIDR, "100000")

	discount, usage, err := apply(ctx, svc, db, txn, "HEMAT10")
	require.NoError(t, err)
	require.True(t, d("5000").Equal(discount))
	require.Equal(t, "HEMAT10", usage.Code)

	again, usage2, err := apply(ctx, svc, db, txn, "HEMAT10")
	require.NoError(t, err)
	require.True(t, discount.Equal(again))
	require.Equal(t, usage.ID, usage2.ID)

	var v models.Voucher
	require.NoError(t, db.First(&v, "code = ?", "HEMAT10").Error)
	require.Equal(t, 1, v.UsedCount)

	var count int64
	require.NoError(t, db.Model(&models.VoucherUsage{}).Where("transaction_id = ?", txn.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)

	var got models.VoucherUsage
	require.NoError(t, db.First(&got, "transaction_id = ?", txn.ID).Error)
	require.Equal(t, usage.ID, got.ID)
}

func TestApply_Failures(t *testing.T) {
	svc, db, clock := newTestService(t)
	ctx := context.Background()
	usd := types.CurrencyUSD
	past := clock.Now().Add(-time.Hour)

	require.NoError(t, svc.Create(ctx, &models.Voucher{Code: "OLD", Type: types.AdjustmentTypeFixed, Value: d("1000"), EndsAt: &past, Active: true}))
	require.NoError(t, svc.Create(ctx, &models.Voucher{Code: "DOLLAR", Type: types.AdjustmentTypeFixed, Value: d("1"), Currency: &usd, Active: true}))
	require.NoError(t, svc.Create(ctx, &models.Voucher{Code: "OFF", Type: types.AdjustmentTypeFixed, Value: d("1"), Active: false}))
	require.NoError(t, svc.Create(ctx, &models.Voucher{Code: "ONCE", Type: types.AdjustmentTypeFixed, Value: d("1000"), Quota: 1, Active: true}))

	cases := []struct {
		code string
		want error
	}{
		{"NOPE", ErrVoucherInvalid},
		{"", ErrVoucherInvalid},
		{"OFF", ErrVoucherInvalid},
		{"OLD", ErrVoucherExpired},
		{"DOLLAR", ErrVoucherCurrencyMismatch},
	}
	for _, c := range cases {
		_, _, err := apply(ctx, svc, db, newTxn(t, db, types.CurrencyIDR, "50000"), c.code)
		require.ErrorIs(t, err, c.want, c.code)
	}

	_, _, err := apply(ctx, svc, db, newTxn(t, db, types.CurrencyIDR, "50000"), "ONCE")
	require.NoError(t, err)
	_, _, err = apply(ctx, svc, db, newTxn(t, db, types.CurrencyIDR, "50000"), "ONCE")
	require.ErrorIs(t, err, ErrVoucherExhausted)
}

func TestApply_QuotaUnderConcurrency(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, &models.Voucher{Code: "FLASH", Type: types.AdjustmentTypeFixed, Value: d("500"), Quota: 3, Active: true}))

	txns := make([]*models.Transaction, 8)
	for i := range txns {
		txns[i] = newTxn(t, db, types.CurrencyIDR, "10000")
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for _, txn := range txns {
		wg.Add(1)
		go func(txn *models.Transaction) {
			defer wg.Done()
			if _, _, err := apply(ctx, svc, db, txn, "FLASH"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(txn)
	}
	wg.Wait()
	require.Equal(t, 3, succeeded)
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.ErrorIs(t, svc.Create(ctx, &models.Voucher{Code: "X", Type: types.AdjustmentTypePercentage, Value: d("101")}), ErrVoucherInvalid)
	require.ErrorIs(t, svc.Create(ctx, &models.Voucher{Code: "Y", Type: "bogus", Value: d("1")}), ErrVoucherInvalid)
	require.ErrorIs(t, svc.Create(ctx, &models.Voucher{Code: "  ", Type: types.AdjustmentTypeFixed, Value: d("1")}), ErrVoucherInvalid)
}
