package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/testutil"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

func TestFallbackUniqueCode_DeterministicAndInRange(t *testing.T) {
	id := "0190a5c2-7b3d-7e21-9f00-123456789abc"
	require.Equal(t, FallbackUniqueCode(id), FallbackUniqueCode(id))
	for i := 0; i < 1000; i++ {
		code := FallbackUniqueCode(tool.GenerateUUIDV7())
		require.GreaterOrEqual(t, code, MinUniqueCode)
		require.LessOrEqual(t, code, MaxUniqueCode)
	}
	// ids without digits still hash
	code := FallbackUniqueCode("abcdef")
	require.GreaterOrEqual(t, code, MinUniqueCode)
}

func TestDeriveUniqueCode(t *testing.T) {
	id := "pay-42"
	require.Equal(t, 247, DeriveUniqueCode(d("98747"), d("98500"), types.CurrencyIDR, id))
	require.Equal(t, 247, DeriveUniqueCode(d("12.47"), d("10.00"), types.CurrencyUSD, id))

	fallback := FallbackUniqueCode(id)
	require.Equal(t, fallback, DeriveUniqueCode(d("98500"), d("98500"), types.CurrencyIDR, id))
	require.Equal(t, fallback, DeriveUniqueCode(d("98000"), d("98500"), types.CurrencyIDR, id))
	require.Equal(t, fallback, DeriveUniqueCode(d("100000"), d("98500"), types.CurrencyIDR, id))
	require.Equal(t, fallback, DeriveUniqueCode(d("10.005"), d("10"), types.CurrencyUSD, id))
}

func TestUniqueCodeAllocator_ThousandCollidingPayments(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	clock := testutil.NewClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	alloc := NewUniqueCodeAllocator(30, 48*time.Hour, clock.Now)
	base := d("98500")

	fallbacks := 0
	primary := map[int]bool{}
	for i := 0; i < 1000; i++ {
		id := tool.GenerateUUIDV7()
		code, fallback, err := alloc.Allocate(ctx, db, id, types.CurrencyIDR, base)
		require.NoError(t, err)
		require.GreaterOrEqual(t, code, MinUniqueCode)
		require.LessOrEqual(t, code, MaxUniqueCode)
		if fallback {
			fallbacks++
			require.Equal(t, FallbackUniqueCode(id), code)
		} else {
			require.False(t, primary[code], "primary allocator reused code %d", code)
			primary[code] = true
		}
		require.NoError(t, db.Create(&models.Payment{
			ID:               id,
			TransactionID:    tool.GenerateUUIDV7(),
			CustomerID:       "c",
			Method:           types.PaymentMethodManualTransfer,
			Provider:         types.PaymentProviderManual,
			Currency:         types.CurrencyIDR,
			BaseAmount:       base,
			ServiceFeeAmount: decimal.Zero,
			UniqueCode:       code,
			Amount:           WithUniqueCode(base, code, types.CurrencyIDR),
			Status:           types.PaymentStatusPending,
			ExpiresAt:        clock.Now().Add(time.Hour),
			CreatedAt:        clock.Now(),
		}).Error)
	}
	// only 900 codes exist, so at least 100 allocations had to fall back
	require.GreaterOrEqual(t, fallbacks, 100)
}

func TestUniqueCodeAllocator_FallbackWhenEveryCandidateCollides(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	clock := testutil.NewClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	base := d("50000")

	require.NoError(t, db.Create(&models.Payment{
		ID: tool.GenerateUUIDV7(), TransactionID: tool.GenerateUUIDV7(), CustomerID: "c",
		Method: types.PaymentMethodManualTransfer, Provider: types.PaymentProviderManual, Currency: types.CurrencyIDR,
		BaseAmount: base, ServiceFeeAmount: decimal.Zero, UniqueCode: 555, Amount: d("50555"),
		Status: types.PaymentStatusPending, ExpiresAt: clock.Now().Add(time.Hour), CreatedAt: clock.Now(),
	}).Error)

	// the random source keeps proposing the taken code
	alloc := NewUniqueCodeAllocator(5, time.Hour, clock.Now).WithRand(func(int) int { return 555 - MinUniqueCode })
	code, fallback, err := alloc.Allocate(ctx, db, "pay-0001", types.CurrencyIDR, base)
	require.NoError(t, err)
	require.True(t, fallback)
	require.Equal(t, FallbackUniqueCode("pay-0001"), code)

	// a different base amount, another currency or an old payment do not collide
	code, fallback, err = alloc.Allocate(ctx, db, "pay-0002", types.CurrencyIDR, d("50001"))
	require.NoError(t, err)
	require.False(t, fallback)
	require.Equal(t, 555, code)

	code, fallback, err = alloc.Allocate(ctx, db, "pay-0003", types.CurrencyUSD, base)
	require.NoError(t, err)
	require.False(t, fallback)
	require.Equal(t, 555, code)

	clock.Advance(2 * time.Hour)
	_, fallback, err = alloc.Allocate(ctx, db, "pay-0004", types.CurrencyIDR, base)
	require.NoError(t, err)
	require.False(t, fallback)
}
