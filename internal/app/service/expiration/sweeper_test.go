package expiration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/models"
	cfgpkg "github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/lock"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

func TestSweeper_Sweep(t *testing.T) {
	f := newFixture(t)
	log := zap.NewNop().Sugar()
	cfg := cfgpkg.Default()
	cfg.Sweep.RetryActivation = false
	guard := lock.NewGuard(lock.NewLocalLocker(), lock.RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}, log, nil)
	s := NewSweeper(f.db, guard, f.enforcer, subscription.NewService(f.db, log), nil, nil, log, cfg).
		WithClock(func() time.Time { return base })

	overdueTxn, _ := seed(t, f.db, types.TransactionStatusPending, base.Add(-time.Minute), types.PaymentStatusPending, base.Add(time.Hour))
	overduePay, overduePayment := seed(t, f.db, types.TransactionStatusPending, base.Add(time.Hour), types.PaymentStatusPending, base.Add(-time.Minute))
	fresh, _ := seed(t, f.db, types.TransactionStatusPending, base.Add(time.Hour), types.PaymentStatusPending, base.Add(time.Hour))

	lapsedAt := base.Add(-24 * time.Hour)
	require.NoError(t, f.db.Create(&models.Subscription{
		ID: tool.GenerateUUIDV7(), CustomerID: "cust-1", PackageID: "whatsapp",
		Status: types.SubscriptionStatusActive, ExpiredAt: &lapsedAt,
	}).Error)

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.PaymentsExpired)
	require.Equal(t, 1, res.TransactionsExpired)
	require.EqualValues(t, 1, res.SubscriptionsLapsed)

	statusOf := func(id string) types.TransactionStatus {
		var txn models.Transaction
		require.NoError(t, f.db.First(&txn, "id = ?", id).Error)
		return txn.Status
	}
	require.Equal(t, types.TransactionStatusExpired, statusOf(overdueTxn.ID))
	require.Equal(t, types.TransactionStatusPending, statusOf(overduePay.ID))
	require.Equal(t, types.TransactionStatusPending, statusOf(fresh.ID))

	var p models.Payment
	require.NoError(t, f.db.First(&p, "id = ?", overduePayment.ID).Error)
	require.Equal(t, types.PaymentStatusExpired, p.Status)

	// a second pass has nothing left to do
	res, err = s.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.PaymentsExpired+res.TransactionsExpired)
	require.Zero(t, res.SubscriptionsLapsed)
}
