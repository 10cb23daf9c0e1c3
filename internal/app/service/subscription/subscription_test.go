package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	models "github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/testutil"
	"github.com/fatflowers/billing/pkg/tool"
	types "github.com/fatflowers/billing/pkg/types"
)

func purchase(duration types.SubscriptionDuration) *Purchase {
	return &Purchase{
		CustomerID:        "cust-1",
		PackageID:         "wa-basic",
		TransactionID:     tool.GenerateUUIDV7(),
		TransactionItemID: tool.GenerateUUIDV7(),
		Duration:          duration,
	}
}

func apply(t *testing.T, db *gorm.DB, svc *Service, p *Purchase, now time.Time) (*models.Subscription, bool) {
	t.Helper()
	var sub *models.Subscription
	var applied bool
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		sub, applied, err = svc.ApplyPurchase(context.Background(), tx, p, now)
		return err
	}))
	return sub, applied
}

func TestNextPeriod(t *testing.T) {
	now := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)
	activated := now.Add(-20 * 24 * time.Hour)
	running := now.Add(10 * 24 * time.Hour)
	lapsed := now.Add(-time.Hour)

	tests := []struct {
		name       string
		current    *models.Subscription
		months     int
		wantAct    time.Time
		wantExp    time.Time
		wantReason types.SubscriptionChangeReason
	}{
		{"first purchase", nil, 1, now, now.AddDate(0, 1, 0), types.SubscriptionChangeReasonPurchase},
		{
			"extend from current expiry",
			&models.Subscription{ID: "s", Status: types.SubscriptionStatusActive, ActivatedAt: &activated, ExpiredAt: &running},
			1, activated, running.AddDate(0, 1, 0), types.SubscriptionChangeReasonExtend,
		},
		{
			"reset after lapse",
			&models.Subscription{ID: "s", Status: types.SubscriptionStatusActive, ActivatedAt: &activated, ExpiredAt: &lapsed},
			12, now, now.AddDate(1, 0, 0), types.SubscriptionChangeReasonRenewAfterLapse,
		},
		{
			"reset when inactive",
			&models.Subscription{ID: "s", Status: types.SubscriptionStatusInactive, ExpiredAt: &running},
			1, now, now.AddDate(0, 1, 0), types.SubscriptionChangeReasonRenewAfterLapse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, exp, reason := NextPeriod(tt.current, tt.months, now)
			require.True(t, tt.wantAct.Equal(act), "activated %s", act)
			require.True(t, tt.wantExp.Equal(exp), "expired %s", exp)
			require.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestApplyPurchase_ExtendsFromCurrentExpiry(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, zap.NewNop().Sugar())
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first, applied := apply(t, db, svc, purchase(types.SubscriptionDurationMonthly), t0)
	require.True(t, applied)
	firstExpiry := *first.ExpiredAt
	require.True(t, t0.AddDate(0, 1, 0).Equal(firstExpiry))

	// yearly renewal bought ten days later, before the monthly ran out
	later := t0.Add(10 * 24 * time.Hour)
	second, applied := apply(t, db, svc, purchase(types.SubscriptionDurationYearly), later)
	require.True(t, applied)
	require.Equal(t, first.ID, second.ID)
	require.True(t, firstExpiry.AddDate(1, 0, 0).Equal(second.ExpiredAt.UTC()), "got %s", second.ExpiredAt)
	require.True(t, t0.Equal(second.ActivatedAt.UTC()))

	var logs []*models.SubscriptionLog
	require.NoError(t, db.Order("id").Find(&logs).Error)
	require.Len(t, logs, 2)
	require.Equal(t, types.SubscriptionChangeReasonPurchase, logs[0].Reason)
	require.Equal(t, types.SubscriptionChangeReasonExtend, logs[1].Reason)
	require.Nil(t, logs[0].Before.Data())
	require.NotNil(t, logs[1].Before.Data())
}

func TestApplyPurchase_ResetsAfterLapse(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, zap.NewNop().Sugar())
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	apply(t, db, svc, purchase(types.SubscriptionDurationMonthly), t0)

	now := t0.AddDate(0, 2, 0)
	sub, applied := apply(t, db, svc, purchase(types.SubscriptionDurationMonthly), now)
	require.True(t, applied)
	require.True(t, now.AddDate(0, 1, 0).Equal(sub.ExpiredAt.UTC()))
	require.True(t, now.Equal(sub.ActivatedAt.UTC()))
}

func TestApplyPurchase_SameLineIsAppliedOnce(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, zap.NewNop().Sugar())
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := purchase(types.SubscriptionDurationMonthly)

	first, applied := apply(t, db, svc, p, t0)
	require.True(t, applied)

	again, applied := apply(t, db, svc, p, t0.Add(time.Hour))
	require.False(t, applied)
	require.Equal(t, first.ID, again.ID)
	require.True(t, first.ExpiredAt.Equal(again.ExpiredAt.UTC()))

	var count int64
	require.NoError(t, db.Model(&models.SubscriptionLog{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestApplyPurchase_UnknownDuration(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, zap.NewNop().Sugar())
	err := db.Transaction(func(tx *gorm.DB) error {
		_, _, err := svc.ApplyPurchase(context.Background(), tx, purchase(""), time.Now().UTC())
		return err
	})
	require.ErrorIs(t, err, ErrUnknownDuration)
}

func TestMarkLapsed(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, zap.NewNop().Sugar())
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	apply(t, db, svc, purchase(types.SubscriptionDurationMonthly), t0)

	n, err := svc.MarkLapsed(context.Background(), t0.Add(24*time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = svc.MarkLapsed(context.Background(), t0.AddDate(0, 1, 1))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	subs, err := svc.GetCustomerSubscriptions(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, types.SubscriptionStatusInactive, subs[0].Status)
}
