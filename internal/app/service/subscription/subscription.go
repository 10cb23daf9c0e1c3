package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	models "github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/tool"
	types "github.com/fatflowers/billing/pkg/types"
)

var ErrUnknownDuration = errors.New("unknown subscription duration")

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

// Purchase is one paid WhatsApp package line to apply.
type Purchase struct {
	CustomerID        string
	PackageID         string
	TransactionID     string
	TransactionItemID string
	Duration          types.SubscriptionDuration
}

// NextPeriod computes the period after buying months more of current at now.
// A subscription still running at now is extended from its current expiry so no
// paid time is lost; a lapsed or missing one restarts at now.
func NextPeriod(current *models.Subscription, months int, now time.Time) (activatedAt, expiredAt time.Time, reason types.SubscriptionChangeReason) {
	if current.ActiveAt(now) {
		activatedAt = now
		if current.ActivatedAt != nil {
			activatedAt = *current.ActivatedAt
		}
		return activatedAt, current.ExpiredAt.AddDate(0, months, 0), types.SubscriptionChangeReasonExtend
	}
	reason = types.SubscriptionChangeReasonPurchase
	if current != nil && current.ID != "" {
		reason = types.SubscriptionChangeReasonRenewAfterLapse
	}
	return now, now.AddDate(0, months, 0), reason
}

// ApplyPurchase applies p inside tx. The subscription log row keyed by
// (transaction, item) is the witness: a line already applied is returned
// unchanged with applied=false.
func (s *Service) ApplyPurchase(ctx context.Context, tx *gorm.DB, p *Purchase, now time.Time) (sub *models.Subscription, applied bool, err error) {
	months := p.Duration.Months()
	if months == 0 {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownDuration, p.Duration)
	}

	var witness []*models.SubscriptionLog
	if err := tx.WithContext(ctx).
		Where("transaction_id = ? AND transaction_item_id = ?", p.TransactionID, p.TransactionItemID).
		Limit(1).Find(&witness).Error; err != nil {
		return nil, false, fmt.Errorf("failed to check subscription log: %w", err)
	}
	if len(witness) > 0 {
		var existing models.Subscription
		if err := tx.WithContext(ctx).Where("id = ?", witness[0].SubscriptionID).First(&existing).Error; err != nil {
			return nil, false, fmt.Errorf("failed to load applied subscription: %w", err)
		}
		return &existing, false, nil
	}

	var original models.Subscription
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("customer_id = ? AND package_id = ?", p.CustomerID, p.PackageID).
		First(&original).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to get original subscription: %w", err)
	}

	before := func() *models.Subscription {
		if original.ID == "" {
			return nil
		}
		// make a copy value to snapshot
		cp := original
		return &cp
	}()

	activatedAt, expiredAt, reason := NextPeriod(before, months, now)

	sub = &original
	create := sub.ID == ""
	if create {
		sub.ID = tool.GenerateUUIDV7()
		sub.CustomerID = p.CustomerID
		sub.PackageID = p.PackageID
	}
	sub.Status = types.SubscriptionStatusActive
	sub.ActivatedAt = &activatedAt
	sub.ExpiredAt = &expiredAt
	sub.LastTransactionID = &p.TransactionID
	sub.Extra = datatypes.JSONMap{"last_duration": string(p.Duration)}

	write := tx.WithContext(ctx).Save
	if create {
		write = tx.WithContext(ctx).Create
	}
	if err := write(sub).Error; err != nil {
		return nil, false, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	entry := &models.SubscriptionLog{
		ID:                tool.GenerateUUIDV7(),
		CustomerID:        p.CustomerID,
		SubscriptionID:    sub.ID,
		TransactionID:     p.TransactionID,
		TransactionItemID: p.TransactionItemID,
		Reason:            reason,
		Before:            datatypes.NewJSONType(before),
		After:             datatypes.NewJSONType(sub),
		Extra:             datatypes.JSONMap{"trace_id": logctx.TraceID(ctx)},
	}
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, false, fmt.Errorf("failed to save subscription log: %w", err)
	}

	logctx.FromCtx(ctx, s.log).Infow("whatsapp subscription updated",
		"customer_id", p.CustomerID, "package_id", p.PackageID, "transaction_id", p.TransactionID,
		"reason", reason, "expired_at", expiredAt)
	return sub, true, nil
}

// GetCustomerSubscriptions lists a customer's subscriptions, newest expiry first.
func (s *Service) GetCustomerSubscriptions(ctx context.Context, customerID string) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	if err := s.db.WithContext(ctx).Where("customer_id = ?", customerID).
		Order("expired_at desc").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// MarkLapsed flips subscriptions whose period ended before now to inactive and
// returns how many rows changed.
func (s *Service) MarkLapsed(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status = ? AND expired_at <= ?", types.SubscriptionStatusActive, now).
		Updates(map[string]any{"status": types.SubscriptionStatusInactive, "updated_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark lapsed subscriptions: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		logctx.FromCtx(ctx, s.log).Infow("subscriptions lapsed", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
