package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/metrics"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

// Trigger names the caller that caused a transition. It is recorded in the audit logs.
type Trigger string

const (
	TriggerCustomer   Trigger = "customer"
	TriggerAdmin      Trigger = "admin"
	TriggerWebhook    Trigger = "webhook"
	TriggerPoll       Trigger = "poll"
	TriggerExpiry     Trigger = "expiry"
	TriggerActivation Trigger = "activation"
	TriggerCheckout   Trigger = "checkout"
)

// Writer applies validated transitions to rows inside a caller-owned DB transaction.
// Callers hold the per-transaction lock; the status predicate on every UPDATE is a
// second guard for writers outside this process.
type Writer struct {
	log     *zap.SugaredLogger
	metrics *metrics.Business
	now     func() time.Time
}

func NewWriter(log *zap.SugaredLogger, m *metrics.Business) *Writer {
	return &Writer{log: log, metrics: m, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock returns a copy of w using now for timestamps.
func (w *Writer) WithClock(now func() time.Time) *Writer {
	cp := *w
	cp.now = now
	return &cp
}

// LockTransaction reloads a transaction with a row lock (FOR UPDATE where supported).
func LockTransaction(ctx context.Context, tx *gorm.DB, id string) (*models.Transaction, error) {
	var t models.Transaction
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// LockPayment reloads a payment with a row lock.
func LockPayment(ctx context.Context, tx *gorm.DB, id string) (*models.Payment, error) {
	var p models.Payment
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// CurrentPayment returns the newest payment of a transaction, or nil.
func CurrentPayment(ctx context.Context, tx *gorm.DB, transactionID string) (*models.Payment, error) {
	var payments []*models.Payment
	if err := tx.WithContext(ctx).Where("transaction_id = ?", transactionID).
		Order("created_at desc, id desc").Limit(1).Find(&payments).Error; err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, nil
	}
	return payments[0], nil
}

// TransactionChange carries the extra columns written with a status change.
type TransactionChange struct {
	CancelReason *string
	PaidAt       *time.Time
	CompletedAt  *time.Time
}

// SetTransactionStatus moves t to `to`. t is updated in place on success.
func (w *Writer) SetTransactionStatus(ctx context.Context, tx *gorm.DB, t *models.Transaction, to types.TransactionStatus, trigger Trigger, change *TransactionChange) (bool, error) {
	from := t.Status
	changed, err := TransitionTransaction(from, to)
	if err != nil || !changed {
		return false, err
	}

	before := *t
	updates := map[string]any{"status": to, "updated_at": w.now()}
	if change != nil {
		if change.CancelReason != nil {
			updates["cancel_reason"] = *change.CancelReason
			t.CancelReason = change.CancelReason
		}
		if change.PaidAt != nil {
			updates["paid_at"] = *change.PaidAt
			t.PaidAt = change.PaidAt
		}
		if change.CompletedAt != nil {
			updates["completed_at"] = *change.CompletedAt
			t.CompletedAt = change.CompletedAt
		}
	}
	res := tx.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", t.ID, from).Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update transaction status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, fmt.Errorf("%w: %s changed concurrently from %s", ErrIllegalTransactionTransition, t.ID, from)
	}
	t.Status = to
	t.UpdatedAt = updates["updated_at"].(time.Time)

	entry := &models.TransactionLog{
		ID:            tool.GenerateUUIDV7(),
		TransactionID: t.ID,
		From:          string(from),
		To:            string(to),
		Trigger:       string(trigger),
		Before:        datatypes.NewJSONType(&before),
		After:         datatypes.NewJSONType(t),
		Extra:         datatypes.JSONMap{"trace_id": logctx.TraceID(ctx)},
	}
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return false, fmt.Errorf("failed to save transaction log: %w", err)
	}

	w.metrics.Transition("transaction", string(from), string(to))
	logctx.FromCtx(ctx, w.log).Infow("transaction transition",
		"transaction_id", t.ID, "from", from, "to", to, "trigger", trigger)
	return true, nil
}

// PaymentChange carries the extra columns written with a payment status change.
type PaymentChange struct {
	PaidAt        *time.Time
	RejectReason  *string
	FailureReason *string
	DecidedBy     *string
}

// SetPaymentStatus moves p to `to`. p is updated in place on success.
func (w *Writer) SetPaymentStatus(ctx context.Context, tx *gorm.DB, p *models.Payment, to types.PaymentStatus, trigger Trigger, change *PaymentChange) (bool, error) {
	from := p.Status
	changed, err := TransitionPayment(from, to)
	if err != nil || !changed {
		return false, err
	}

	before := *p
	updates := map[string]any{"status": to, "updated_at": w.now()}
	if change != nil {
		if change.PaidAt != nil {
			updates["paid_at"] = *change.PaidAt
			p.PaidAt = change.PaidAt
		}
		if change.RejectReason != nil {
			updates["reject_reason"] = *change.RejectReason
			p.RejectReason = change.RejectReason
		}
		if change.FailureReason != nil {
			updates["failure_reason"] = *change.FailureReason
			p.FailureReason = change.FailureReason
		}
		if change.DecidedBy != nil {
			updates["decided_by"] = *change.DecidedBy
			p.DecidedBy = change.DecidedBy
		}
	}
	res := tx.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", p.ID, from).Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update payment status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, fmt.Errorf("%w: %s changed concurrently from %s", ErrIllegalPaymentTransition, p.ID, from)
	}
	p.Status = to
	p.UpdatedAt = updates["updated_at"].(time.Time)

	entry := &models.PaymentLog{
		ID:            tool.GenerateUUIDV7(),
		PaymentID:     p.ID,
		TransactionID: p.TransactionID,
		From:          string(from),
		To:            string(to),
		Trigger:       string(trigger),
		Before:        datatypes.NewJSONType(&before),
		After:         datatypes.NewJSONType(p),
		Extra:         datatypes.JSONMap{"trace_id": logctx.TraceID(ctx)},
	}
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return false, fmt.Errorf("failed to save payment log: %w", err)
	}

	w.metrics.Transition("payment", string(from), string(to))
	logctx.FromCtx(ctx, w.log).Infow("payment transition",
		"transaction_id", p.TransactionID, "payment_id", p.ID, "from", from, "to", to, "trigger", trigger)
	return true, nil
}

var Module = fx.Options(
	fx.Provide(NewWriter),
)
