package checkout

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/app/service/lifecycle"
	"github.com/fatflowers/billing/internal/app/service/notification"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/types"
)

type settleOutcome int

const (
	settleNoop settleOutcome = iota
	settleApplied
	// settleLate is a confirmation for a payment that already left pending.
	settleLate
)

// markPaid confirms p and moves t to in_progress. Must run under the transaction lock
// after reconcile, so an overdue payment is already expired and reported late.
func (s *Service) markPaid(ctx context.Context, tx *gorm.DB, t *models.Transaction, p *models.Payment, trigger lifecycle.Trigger, decidedBy *string, now time.Time) (settleOutcome, []notification.Event, error) {
	switch p.Status {
	case types.PaymentStatusPaid:
		return settleNoop, nil, nil
	case types.PaymentStatusPending:
	default:
		logctx.FromCtx(ctx, s.log).Warnw("late payment confirmation, not applied",
			"transaction_id", p.TransactionID, "payment_id", p.ID, "payment_status", p.Status, "trigger", trigger)
		return settleLate, []notification.Event{{
			Type: notification.EventLatePaymentConfirmation, TransactionID: p.TransactionID, PaymentID: p.ID,
			CustomerID: p.CustomerID, OccurredAt: now, Data: map[string]any{"payment_status": p.Status},
		}}, nil
	}

	if _, err := s.writer.SetPaymentStatus(ctx, tx, p, types.PaymentStatusPaid, trigger,
		&lifecycle.PaymentChange{PaidAt: &now, DecidedBy: decidedBy}); err != nil {
		return settleNoop, nil, err
	}
	if t.Status == types.TransactionStatusPending {
		if _, err := s.writer.SetTransactionStatus(ctx, tx, t, types.TransactionStatusInProgress, trigger,
			&lifecycle.TransactionChange{PaidAt: &now}); err != nil {
			return settleNoop, nil, err
		}
	} else {
		logctx.FromCtx(ctx, s.log).Errorw("payment confirmed on a transaction not awaiting payment",
			"transaction_id", t.ID, "transaction_status", t.Status, "payment_id", p.ID)
	}
	return settleApplied, []notification.Event{{
		Type: notification.EventPaymentConfirmed, TransactionID: p.TransactionID, PaymentID: p.ID,
		CustomerID: p.CustomerID, OccurredAt: now,
		Data: map[string]any{"amount": p.Amount.String(), "currency": p.Currency, "method": p.Method},
	}}, nil
}

// markFailed moves a pending p to failed or rejected. The transaction stays pending
// so the customer can pay again until it expires. A paid payment is left untouched.
func (s *Service) markFailed(ctx context.Context, tx *gorm.DB, p *models.Payment, to types.PaymentStatus, reason string, trigger lifecycle.Trigger, decidedBy *string, now time.Time) (settleOutcome, []notification.Event, error) {
	if p.Status != types.PaymentStatusPending {
		return settleNoop, nil, nil
	}
	change := &lifecycle.PaymentChange{DecidedBy: decidedBy}
	eventType := notification.EventPaymentFailed
	switch {
	case to == types.PaymentStatusRejected:
		change.RejectReason = &reason
		eventType = notification.EventPaymentRejected
	case to == types.PaymentStatusExpired:
		eventType = notification.EventPaymentExpired
	case reason != "":
		change.FailureReason = &reason
	}
	if _, err := s.writer.SetPaymentStatus(ctx, tx, p, to, trigger, change); err != nil {
		return settleNoop, nil, err
	}
	return settleApplied, []notification.Event{{
		Type: eventType, TransactionID: p.TransactionID, PaymentID: p.ID, CustomerID: p.CustomerID,
		OccurredAt: now, Data: map[string]any{"reason": reason},
	}}, nil
}

// activateAfterCommit drives activation once a payment is confirmed. Failures are
// logged only; the transaction stays in_progress for the next trigger.
func (s *Service) activateAfterCommit(ctx context.Context, t *models.Transaction) {
	if t == nil || t.Status != types.TransactionStatusInProgress {
		return
	}
	res, err := s.activator.Activate(ctx, t.ID)
	if err != nil {
		logctx.FromCtx(ctx, s.log).Warnw("activation did not complete", "transaction_id", t.ID, "err", err)
		return
	}
	logctx.FromCtx(ctx, s.log).Debugw("activation attempted", "transaction_id", t.ID, "activated", res.Activated, "reason", res.Reason)
}
