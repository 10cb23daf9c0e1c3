package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/app/service/activation"
	"github.com/fatflowers/billing/internal/app/service/lifecycle"
	"github.com/fatflowers/billing/internal/app/service/notification"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/internal/platform/identity"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/types"
)

// Cancel cancels a created or pending transaction and its pending payment.
// Cancelling an already cancelled transaction returns false without error.
func (s *Service) Cancel(ctx context.Context, caller *identity.Caller, transactionID, reason string) (bool, error) {
	var (
		txn     *models.Transaction
		events  []notification.Event
		changed bool
		illegal error
	)
	now := s.now()
	err := s.withTransactionLock(ctx, transactionID, func(tx *gorm.DB) error {
		var err error
		if txn, err = lifecycle.LockTransaction(ctx, tx, transactionID); err != nil {
			return notFound(err, "transaction", transactionID)
		}
		if err := authorize(caller, txn.CustomerID); err != nil {
			return err
		}
		current, expired, err := s.reconcile(ctx, tx, txn, nil, now)
		if err != nil {
			return err
		}
		events = append(events, expired...)
		if txn.Status == types.TransactionStatusCancelled {
			return nil
		}
		if !txn.Status.AwaitingPayment() {
			illegal = fmt.Errorf("%w: %s is %s", lifecycle.ErrIllegalTransactionTransition, txn.ID, txn.Status)
			return nil
		}
		trigger := triggerFor(caller)
		if current != nil && current.Status == types.PaymentStatusPending {
			if _, err := s.writer.SetPaymentStatus(ctx, tx, current, types.PaymentStatusCancelled, trigger, nil); err != nil {
				return err
			}
		}
		change := &lifecycle.TransactionChange{}
		if reason != "" {
			change.CancelReason = &reason
		}
		if changed, err = s.writer.SetTransactionStatus(ctx, tx, txn, types.TransactionStatusCancelled, trigger, change); err != nil {
			return err
		}
		events = append(events, notification.Event{
			Type: notification.EventTransactionCancelled, TransactionID: txn.ID, CustomerID: txn.CustomerID,
			OccurredAt: now, Data: map[string]any{"reason": reason, "by": caller.ID},
		})
		return nil
	})
	if err != nil {
		return false, err
	}
	s.publish(ctx, events)
	if illegal != nil {
		return false, illegal
	}
	return changed, nil
}

// decide loads a manual-approval payment for an admin decision and runs fn under the lock.
func (s *Service) decide(ctx context.Context, caller *identity.Caller, paymentID string,
	fn func(tx *gorm.DB, t *models.Transaction, p *models.Payment, now time.Time) ([]notification.Event, error)) (*models.Payment, *models.Transaction, error) {
	if !caller.IsAdmin() {
		return nil, nil, ErrForbidden
	}
	p, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if !p.ManualApproval {
		return nil, nil, fmt.Errorf("%w: %s uses %s", ErrManualApprovalRequired, p.ID, p.Method)
	}

	var (
		txn    *models.Transaction
		events []notification.Event
		denied error
	)
	now := s.now()
	err = s.withTransactionLock(ctx, p.TransactionID, func(tx *gorm.DB) error {
		var err error
		if txn, err = lifecycle.LockTransaction(ctx, tx, p.TransactionID); err != nil {
			return notFound(err, "transaction", p.TransactionID)
		}
		if p, err = lifecycle.LockPayment(ctx, tx, paymentID); err != nil {
			return err
		}
		_, expired, err := s.reconcile(ctx, tx, txn, p, now)
		if err != nil {
			return err
		}
		events = append(events, expired...)
		decided, err := fn(tx, txn, p, now)
		if errors.Is(err, lifecycle.ErrIllegalPaymentTransition) {
			denied = err
			return nil
		}
		events = append(events, decided...)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.publish(ctx, events)
	return p, txn, denied
}

// Approve confirms a manual transfer. Approving a paid payment is a no-op.
func (s *Service) Approve(ctx context.Context, caller *identity.Caller, paymentID string) (*models.Payment, error) {
	p, txn, err := s.decide(ctx, caller, paymentID, func(tx *gorm.DB, t *models.Transaction, p *models.Payment, now time.Time) ([]notification.Event, error) {
		if p.Status != types.PaymentStatusPending && p.Status != types.PaymentStatusPaid {
			return nil, fmt.Errorf("%w: %s is %s", lifecycle.ErrIllegalPaymentTransition, p.ID, p.Status)
		}
		_, events, err := s.markPaid(ctx, tx, t, p, lifecycle.TriggerAdmin, &caller.ID, now)
		return events, err
	})
	if err != nil {
		return nil, err
	}
	s.activateAfterCommit(ctx, txn)
	logctx.FromCtx(ctx, s.log).Infow("manual payment approved", "payment_id", p.ID, "admin_id", caller.ID)
	return p, nil
}

// Reject declines a manual transfer. The transaction stays pending.
func (s *Service) Reject(ctx context.Context, caller *identity.Caller, paymentID, reason string) (*models.Payment, error) {
	p, _, err := s.decide(ctx, caller, paymentID, func(tx *gorm.DB, _ *models.Transaction, p *models.Payment, now time.Time) ([]notification.Event, error) {
		switch p.Status {
		case types.PaymentStatusRejected:
			return nil, nil
		case types.PaymentStatusPending:
		default:
			return nil, fmt.Errorf("%w: %s is %s", lifecycle.ErrIllegalPaymentTransition, p.ID, p.Status)
		}
		_, events, err := s.markFailed(ctx, tx, p, types.PaymentStatusRejected, reason, lifecycle.TriggerAdmin, &caller.ID, now)
		return events, err
	})
	if err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("manual payment rejected", "payment_id", p.ID, "admin_id", caller.ID, "reason", reason)
	return p, nil
}

func (s *Service) findCallbackPayment(ctx context.Context, cb *gateway.Callback) (*models.Payment, error) {
	q := s.db.WithContext(ctx).Where("provider = ?", cb.Provider)
	switch {
	case cb.PaymentID != "":
		q = q.Where("id = ?", cb.PaymentID)
	case cb.ExternalID != "":
		q = q.Where("external_id = ?", cb.ExternalID)
	default:
		return nil, fmt.Errorf("%w: callback carries no payment reference", ErrNotFound)
	}
	var p models.Payment
	if err := q.First(&p).Error; err != nil {
		return nil, notFound(err, "payment for external id", cb.ExternalID)
	}
	return &p, nil
}

// HandleCallback verifies and applies a provider notification. Every callback is
// recorded in the notification log, including ones that change nothing.
func (s *Service) HandleCallback(ctx context.Context, providerName types.PaymentProvider, header http.Header, body []byte) error {
	start := time.Now()
	defer s.metrics.ObserveSince("checkout", "callback", start)
	log := logctx.FromCtx(ctx, s.log).With("provider", providerName)

	entry := &models.PaymentNotificationLog{
		Provider:         string(providerName),
		TraceID:          logctx.TraceID(ctx),
		NotificationTime: s.now(),
		Data:             callbackData(body),
		Status:           models.PaymentNotificationLogStatusReceived,
	}
	received := *entry
	s.notifLog.Save(ctx, &received)
	finish := func(status models.PaymentNotificationLogStatus, result map[string]any) {
		out := *entry
		out.ID = ""
		out.Status = status
		if raw, err := json.Marshal(result); err == nil {
			r := datatypes.JSON(raw)
			out.Result = &r
		}
		s.notifLog.Save(ctx, &out)
	}

	provider, err := s.gateways.ByName(providerName)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	cb, err := provider.ParseCallback(ctx, header, body)
	if err != nil {
		finish(models.PaymentNotificationLogStatusHandleFailed, map[string]any{"error": err.Error()})
		return err
	}
	entry.EventType = cb.EventType
	entry.ExternalID = cb.ExternalID
	if cb.Status == "" {
		finish(models.PaymentNotificationLogStatusHandled, map[string]any{"ignored": true})
		return nil
	}

	p, err := s.findCallbackPayment(ctx, cb)
	if err != nil {
		finish(models.PaymentNotificationLogStatusHandleFailed, map[string]any{"error": err.Error()})
		return err
	}
	entry.PaymentID = &p.ID

	var (
		txn     *models.Transaction
		events  []notification.Event
		outcome settleOutcome
	)
	now := s.now()
	err = s.withTransactionLock(ctx, p.TransactionID, func(tx *gorm.DB) error {
		var err error
		if txn, err = lifecycle.LockTransaction(ctx, tx, p.TransactionID); err != nil {
			return err
		}
		if p, err = lifecycle.LockPayment(ctx, tx, p.ID); err != nil {
			return err
		}
		_, expired, err := s.reconcile(ctx, tx, txn, p, now)
		if err != nil {
			return err
		}
		events = append(events, expired...)
		var settled []notification.Event
		switch cb.Status {
		case types.PaymentStatusPaid:
			outcome, settled, err = s.markPaid(ctx, tx, txn, p, lifecycle.TriggerWebhook, nil, now)
		case types.PaymentStatusFailed:
			reason := cb.Reason
			if reason == "" {
				reason = cb.EventType
			}
			outcome, settled, err = s.markFailed(ctx, tx, p, types.PaymentStatusFailed, reason, lifecycle.TriggerWebhook, nil, now)
		case types.PaymentStatusExpired:
			// the gateway closed the attempt; the transaction keeps its own deadline
			outcome, settled, err = s.markFailed(ctx, tx, p, types.PaymentStatusExpired, cb.Reason, lifecycle.TriggerWebhook, nil, now)
		}
		events = append(events, settled...)
		return err
	})
	if err != nil {
		log.Errorw("callback handling failed", "payment_id", p.ID, "err", err)
		finish(models.PaymentNotificationLogStatusHandleFailed, map[string]any{"error": err.Error()})
		return err
	}
	s.publish(ctx, events)

	result := map[string]any{"payment_status": p.Status, "transaction_status": txn.Status}
	if outcome == settleLate {
		finish(models.PaymentNotificationLogStatusLateConfirmation, result)
		return nil
	}
	finish(models.PaymentNotificationLogStatusHandled, result)
	s.activateAfterCommit(ctx, txn)
	return nil
}

// callbackData keeps the raw body as JSON; non-JSON bodies are wrapped as a string.
func callbackData(body []byte) datatypes.JSON {
	if json.Valid(body) {
		return datatypes.JSON(body)
	}
	raw, _ := json.Marshal(map[string]string{"raw": string(body)})
	return datatypes.JSON(raw)
}

// Activate lets operators retry activation of an in-progress transaction.
func (s *Service) Activate(ctx context.Context, transactionID string) (*activation.Result, error) {
	res, err := s.activator.Activate(ctx, transactionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, transactionID)
	}
	return res, err
}
