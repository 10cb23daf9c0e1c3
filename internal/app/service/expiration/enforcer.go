// Package expiration reconciles stored deadlines with the current time.
// The same Reconcile runs inline on every read/mutate path and from the periodic sweep.
package expiration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/app/service/lifecycle"
	"github.com/fatflowers/billing/internal/app/service/notification"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/types"
)

// Decision is what Reconcile must write. Both false means nothing is overdue.
type Decision struct {
	ExpirePayment     bool
	ExpireTransaction bool
}

func (d Decision) Any() bool { return d.ExpirePayment || d.ExpireTransaction }

// Decide compares the deadlines of t and its current payment p (may be nil) with now.
// A paid payment is never expired, and its transaction is left for activation.
func Decide(t *models.Transaction, p *models.Payment, now time.Time) Decision {
	var d Decision
	if p != nil && p.Status == types.PaymentStatusPaid {
		return d
	}
	if p != nil && p.Status == types.PaymentStatusPending && p.IsOverdue(now) {
		d.ExpirePayment = true
	}
	if t != nil && t.Status.AwaitingPayment() && t.IsOverdue(now) {
		d.ExpireTransaction = true
		if p != nil && p.Status == types.PaymentStatusPending {
			d.ExpirePayment = true
		}
	}
	return d
}

// Result reports the writes Reconcile performed.
type Result struct {
	PaymentExpired     bool
	TransactionExpired bool
}

type Enforcer struct {
	writer   *lifecycle.Writer
	notifier notification.Notifier
	log      *zap.SugaredLogger
}

func NewEnforcer(writer *lifecycle.Writer, notifier notification.Notifier, log *zap.SugaredLogger) *Enforcer {
	return &Enforcer{writer: writer, notifier: notifier, log: log}
}

// Reconcile applies Decide inside tx. The caller holds the transaction lock and has
// loaded t and p within tx. Re-running on already expired rows writes nothing.
func (e *Enforcer) Reconcile(ctx context.Context, tx *gorm.DB, t *models.Transaction, p *models.Payment, now time.Time) (*Result, error) {
	d := Decide(t, p, now)
	res := &Result{}
	if !d.Any() {
		return res, nil
	}
	if d.ExpirePayment {
		changed, err := e.writer.SetPaymentStatus(ctx, tx, p, types.PaymentStatusExpired, lifecycle.TriggerExpiry, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to expire payment %s: %w", p.ID, err)
		}
		res.PaymentExpired = changed
	}
	if d.ExpireTransaction {
		changed, err := e.writer.SetTransactionStatus(ctx, tx, t, types.TransactionStatusExpired, lifecycle.TriggerExpiry, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to expire transaction %s: %w", t.ID, err)
		}
		res.TransactionExpired = changed
	}
	return res, nil
}

// Events lists the notifications for the writes in res.
func Events(res *Result, t *models.Transaction, p *models.Payment, now time.Time) []notification.Event {
	if res == nil {
		return nil
	}
	var events []notification.Event
	if res.PaymentExpired && p != nil {
		events = append(events, notification.Event{
			Type: notification.EventPaymentExpired, TransactionID: p.TransactionID,
			PaymentID: p.ID, CustomerID: p.CustomerID, OccurredAt: now,
		})
	}
	if res.TransactionExpired && t != nil {
		events = append(events, notification.Event{
			Type: notification.EventTransactionExpired, TransactionID: t.ID,
			CustomerID: t.CustomerID, OccurredAt: now,
		})
	}
	return events
}

// Notify publishes the events for res. Call it after the DB transaction commits.
func (e *Enforcer) Notify(ctx context.Context, res *Result, t *models.Transaction, p *models.Payment, now time.Time) {
	for _, ev := range Events(res, t, p, now) {
		e.notifier.Notify(ctx, ev)
	}
}
