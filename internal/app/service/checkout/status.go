package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/app/service/lifecycle"
	"github.com/fatflowers/billing/internal/app/service/notification"
	"github.com/fatflowers/billing/internal/app/service/pricing"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/identity"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/types"
)

func (s *Service) getPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.WithContext(ctx).Where("id = ?", paymentID).First(&p).Error; err != nil {
		return nil, notFound(err, "payment", paymentID)
	}
	return &p, nil
}

// inquire asks the provider about a pending gateway payment. It runs before any
// lock is taken; an error only means the stored state is served.
func (s *Service) inquire(ctx context.Context, p *models.Payment) types.PaymentStatus {
	if p.Status != types.PaymentStatusPending || p.ManualApproval || p.ExternalID == nil {
		return ""
	}
	provider, err := s.gateways.ByName(p.Provider)
	if err != nil {
		return ""
	}
	status, err := provider.Inquire(ctx, *p.ExternalID)
	if err != nil {
		logctx.FromCtx(ctx, s.log).Warnw("payment inquiry failed", "payment_id", p.ID, "provider", p.Provider, "err", err)
		return ""
	}
	return status
}

func (s *Service) GetStatus(ctx context.Context, caller *identity.Caller, paymentID string) (*StatusView, error) {
	start := time.Now()
	defer s.metrics.ObserveSince("checkout", "get_status", start)

	p, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, p.CustomerID); err != nil {
		return nil, err
	}
	remote := s.inquire(ctx, p)

	var (
		txn    *models.Transaction
		events []notification.Event
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

		var settled []notification.Event
		switch remote {
		case types.PaymentStatusPaid:
			_, settled, err = s.markPaid(ctx, tx, txn, p, lifecycle.TriggerPoll, nil, now)
		case types.PaymentStatusFailed:
			_, settled, err = s.markFailed(ctx, tx, p, types.PaymentStatusFailed, "declined by provider", lifecycle.TriggerPoll, nil, now)
		}
		events = append(events, settled...)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events)

	if txn.Status == types.TransactionStatusInProgress {
		s.activateAfterCommit(ctx, txn)
		if txn, err = s.reloadTransaction(ctx, txn.ID); err != nil {
			return nil, err
		}
	}
	items, err := s.loadItems(ctx, s.db, txn.ID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		Payment:      p,
		Transaction:  txn,
		Items:        items,
		Pricing:      paymentPricing(p, txn),
		Instructions: Instructions(p, txn),
	}, nil
}

// paymentPricing is the transaction breakdown plus the unique code read back
// from the payment amount.
func paymentPricing(p *models.Payment, t *models.Transaction) *pricing.Breakdown {
	b := pricing.FromTransaction(t)
	if p.Method.UsesUniqueCode() {
		b.UniqueCode = pricing.DeriveUniqueCode(p.Amount, p.BaseAmount, p.Currency, p.ID)
	}
	return b
}

func (s *Service) reloadTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var t models.Transaction
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &t, nil
}

// Instructions derives what to show the payer from the payment method and the current statuses.
func Instructions(p *models.Payment, t *models.Transaction) *models.PaymentInstructions {
	amount := p.Amount.StringFixed(p.Currency.Exponent())
	switch p.Status {
	case types.PaymentStatusPending:
		if in := p.GetInstructions(); in != nil {
			return in
		}
		return &models.PaymentInstructions{
			Title:  "Preparing payment",
			Amount: amount,
			Steps:  []string{"Your payment is being prepared. Check again in a few seconds."},
		}
	case types.PaymentStatusPaid:
		in := &models.PaymentInstructions{Title: "Payment received", Amount: amount}
		if t != nil && t.Status == types.TransactionStatusSuccess {
			in.Steps = []string{"Your purchase is active."}
		} else {
			in.Steps = []string{"We are activating your purchase."}
		}
		return in
	case types.PaymentStatusExpired:
		return &models.PaymentInstructions{Title: "Payment expired", Amount: amount,
			Steps: []string{retryStep(t, "Do not transfer to this payment anymore.")}}
	case types.PaymentStatusRejected:
		in := &models.PaymentInstructions{Title: "Payment rejected", Amount: amount}
		reason := "The transfer could not be verified."
		if p.RejectReason != nil && *p.RejectReason != "" {
			reason = *p.RejectReason
		}
		in.Steps = []string{reason, retryStep(t, "")}
		return in
	case types.PaymentStatusCancelled:
		return &models.PaymentInstructions{Title: "Payment cancelled", Amount: amount,
			Steps: []string{retryStep(t, "This payment was replaced or cancelled.")}}
	default:
		return &models.PaymentInstructions{Title: "Payment failed", Amount: amount,
			Steps: []string{retryStep(t, "The payment did not go through.")}}
	}
}

func retryStep(t *models.Transaction, fallback string) string {
	if t != nil && t.Status.AwaitingPayment() {
		return "Choose a payment method to try again."
	}
	if fallback == "" {
		return "Start a new order to purchase again."
	}
	return fallback
}
