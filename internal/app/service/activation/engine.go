// Package activation turns a paid, in-progress transaction into service grants.
// Each line item is an independent check-then-create step so a retry after a
// partial failure only creates what is still missing.
package activation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/app/service/lifecycle"
	"github.com/fatflowers/billing/internal/app/service/notification"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/catalog"
	"github.com/fatflowers/billing/pkg/lock"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/metrics"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

var ErrActivationPreconditionFailed = errors.New("activation precondition failed")

const (
	ReasonAlreadyActivated = "already activated"
	ReasonPartial          = "partial activation"
)

type Result struct {
	Activated bool   `json:"activated"`
	Reason    string `json:"reason,omitempty"`
}

// errNotRetryable marks an item failure that a retry cannot fix.
type errNotRetryable struct{ reason string }

func (e *errNotRetryable) Error() string { return e.reason }

type Engine struct {
	db       *gorm.DB
	guard    *lock.Guard
	catalog  catalog.Catalog
	subs     *subscription.Service
	writer   *lifecycle.Writer
	notifier notification.Notifier
	metrics  *metrics.Business
	log      *zap.SugaredLogger
	now      func() time.Time

	group singleflight.Group
}

func NewEngine(db *gorm.DB, guard *lock.Guard, cat catalog.Catalog, subs *subscription.Service,
	writer *lifecycle.Writer, notifier notification.Notifier, m *metrics.Business, log *zap.SugaredLogger) *Engine {
	return &Engine{
		db:       db,
		guard:    guard,
		catalog:  cat,
		subs:     subs,
		writer:   writer,
		notifier: notifier,
		metrics:  m,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock returns an engine using now; the lifecycle writer should share the same clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	return &Engine{
		db: e.db, guard: e.guard, catalog: e.catalog, subs: e.subs,
		writer: e.writer.WithClock(now), notifier: e.notifier, metrics: e.metrics, log: e.log, now: now,
	}
}

// Activate provisions every grant of transactionID at most once. Concurrent callers
// in this process share one run; callers in other processes serialize on the lock.
// A non-nil Result may accompany an error when some items are still missing.
func (e *Engine) Activate(ctx context.Context, transactionID string) (*Result, error) {
	v, err, _ := e.group.Do(transactionID, func() (any, error) {
		var res *Result
		err := e.guard.Do(ctx, lock.TransactionKey(transactionID), func() error {
			var err error
			res, err = e.activateLocked(ctx, transactionID)
			return err
		})
		return res, err
	})
	res, _ := v.(*Result)
	return res, err
}

func (e *Engine) activateLocked(ctx context.Context, transactionID string) (*Result, error) {
	log := logctx.FromCtx(ctx, e.log).With("transaction_id", transactionID)
	start := time.Now()
	defer e.metrics.ObserveSince("activation", "activate", start)

	var txn models.Transaction
	if err := e.db.WithContext(ctx).Where("id = ?", transactionID).First(&txn).Error; err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	switch txn.Status {
	case types.TransactionStatusSuccess:
		e.metrics.Activation("already")
		return &Result{Activated: false, Reason: ReasonAlreadyActivated}, nil
	case types.TransactionStatusInProgress:
	default:
		return nil, fmt.Errorf("%w: transaction %s is %s", ErrActivationPreconditionFailed, txn.ID, txn.Status)
	}
	payment, err := lifecycle.CurrentPayment(ctx, e.db, txn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if payment == nil || payment.Status != types.PaymentStatusPaid {
		return nil, fmt.Errorf("%w: transaction %s has no paid payment", ErrActivationPreconditionFailed, txn.ID)
	}

	var items []*models.TransactionItem
	if err := e.db.WithContext(ctx).Where("transaction_id = ?", txn.ID).Order("position asc").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to load transaction items: %w", err)
	}

	now := e.now()
	created := 0
	var stepErrs []error
	for _, item := range items {
		if item.Status != types.ItemStatusPending {
			continue
		}
		applied, err := e.activateItem(ctx, &txn, item, now)
		var fatal *errNotRetryable
		switch {
		case errors.As(err, &fatal):
			log.Warnw("activation item failed permanently", "item_id", item.ID, "kind", item.Kind, "reason", fatal.reason)
			if err := e.markItemFailed(ctx, item, fatal.reason); err != nil {
				stepErrs = append(stepErrs, err)
			}
		case err != nil:
			log.Errorw("activation item failed, will retry", "item_id", item.ID, "kind", item.Kind, "err", err)
			stepErrs = append(stepErrs, fmt.Errorf("item %s: %w", item.ID, err))
		case applied:
			created++
		}
	}

	allDone := true
	for _, item := range items {
		if item.Status != types.ItemStatusSuccess {
			allDone = false
			break
		}
	}
	if !allDone {
		e.metrics.Activation("partial")
		res := &Result{Activated: created > 0, Reason: ReasonPartial}
		if len(stepErrs) > 0 {
			return res, fmt.Errorf("activation of %s incomplete: %w", txn.ID, errors.Join(stepErrs...))
		}
		log.Warnw("transaction left in progress for reconciliation")
		return res, nil
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lifecycle.LockTransaction(ctx, tx, txn.ID)
		if err != nil {
			return err
		}
		_, err = e.writer.SetTransactionStatus(ctx, tx, locked, types.TransactionStatusSuccess,
			lifecycle.TriggerActivation, &lifecycle.TransactionChange{CompletedAt: &now})
		return err
	})
	if err != nil {
		e.metrics.Activation("error")
		return &Result{Activated: created > 0, Reason: ReasonPartial}, fmt.Errorf("failed to complete transaction: %w", err)
	}

	e.metrics.Activation("activated")
	e.notifier.Notify(ctx, notification.Event{
		Type: notification.EventServiceActivated, TransactionID: txn.ID, PaymentID: payment.ID,
		CustomerID: txn.CustomerID, OccurredAt: now, Data: map[string]any{"grants": created},
	})
	log.Infow("transaction activated", "grants", created)
	return &Result{Activated: true}, nil
}

// activateItem creates the grant for one item and marks it success in one DB transaction.
// applied is false when the grant already existed.
func (e *Engine) activateItem(ctx context.Context, txn *models.Transaction, item *models.TransactionItem, now time.Time) (applied bool, err error) {
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		switch item.Kind {
		case types.ItemKindProduct:
			applied, err = grantOnce(ctx, tx, item.ID, &models.ProductGrant{
				ID: tool.GenerateUUIDV7(), TransactionID: txn.ID, TransactionItemID: item.ID,
				CustomerID: txn.CustomerID, ProductID: item.RefID, Quantity: item.Quantity,
				Status: types.GrantStatusDeliveryPending,
			})
		case types.ItemKindAddon:
			applied, err = grantOnce(ctx, tx, item.ID, &models.AddonDelivery{
				ID: tool.GenerateUUIDV7(), TransactionID: txn.ID, TransactionItemID: item.ID,
				CustomerID: txn.CustomerID, AddonID: item.RefID, Quantity: item.Quantity,
				Status: types.GrantStatusDeliveryPending,
			})
		case types.ItemKindWhatsApp:
			applied, err = e.grantSubscription(ctx, tx, txn, item, now)
		default:
			err = &errNotRetryable{reason: fmt.Sprintf("unknown item kind %q", item.Kind)}
		}
		if err != nil {
			return err
		}
		return markItem(ctx, tx, item, types.ItemStatusSuccess, nil, now)
	})
	return applied, err
}

func (e *Engine) grantSubscription(ctx context.Context, tx *gorm.DB, txn *models.Transaction, item *models.TransactionItem, now time.Time) (bool, error) {
	pkg, err := e.catalog.GetItem(item.RefID)
	if errors.Is(err, catalog.ErrItemNotFound) {
		return false, &errNotRetryable{reason: fmt.Sprintf("package %s no longer exists", item.RefID)}
	}
	if err != nil {
		return false, err
	}
	duration := item.Duration
	if duration == "" {
		duration = pkg.Duration
	}
	_, applied, err := e.subs.ApplyPurchase(ctx, tx, &subscription.Purchase{
		CustomerID:        txn.CustomerID,
		PackageID:         pkg.Package,
		TransactionID:     txn.ID,
		TransactionItemID: item.ID,
		Duration:          duration,
	}, now)
	if errors.Is(err, subscription.ErrUnknownDuration) {
		return false, &errNotRetryable{reason: err.Error()}
	}
	return applied, err
}

// grantOnce inserts grant unless a row for itemID already exists in its table.
func grantOnce[T any](ctx context.Context, tx *gorm.DB, itemID string, grant *T) (bool, error) {
	var count int64
	if err := tx.WithContext(ctx).Model(new(T)).Where("transaction_item_id = ?", itemID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check grant: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	if err := tx.WithContext(ctx).Create(grant).Error; err != nil {
		return false, fmt.Errorf("failed to create grant: %w", err)
	}
	return true, nil
}

func markItem(ctx context.Context, tx *gorm.DB, item *models.TransactionItem, status types.ItemStatus, reason *string, now time.Time) error {
	updates := map[string]any{"status": status, "updated_at": now}
	if reason != nil {
		updates["failure_reason"] = *reason
	}
	if err := tx.WithContext(ctx).Model(&models.TransactionItem{}).Where("id = ?", item.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update item %s: %w", item.ID, err)
	}
	item.Status = status
	item.FailureReason = reason
	return nil
}

func (e *Engine) markItemFailed(ctx context.Context, item *models.TransactionItem, reason string) error {
	return markItem(ctx, e.db, item, types.ItemStatusFailed, &reason, e.now())
}

var Module = fx.Options(
	fx.Provide(NewEngine),
)
