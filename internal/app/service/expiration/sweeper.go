package expiration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/app/service/activation"
	"github.com/fatflowers/billing/internal/app/service/lifecycle"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/models"
	cfgpkg "github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/lock"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/metrics"
	"github.com/fatflowers/billing/pkg/types"
)

type SweepResult struct {
	PaymentsExpired     int   `json:"payments_expired"`
	TransactionsExpired int   `json:"transactions_expired"`
	SubscriptionsLapsed int64 `json:"subscriptions_lapsed"`
	Activated           int   `json:"activated"`
}

type Sweeper struct {
	db        *gorm.DB
	guard     *lock.Guard
	enforcer  *Enforcer
	subs      *subscription.Service
	activator *activation.Engine
	metrics   *metrics.Business
	log       *zap.SugaredLogger
	cfg       cfgpkg.SweepConfig
	now       func() time.Time
}

func NewSweeper(db *gorm.DB, guard *lock.Guard, enforcer *Enforcer, subs *subscription.Service,
	activator *activation.Engine, m *metrics.Business, log *zap.SugaredLogger, cfg *cfgpkg.Config) *Sweeper {
	return &Sweeper{
		db: db, guard: guard, enforcer: enforcer, subs: subs, activator: activator,
		metrics: m, log: log, cfg: cfg.Sweep,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	cp := *s
	cp.now = now
	return &cp
}

// Sweep runs one pass. Errors on single transactions are logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	defer s.metrics.ObserveSince("sweep", "run", start)
	log := logctx.FromCtx(ctx, s.log)
	now := s.now()
	res := &SweepResult{}

	ids, err := s.overdueTransactionIDs(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		r, err := s.ReconcileTransaction(ctx, id)
		if err != nil {
			log.Warnw("sweep: reconcile failed", "transaction_id", id, "err", err)
			continue
		}
		res.PaymentsExpired += lo.Ternary(r.PaymentExpired, 1, 0)
		res.TransactionsExpired += lo.Ternary(r.TransactionExpired, 1, 0)
	}

	lapsed, err := s.subs.MarkLapsed(ctx, now)
	if err != nil {
		log.Warnw("sweep: mark lapsed failed", "err", err)
	}
	res.SubscriptionsLapsed = lapsed

	if s.cfg.RetryActivation && s.activator != nil {
		var pending []string
		if err := s.db.WithContext(ctx).Model(&models.Transaction{}).
			Where("status = ?", types.TransactionStatusInProgress).
			Order("updated_at asc").Limit(s.cfg.BatchSize).Pluck("id", &pending).Error; err != nil {
			return res, fmt.Errorf("failed to list in-progress transactions: %w", err)
		}
		for _, id := range pending {
			r, err := s.activator.Activate(ctx, id)
			if err != nil {
				log.Warnw("sweep: activation retry failed", "transaction_id", id, "err", err)
			}
			if r != nil && r.Activated {
				res.Activated++
			}
		}
	}

	if res.PaymentsExpired+res.TransactionsExpired+res.Activated > 0 || res.SubscriptionsLapsed > 0 {
		log.Infow("sweep finished", "payments_expired", res.PaymentsExpired,
			"transactions_expired", res.TransactionsExpired, "subscriptions_lapsed", res.SubscriptionsLapsed,
			"activated", res.Activated)
	}
	return res, nil
}

// overdueTransactionIDs returns transactions past their own deadline or holding an overdue pending payment.
func (s *Sweeper) overdueTransactionIDs(ctx context.Context, now time.Time) ([]string, error) {
	var byTxn, byPayment []string
	if err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("status IN ? AND expires_at < ?", []types.TransactionStatus{types.TransactionStatusCreated, types.TransactionStatusPending}, now).
		Order("expires_at asc").Limit(s.cfg.BatchSize).Pluck("id", &byTxn).Error; err != nil {
		return nil, fmt.Errorf("failed to list overdue transactions: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("status = ? AND expires_at < ?", types.PaymentStatusPending, now).
		Order("expires_at asc").Limit(s.cfg.BatchSize).Pluck("transaction_id", &byPayment).Error; err != nil {
		return nil, fmt.Errorf("failed to list overdue payments: %w", err)
	}
	return lo.Uniq(append(byTxn, byPayment...)), nil
}

// ReconcileTransaction runs the enforcer for one transaction under its lock.
func (s *Sweeper) ReconcileTransaction(ctx context.Context, id string) (*Result, error) {
	var (
		res *Result
		txn *models.Transaction
		pay *models.Payment
	)
	now := s.now()
	err := s.guard.Do(ctx, lock.TransactionKey(id), func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			if txn, err = lifecycle.LockTransaction(ctx, tx, id); err != nil {
				return err
			}
			if pay, err = lifecycle.CurrentPayment(ctx, tx, id); err != nil {
				return err
			}
			res, err = s.enforcer.Reconcile(ctx, tx, txn, pay, now)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.enforcer.Notify(ctx, res, txn, pay, now)
	return res, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Errorw("sweep failed", "err", err)
			}
		}
	}
}

func startSweeper(lc fx.Lifecycle, s *Sweeper, cfg *cfgpkg.Config, log *zap.SugaredLogger) {
	if !cfg.Sweep.Enabled {
		log.Infow("expiry sweep disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Infow("starting expiry sweep", "interval", cfg.Sweep.Interval, "batch_size", cfg.Sweep.BatchSize)
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Run(ctx, cfg.Sweep.Interval)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			wg.Wait()
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(NewEnforcer, NewSweeper),
)

// RunnerModule starts the periodic sweep with the application lifecycle.
var RunnerModule = fx.Options(
	fx.Invoke(startSweeper),
)
