package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/app/service/activation"
	"github.com/fatflowers/billing/internal/app/service/expiration"
	"github.com/fatflowers/billing/internal/app/service/lifecycle"
	"github.com/fatflowers/billing/internal/app/service/notification"
	"github.com/fatflowers/billing/internal/app/service/notification_log"
	"github.com/fatflowers/billing/internal/app/service/pricing"
	"github.com/fatflowers/billing/internal/app/service/voucher"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/catalog"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/internal/platform/identity"
	cfgpkg "github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/lock"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/metrics"
	"github.com/fatflowers/billing/pkg/money"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Guard           *lock.Guard
	Catalog         catalog.Catalog
	Vouchers        *voucher.Service
	Writer          *lifecycle.Writer
	Activator       *activation.Engine
	Gateways        *gateway.Registry
	Notifier        notification.Notifier
	NotificationLog *notification_log.Service
	Metrics         *metrics.Business
	Log             *zap.SugaredLogger
	Config          *cfgpkg.Config
}

type Service struct {
	db        *gorm.DB
	guard     *lock.Guard
	catalog   catalog.Catalog
	vouchers  *voucher.Service
	writer    *lifecycle.Writer
	enforcer  *expiration.Enforcer
	activator *activation.Engine
	gateways  *gateway.Registry
	allocator *pricing.UniqueCodeAllocator
	notifier  notification.Notifier
	notifLog  *notification_log.Service
	metrics   *metrics.Business
	log       *zap.SugaredLogger
	cfg       cfgpkg.CheckoutConfig
	validate  *validator.Validate
	now       func() time.Time
}

func NewService(p Params) *Service {
	s := &Service{
		db:        p.DB,
		guard:     p.Guard,
		catalog:   p.Catalog,
		vouchers:  p.Vouchers,
		writer:    p.Writer,
		activator: p.Activator,
		gateways:  p.Gateways,
		notifier:  p.Notifier,
		notifLog:  p.NotificationLog,
		metrics:   p.Metrics,
		log:       p.Log,
		cfg:       p.Config.Checkout,
		validate:  validator.New(),
	}
	return s.WithClock(func() time.Time { return time.Now().UTC() })
}

// WithClock returns a copy of s whose collaborators all read time from now.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	cp.writer = s.writer.WithClock(now)
	cp.vouchers = s.vouchers.WithClock(now)
	cp.activator = s.activator.WithClock(now)
	cp.enforcer = expiration.NewEnforcer(cp.writer, s.notifier, s.log)
	cp.allocator = pricing.NewUniqueCodeAllocator(s.cfg.UniqueCodeAttempts, s.cfg.UniqueCodeLookback, now)
	return &cp
}

// Enforcer exposes the enforcer sharing this service's clock.
func (s *Service) Enforcer() *expiration.Enforcer { return s.enforcer }

// withTransactionLock runs fn in a DB transaction while holding the lock of transactionID.
// The lock is taken first so a waiting caller never pins a connection.
func (s *Service) withTransactionLock(ctx context.Context, transactionID string, fn func(tx *gorm.DB) error) error {
	return s.guard.Do(ctx, lock.TransactionKey(transactionID), func() error {
		return s.db.WithContext(ctx).Transaction(fn)
	})
}

func (s *Service) publish(ctx context.Context, events []notification.Event) {
	for _, e := range events {
		s.notifier.Notify(ctx, e)
	}
}

func authorize(caller *identity.Caller, customerID string) error {
	if caller == nil {
		return ErrForbidden
	}
	if caller.IsAdmin() || caller.ID == customerID {
		return nil
	}
	return ErrForbidden
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return err
}

func triggerFor(caller *identity.Caller) lifecycle.Trigger {
	if caller.IsAdmin() {
		return lifecycle.TriggerAdmin
	}
	return lifecycle.TriggerCustomer
}

// reconcile runs the enforcer for t and its current payment, and for p when p is an older payment.
func (s *Service) reconcile(ctx context.Context, tx *gorm.DB, t *models.Transaction, p *models.Payment, now time.Time) (*models.Payment, []notification.Event, error) {
	current, err := lifecycle.CurrentPayment(ctx, tx, t.ID)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.enforcer.Reconcile(ctx, tx, t, current, now)
	if err != nil {
		return nil, nil, err
	}
	events := expiration.Events(res, t, current, now)
	if p != nil && current != nil && p.ID != current.ID {
		res, err := s.enforcer.Reconcile(ctx, tx, nil, p, now)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, expiration.Events(res, nil, p, now)...)
	}
	if p != nil && current != nil && p.ID == current.ID {
		*p = *current
	}
	return current, events, nil
}

func (s *Service) loadItems(ctx context.Context, db *gorm.DB, transactionID string) ([]*models.TransactionItem, error) {
	var items []*models.TransactionItem
	if err := db.WithContext(ctx).Where("transaction_id = ?", transactionID).Order("position asc").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to load transaction items: %w", err)
	}
	return items, nil
}

// CreateTransaction prices the requested items against the catalog and redeems the voucher, if any.
func (s *Service) CreateTransaction(ctx context.Context, caller *identity.Caller, req *CreateTransactionRequest) (*TransactionView, error) {
	start := time.Now()
	defer s.metrics.ObserveSince("checkout", "create_transaction", start)
	if caller == nil {
		return nil, ErrForbidden
	}
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !req.Currency.Valid() {
		return nil, fmt.Errorf("%w: unsupported currency %q", pricing.ErrInvalidPricingInput, req.Currency)
	}

	now := s.now()
	txnID := tool.GenerateUUIDV7()
	items := make([]*models.TransactionItem, 0, len(req.Items))
	lines := make([]pricing.LineItem, 0, len(req.Items))
	for i, in := range req.Items {
		item, err := s.catalog.GetItem(in.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pricing.ErrInvalidPricingInput, err)
		}
		price, err := s.catalog.GetPackagePrice(in.ID, req.Currency)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pricing.ErrInvalidPricingInput, err)
		}
		qty := lo.Ternary(in.Quantity == 0, 1, in.Quantity)
		if item.Kind == types.ItemKindWhatsApp && qty != 1 {
			return nil, fmt.Errorf("%w: whatsapp package %s must be bought one at a time", pricing.ErrInvalidPricingInput, in.ID)
		}
		lines = append(lines, pricing.LineItem{UnitPrice: price, Quantity: qty})
		items = append(items, &models.TransactionItem{
			ID:            tool.GenerateUUIDV7(),
			TransactionID: txnID,
			Kind:          item.Kind,
			RefID:         item.ID,
			Name:          item.Name,
			UnitPrice:     price,
			Quantity:      qty,
			Subtotal:      price.Mul(decimal.NewFromInt(int64(qty))),
			Duration:      item.Duration,
			Status:        types.ItemStatusPending,
			Position:      i,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	subtotal, err := pricing.Subtotal(req.Currency, lines)
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(s.cfg.TransactionTTL)
	txn := &models.Transaction{
		ID:               txnID,
		CustomerID:       caller.ID,
		Currency:         req.Currency,
		Type:             types.DeriveTransactionType(lo.Map(items, func(it *models.TransactionItem, _ int) types.ItemKind { return it.Kind })),
		OriginalAmount:   subtotal,
		DiscountAmount:   decimal.Zero,
		ServiceFeeAmount: decimal.Zero,
		FinalAmount:      subtotal,
		Status:           types.TransactionStatusCreated,
		ExpiresAt:        &expiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.VoucherCode != "" {
			discount, usage, err := s.vouchers.ApplyTx(ctx, tx, txn, req.VoucherCode)
			if err != nil {
				return err
			}
			breakdown := pricing.Finalize(subtotal, discount, nil, txn.Currency)
			txn.DiscountAmount = breakdown.DiscountAmount
			txn.FinalAmount = breakdown.FinalAmount
			txn.VoucherID = &usage.VoucherID
			txn.VoucherCode = &usage.Code
		}
		if err := tx.Create(txn).Error; err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}
		if err := tx.Create(items).Error; err != nil {
			return fmt.Errorf("failed to create transaction items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logctx.FromCtx(ctx, s.log).Infow("transaction created", "transaction_id", txn.ID, "customer_id", txn.CustomerID,
		"type", txn.Type, "final_amount", txn.FinalAmount.String(), "currency", txn.Currency)
	return &TransactionView{Transaction: txn, Items: items, Pricing: pricing.FromTransaction(txn)}, nil
}

// CreatePayment commits a pending payment under the lock, asks the gateway for
// instructions without the lock, then stores the outcome under the lock again.
func (s *Service) CreatePayment(ctx context.Context, caller *identity.Caller, transactionID string, method types.PaymentMethod) (*models.Payment, error) {
	start := time.Now()
	defer s.metrics.ObserveSince("checkout", "create_payment", start)
	log := logctx.FromCtx(ctx, s.log).With("transaction_id", transactionID, "method", method)

	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidRequest, method)
	}
	provider, err := s.gateways.ForMethod(method)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var (
		payment    *models.Payment
		txn        *models.Transaction
		events     []notification.Event
		notPending bool
		reused     bool
	)
	now := s.now()
	err = s.withTransactionLock(ctx, transactionID, func(tx *gorm.DB) error {
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
		if !txn.Status.AwaitingPayment() {
			// keep the expiry writes, report after commit
			notPending = true
			return nil
		}

		if current != nil && current.Status == types.PaymentStatusPending {
			if current.Method == method {
				payment, reused = current, true
				return nil
			}
			if _, err := s.writer.SetPaymentStatus(ctx, tx, current, types.PaymentStatusCancelled, triggerFor(caller), nil); err != nil {
				return err
			}
			log.Infow("pending payment superseded", "payment_id", current.ID, "old_method", current.Method)
		}

		// the discount was fixed at checkout; only the fee depends on the method
		rule := s.catalog.GetServiceFeeRule(method, txn.Currency)
		var feeAdj *money.Adjustment
		if rule != nil {
			feeAdj = &rule.Adjustment
		}
		breakdown := pricing.Finalize(txn.OriginalAmount, txn.DiscountAmount, feeAdj, txn.Currency)

		payment = &models.Payment{
			ID:               tool.GenerateUUIDV7(),
			TransactionID:    txn.ID,
			CustomerID:       txn.CustomerID,
			Method:           method,
			Provider:         provider.Name(),
			Currency:         txn.Currency,
			BaseAmount:       breakdown.FinalAmount,
			ServiceFeeAmount: breakdown.ServiceFeeAmount,
			Amount:           breakdown.FinalAmount,
			Status:           types.PaymentStatusPending,
			ManualApproval:   method.UsesUniqueCode() || (rule != nil && rule.ManualApproval),
			ExpiresAt:        now.Add(s.cfg.PaymentTTL),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if txn.ExpiresAt != nil && txn.ExpiresAt.Before(payment.ExpiresAt) {
			payment.ExpiresAt = *txn.ExpiresAt
		}
		if method.UsesUniqueCode() {
			code, fallback, err := s.allocator.Allocate(ctx, tx, payment.ID, txn.Currency, payment.BaseAmount)
			if err != nil {
				return fmt.Errorf("failed to allocate unique code: %w", err)
			}
			if fallback {
				log.Warnw("unique code allocator exhausted, using hash fallback", "payment_id", payment.ID, "code", code)
			}
			payment.UniqueCode = code
			payment.Amount = pricing.WithUniqueCode(payment.BaseAmount, code, txn.Currency)
		}

		txn.ServiceFeeAmount = breakdown.ServiceFeeAmount
		txn.FinalAmount = breakdown.FinalAmount
		txn.PaymentMethod = &method
		if !pricing.Consistent(txn) || txn.FinalAmount.IsNegative() {
			return fmt.Errorf("%w: transaction %s amounts do not add up (original %s, discount %s, fee %s, final %s)",
				pricing.ErrInvalidPricingInput, txn.ID, txn.OriginalAmount, txn.DiscountAmount, txn.ServiceFeeAmount, txn.FinalAmount)
		}
		if err := tx.Create(payment).Error; err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}
		if err := tx.Model(&models.Transaction{}).Where("id = ?", txn.ID).Updates(map[string]any{
			"service_fee_amount": txn.ServiceFeeAmount,
			"final_amount":       txn.FinalAmount,
			"payment_method":     method,
			"updated_at":         now,
		}).Error; err != nil {
			return fmt.Errorf("failed to update transaction amounts: %w", err)
		}
		if _, err := s.writer.SetTransactionStatus(ctx, tx, txn, types.TransactionStatusPending, lifecycle.TriggerCheckout, nil); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events)
	if notPending {
		return nil, fmt.Errorf("%w: transaction %s is %s", ErrTransactionNotPending, transactionID, txn.Status)
	}
	if reused {
		return payment, nil
	}

	result, gwErr := provider.CreatePayment(ctx, &gateway.CreateRequest{
		PaymentID:     payment.ID,
		TransactionID: payment.TransactionID,
		CustomerID:    payment.CustomerID,
		Method:        payment.Method,
		Currency:      payment.Currency,
		Amount:        payment.Amount,
		ExpiresAt:     payment.ExpiresAt,
	})

	err = s.withTransactionLock(ctx, transactionID, func(tx *gorm.DB) error {
		locked, err := lifecycle.LockPayment(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		if gwErr != nil {
			reason := gwErr.Error()
			if locked.Status == types.PaymentStatusPending {
				if _, err := s.writer.SetPaymentStatus(ctx, tx, locked, types.PaymentStatusFailed, lifecycle.TriggerCheckout,
					&lifecycle.PaymentChange{FailureReason: &reason}); err != nil {
					return err
				}
			}
			payment = locked
			return nil
		}
		updates := map[string]any{
			"instructions": datatypes.NewJSONType(result.Instructions),
			"updated_at":   s.now(),
		}
		if result.ExternalID != "" {
			updates["external_id"] = result.ExternalID
		}
		if err := tx.Model(&models.Payment{}).Where("id = ?", locked.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to save gateway result: %w", err)
		}
		if result.ExternalID != "" {
			locked.ExternalID = &result.ExternalID
		}
		locked.Instructions = datatypes.NewJSONType(result.Instructions)
		payment = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	if gwErr != nil {
		log.Errorw("gateway rejected payment", "payment_id", payment.ID, "provider", provider.Name(), "err", gwErr)
		s.notifier.Notify(ctx, notification.Event{
			Type: notification.EventPaymentFailed, TransactionID: payment.TransactionID, PaymentID: payment.ID,
			CustomerID: payment.CustomerID, OccurredAt: s.now(), Data: map[string]any{"reason": gwErr.Error()},
		})
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, gwErr)
	}

	s.notifier.Notify(ctx, notification.Event{
		Type: notification.EventPaymentCreated, TransactionID: payment.TransactionID, PaymentID: payment.ID,
		CustomerID: payment.CustomerID, OccurredAt: now,
		Data: map[string]any{"method": payment.Method, "amount": payment.Amount.String(), "currency": payment.Currency},
	})
	log.Infow("payment created", "payment_id", payment.ID, "amount", payment.Amount.String(), "unique_code", payment.UniqueCode)
	return payment, nil
}

var Module = fx.Options(
	fx.Provide(
		NewService,
		func(s *Service) Manager { return s },
	),
)
