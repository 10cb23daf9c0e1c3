package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/app/service/activation"
	"github.com/fatflowers/billing/internal/app/service/lifecycle"
	"github.com/fatflowers/billing/internal/app/service/notification"
	"github.com/fatflowers/billing/internal/app/service/notification_log"
	"github.com/fatflowers/billing/internal/app/service/pricing"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/app/service/voucher"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/catalog"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/internal/platform/identity"
	"github.com/fatflowers/billing/internal/testutil"
	cfgpkg "github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/lock"
	"github.com/fatflowers/billing/pkg/types"
)

const callbackToken = "sbx-secret"

var (
	customer = &identity.Caller{ID: "cust-1", Role: types.RoleCustomer}
	stranger = &identity.Caller{ID: "cust-2", Role: types.RoleCustomer}
	admin    = &identity.Caller{ID: "admin-1", Role: types.RoleAdmin}
)

type harness struct {
	db       *gorm.DB
	clock    *testutil.Clock
	svc      *Service
	rec      *notification.Recorder
	notifLog *notification_log.Service
}

func testConfig() *cfgpkg.Config {
	cfg := cfgpkg.Default()
	cfg.Catalog.Items = []*cfgpkg.CatalogItem{
		{ID: "prod-basic", Kind: types.ItemKindProduct, Name: "Basic", Prices: map[string]string{"IDR": "60000", "USD": "4.99"}},
		{ID: "addon-storage", Kind: types.ItemKindAddon, Name: "Storage", Prices: map[string]string{"IDR": "15000"}},
		{ID: "wa-monthly", Kind: types.ItemKindWhatsApp, Name: "WhatsApp monthly", Prices: map[string]string{"IDR": "25000"},
			Duration: types.SubscriptionDurationMonthly, Package: "whatsapp"},
	}
	cfg.ServiceFees = []*cfgpkg.ServiceFeeConfig{
		{Method: types.PaymentMethodManualTransfer, Currency: types.CurrencyIDR, Type: types.AdjustmentTypeFixed, Value: "3500", ManualApproval: true},
		{Method: types.PaymentMethodQRIS, Currency: types.CurrencyIDR, Type: types.AdjustmentTypePercentage, Value: "1"},
	}
	cfg.Gateway.Sandbox = cfgpkg.SandboxConfig{CallbackToken: callbackToken, QRISMerchant: "BILLINGTEST"}
	cfg.Gateway.Manual = cfgpkg.ManualTransferConfig{BankName: "BCA", AccountNumber: "1234567890", AccountHolder: "PT Billing"}
	return cfg
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	log := zap.NewNop().Sugar()
	clock := testutil.NewClock(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	cfg := testConfig()

	cat, err := catalog.NewConfigCatalog(cfg)
	require.NoError(t, err)
	guard := lock.NewGuard(lock.NewLocalLocker(), lock.RetryPolicy{
		MaxRetries: 500, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond,
	}, log, nil)
	rec := &notification.Recorder{}
	writer := lifecycle.NewWriter(log, nil)
	notifLog := notification_log.New(db, log)
	engine := activation.NewEngine(db, guard, cat, subscription.NewService(db, log), writer, rec, nil, log)
	registry := gateway.NewRegistry(cfg,
		gateway.NewManualProvider(cfg.Gateway.Manual),
		gateway.NewSandboxProvider(cfg.Gateway.Sandbox),
	)

	svc := NewService(Params{
		DB:              db,
		Guard:           guard,
		Catalog:         cat,
		Vouchers:        voucher.NewService(db, log),
		Writer:          writer,
		Activator:       engine,
		Gateways:        registry,
		Notifier:        rec,
		NotificationLog: notifLog,
		Log:             log,
		Config:          cfg,
	}).WithClock(clock.Now)

	require.NoError(t, voucher.NewService(db, log).Create(context.Background(), &models.Voucher{
		Code: "hemat10", Type: types.AdjustmentTypePercentage, Value: decimal.NewFromInt(10),
		MaxDiscount: decimal.NewFromInt(5000), Active: true,
	}))
	t.Cleanup(notifLog.Wait)
	return &harness{db: db, clock: clock, svc: svc, rec: rec, notifLog: notifLog}
}

// pinUniqueCode makes the allocator pick code on its first attempt.
func (h *harness) pinUniqueCode(code int) {
	h.svc.allocator = h.svc.allocator.WithRand(func(int) int { return code - pricing.MinUniqueCode })
}

func fullCart(voucherCode string) *CreateTransactionRequest {
	return &CreateTransactionRequest{
		Currency: types.CurrencyIDR,
		Items: []ItemRequest{
			{ID: "prod-basic", Quantity: 1},
			{ID: "addon-storage"},
			{ID: "wa-monthly", Quantity: 1},
		},
		VoucherCode: voucherCode,
	}
}

func (h *harness) checkout(t *testing.T, voucherCode string, method types.PaymentMethod) (*TransactionView, *models.Payment) {
	t.Helper()
	view, err := h.svc.CreateTransaction(context.Background(), customer, fullCart(voucherCode))
	require.NoError(t, err)
	p, err := h.svc.CreatePayment(context.Background(), customer, view.Transaction.ID, method)
	require.NoError(t, err)
	return view, p
}

func (h *harness) transaction(t *testing.T, id string) *models.Transaction {
	t.Helper()
	var txn models.Transaction
	require.NoError(t, h.db.First(&txn, "id = ?", id).Error)
	return &txn
}

func (h *harness) payment(t *testing.T, id string) *models.Payment {
	t.Helper()
	var p models.Payment
	require.NoError(t, h.db.First(&p, "id = ?", id).Error)
	return &p
}

func (h *harness) count(t *testing.T, model any, transactionID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Where("transaction_id = ?", transactionID).Count(&n).Error)
	return n
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }
