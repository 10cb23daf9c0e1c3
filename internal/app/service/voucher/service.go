package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/billing/internal/app/service/pricing"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/money"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

var (
	ErrVoucherInvalid          = errors.New("voucher invalid")
	ErrVoucherExpired          = errors.New("voucher expired")
	ErrVoucherExhausted        = errors.New("voucher exhausted")
	ErrVoucherCurrencyMismatch = errors.New("voucher currency mismatch")
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	now func() time.Time
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

// NormalizeCode canonicalises user-entered codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Adjustment converts v into the pricing shape.
func Adjustment(v *models.Voucher) *money.Adjustment {
	adj := &money.Adjustment{Type: v.Type, Value: v.Value, Min: v.MinDiscount, Max: v.MaxDiscount}
	if v.Currency != nil {
		adj.Currency = *v.Currency
	}
	return adj
}

// ApplyTx redeems code against txn inside tx. A transaction already holding a
// usage gets that usage back and nothing is written.
func (s *Service) ApplyTx(ctx context.Context, tx *gorm.DB, txn *models.Transaction, code string) (decimal.Decimal, *models.VoucherUsage, error) {
	var existing models.VoucherUsage
	err := tx.WithContext(ctx).Where("transaction_id = ?", txn.ID).First(&existing).Error
	if err == nil {
		return existing.DiscountAmount, &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil, fmt.Errorf("failed to load voucher usage: %w", err)
	}

	code = NormalizeCode(code)
	if code == "" {
		return decimal.Zero, nil, ErrVoucherInvalid
	}
	var v models.Voucher
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil, fmt.Errorf("%w: %s", ErrVoucherInvalid, code)
		}
		return decimal.Zero, nil, fmt.Errorf("failed to load voucher: %w", err)
	}
	if !v.Active {
		return decimal.Zero, nil, fmt.Errorf("%w: %s is disabled", ErrVoucherInvalid, code)
	}
	if !v.InWindow(s.now()) {
		return decimal.Zero, nil, fmt.Errorf("%w: %s", ErrVoucherExpired, code)
	}
	if v.Currency != nil && *v.Currency != txn.Currency {
		return decimal.Zero, nil, fmt.Errorf("%w: %s is for %s", ErrVoucherCurrencyMismatch, code, *v.Currency)
	}

	discount := pricing.Discount(txn.OriginalAmount, Adjustment(&v), txn.Currency)

	res := tx.WithContext(ctx).Model(&models.Voucher{}).
		Where("id = ? AND (quota = 0 OR used_count < quota)", v.ID).
		UpdateColumn("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return decimal.Zero, nil, fmt.Errorf("failed to redeem voucher: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return decimal.Zero, nil, fmt.Errorf("%w: %s", ErrVoucherExhausted, code)
	}

	usage := &models.VoucherUsage{
		ID:             tool.GenerateUUIDV7(),
		VoucherID:      v.ID,
		TransactionID:  txn.ID,
		CustomerID:     txn.CustomerID,
		Code:           v.Code,
		DiscountAmount: discount,
		CreatedAt:      s.now(),
	}
	if err := tx.WithContext(ctx).Create(usage).Error; err != nil {
		return decimal.Zero, nil, fmt.Errorf("failed to record voucher usage: %w", err)
	}

	logctx.FromCtx(ctx, s.log).Infow("voucher applied",
		"transaction_id", txn.ID, "voucher", v.Code, "discount", discount.String())
	return discount, usage, nil
}

// Create stores a new voucher. Codes are normalised.
func (s *Service) Create(ctx context.Context, v *models.Voucher) error {
	v.Code = NormalizeCode(v.Code)
	if v.Code == "" {
		return fmt.Errorf("%w: empty code", ErrVoucherInvalid)
	}
	switch v.Type {
	case types.AdjustmentTypePercentage:
		if v.Value.IsNegative() || v.Value.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: percentage must be within 0-100", ErrVoucherInvalid)
		}
	case types.AdjustmentTypeFixed:
		if v.Value.IsNegative() {
			return fmt.Errorf("%w: negative amount", ErrVoucherInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrVoucherInvalid, v.Type)
	}
	if v.ID == "" {
		v.ID = tool.GenerateUUIDV7()
	}
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("failed to create voucher: %w", err)
	}
	return nil
}

var Module = fx.Options(
	fx.Provide(NewService),
)
