package transaction

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/billing/internal/app/service/pricing"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/types"
)

const maxScanSize = 200

// scanColumns are the transaction columns admins may filter and sort on.
var scanColumns = map[string]bool{
	"id":             true,
	"customer_id":    true,
	"currency":       true,
	"type":           true,
	"status":         true,
	"payment_method": true,
	"voucher_code":   true,
	"final_amount":   true,
	"expires_at":     true,
	"paid_at":        true,
	"completed_at":   true,
	"created_at":     true,
	"updated_at":     true,
}

type Service struct {
	log *zap.SugaredLogger
	db  *gorm.DB
}

func NewService(log *zap.SugaredLogger, db *gorm.DB) TransactionReader {
	return &Service{log: log, db: db}
}

// filtersAnd is a helper to combine multiple CommonFilter into a single clause.Expression
type filtersAnd struct{ filters []*types.CommonFilter }

func (w filtersAnd) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w.filters))
	for _, f := range w.filters {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}

// ScanTransactions implements paginated/admin listing with filters
func (s *Service) ScanTransactions(ctx context.Context, req *ScanTransactionsRequest) (*ScanTransactionsResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", types.ErrInvalidFilter)
	}
	for _, f := range req.Filters {
		if f == nil {
			return nil, fmt.Errorf("%w: nil filter", types.ErrInvalidFilter)
		}
		if err := f.Validate(scanColumns); err != nil {
			return nil, err
		}
	}
	if req.SortBy != "" && !scanColumns[req.SortBy] {
		return nil, fmt.Errorf("%w: cannot sort by %q", types.ErrInvalidFilter, req.SortBy)
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.Size > maxScanSize {
		req.Size = maxScanSize
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := s.db.WithContext(ctx).Model(&models.Transaction{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{filtersAnd{filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	var rows []*models.Transaction

	q := tx.Limit(req.Size)

	if req.From > 0 {
		q = q.Offset(req.From)
	}

	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: sortBy}, Desc: req.SortOrder != "asc"},
		{Column: clause.Column{Name: "id"}, Desc: req.SortOrder != "asc"},
	}})
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	logctx.FromCtx(ctx, s.log).Debugw("transactions scanned", "filters", len(req.Filters), "total", total, "returned", len(rows))
	return &ScanTransactionsResponse{Items: rows, Total: total}, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*TransactionDetail, error) {
	db := s.db.WithContext(ctx)
	var t models.Transaction
	if err := db.Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	d := &TransactionDetail{Transaction: &t, Pricing: pricing.FromTransaction(&t)}
	if err := db.Where("transaction_id = ?", id).Order("position asc").Find(&d.Items).Error; err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	if err := db.Where("transaction_id = ?", id).Order("created_at asc, id asc").Find(&d.Payments).Error; err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	if err := db.Where("transaction_id = ?", id).Order("created_at asc, id asc").Find(&d.Logs).Error; err != nil {
		return nil, fmt.Errorf("failed to load transaction logs: %w", err)
	}
	if err := db.Where("transaction_id = ?", id).Order("created_at asc, id asc").Find(&d.PaymentLogs).Error; err != nil {
		return nil, fmt.Errorf("failed to load payment logs: %w", err)
	}
	return d, nil
}

func (s *Service) ListAwaitingApproval(ctx context.Context, limit int) ([]*models.Payment, error) {
	if limit <= 0 || limit > maxScanSize {
		limit = maxScanSize
	}
	var rows []*models.Payment
	if err := s.db.WithContext(ctx).
		Where("manual_approval = ? AND status = ?", true, types.PaymentStatusPending).
		Order("created_at asc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments awaiting approval: %w", err)
	}
	return rows, nil
}
