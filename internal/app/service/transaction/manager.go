// Package transaction is the read side for operators: listing and inspecting
// transactions with their payments and audit trail.
package transaction

import (
	"context"
	"errors"

	"github.com/fatflowers/billing/internal/app/service/pricing"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/types"
)

var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionReader backs the admin list and detail pages.
type TransactionReader interface {
	// Scan transactions (used by admin list pages).
	ScanTransactions(ctx context.Context, req *ScanTransactionsRequest) (*ScanTransactionsResponse, error)
	GetTransaction(ctx context.Context, id string) (*TransactionDetail, error)
	// ListAwaitingApproval returns pending manual-approval payments, oldest first.
	ListAwaitingApproval(ctx context.Context, limit int) ([]*models.Payment, error)
}

// Scan transaction request/response.
type ScanTransactionsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanTransactionsResponse struct {
	Items []*models.Transaction `json:"items"`
	Total int64                 `json:"total"`
}

type TransactionDetail struct {
	Transaction *models.Transaction       `json:"transaction"`
	Items       []*models.TransactionItem `json:"items"`
	Payments    []*models.Payment         `json:"payments"`
	Pricing     *pricing.Breakdown        `json:"pricing"`
	Logs        []*models.TransactionLog  `json:"logs"`
	PaymentLogs []*models.PaymentLog      `json:"payment_logs"`
}
