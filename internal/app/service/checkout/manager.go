// Package checkout drives transactions and payments through their lifecycle.
// Every mutation runs under the per-transaction lock and starts by reconciling
// deadlines; gateway calls happen outside the lock.
package checkout

import (
	"context"
	"errors"
	"net/http"

	"github.com/fatflowers/billing/internal/app/service/activation"
	"github.com/fatflowers/billing/internal/app/service/pricing"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/identity"
	"github.com/fatflowers/billing/pkg/types"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrTransactionNotPending  = errors.New("transaction not pending")
	ErrManualApprovalRequired = errors.New("payment is not a manual-approval payment")
	ErrGatewayUnavailable     = errors.New("payment gateway unavailable")
)

type ItemRequest struct {
	ID       string `json:"id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=0"`
}

type CreateTransactionRequest struct {
	Currency    types.Currency `json:"currency" validate:"required"`
	Items       []ItemRequest  `json:"items" validate:"required,min=1,dive"`
	VoucherCode string         `json:"voucher_code"`
}

type TransactionView struct {
	Transaction *models.Transaction       `json:"transaction"`
	Items       []*models.TransactionItem `json:"items"`
	Pricing     *pricing.Breakdown        `json:"pricing"`
}

type StatusView struct {
	Payment      *models.Payment             `json:"payment"`
	Transaction  *models.Transaction         `json:"transaction"`
	Items        []*models.TransactionItem   `json:"items"`
	Pricing      *pricing.Breakdown          `json:"pricing"`
	Instructions *models.PaymentInstructions `json:"instructions"`
}

// Manager is the surface the HTTP layer and operator tools use.
type Manager interface {
	CreateTransaction(ctx context.Context, caller *identity.Caller, req *CreateTransactionRequest) (*TransactionView, error)
	// CreatePayment attaches a payment to a created or pending transaction, replacing a pending one of another method.
	CreatePayment(ctx context.Context, caller *identity.Caller, transactionID string, method types.PaymentMethod) (*models.Payment, error)
	// GetStatus reconciles deadlines, may confirm with the provider, and opportunistically activates.
	GetStatus(ctx context.Context, caller *identity.Caller, paymentID string) (*StatusView, error)
	Cancel(ctx context.Context, caller *identity.Caller, transactionID, reason string) (bool, error)
	Approve(ctx context.Context, caller *identity.Caller, paymentID string) (*models.Payment, error)
	Reject(ctx context.Context, caller *identity.Caller, paymentID, reason string) (*models.Payment, error)
	HandleCallback(ctx context.Context, provider types.PaymentProvider, header http.Header, body []byte) error
	Activate(ctx context.Context, transactionID string) (*activation.Result, error)
}
