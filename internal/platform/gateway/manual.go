package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fatflowers/billing/internal/models"
	cfgpkg "github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/types"
)

// ManualProvider handles bank transfers settled by an admin. There is no remote side.
type ManualProvider struct {
	account cfgpkg.ManualTransferConfig
}

func NewManualProvider(account cfgpkg.ManualTransferConfig) *ManualProvider {
	return &ManualProvider{account: account}
}

func (m *ManualProvider) Name() types.PaymentProvider { return types.PaymentProviderManual }

func (m *ManualProvider) CreatePayment(_ context.Context, req *CreateRequest) (*CreateResult, error) {
	amount := req.Amount.StringFixed(req.Currency.Exponent())
	return &CreateResult{
		Instructions: &models.PaymentInstructions{
			Title:         "Bank transfer",
			Amount:        amount,
			BankName:      m.account.BankName,
			AccountNumber: m.account.AccountNumber,
			AccountHolder: m.account.AccountHolder,
			Steps: []string{
				fmt.Sprintf("Transfer exactly %s %s, including the last three digits.", req.Currency, amount),
				"Keep your transfer receipt.",
				"Your order is confirmed once an admin verifies the transfer.",
			},
		},
	}, nil
}

func (m *ManualProvider) Inquire(context.Context, string) (types.PaymentStatus, error) {
	return types.PaymentStatusPending, nil
}

func (m *ManualProvider) ParseCallback(context.Context, http.Header, []byte) (*Callback, error) {
	return nil, ErrUnsupported
}
