package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/fatflowers/billing/internal/models"
	cfgpkg "github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

const CallbackTokenHeader = "X-Callback-Token"

var vaPrefixes = map[types.PaymentMethod]string{
	types.PaymentMethodVABCA:     "39010",
	types.PaymentMethodVABNI:     "98820",
	types.PaymentMethodVABRI:     "26215",
	types.PaymentMethodVAMandiri: "88908",
}

// SandboxProvider issues virtual accounts, QRIS payloads and redirect links
// locally and accepts callbacks authenticated by a shared token.
type SandboxProvider struct {
	cfg cfgpkg.SandboxConfig
}

func NewSandboxProvider(cfg cfgpkg.SandboxConfig) *SandboxProvider {
	return &SandboxProvider{cfg: cfg}
}

func (s *SandboxProvider) Name() types.PaymentProvider { return types.PaymentProviderSandbox }

// vaNumber is the bank prefix followed by the last 11 digits of the payment id.
func vaNumber(method types.PaymentMethod, paymentID string) string {
	digits := tool.Digits(paymentID)
	if len(digits) > 11 {
		digits = digits[len(digits)-11:]
	}
	return vaPrefixes[method] + strings.Repeat("0", 11-len(digits)) + digits
}

func (s *SandboxProvider) CreatePayment(_ context.Context, req *CreateRequest) (*CreateResult, error) {
	externalID := "sbx_" + strings.ReplaceAll(req.PaymentID, "-", "")
	amount := req.Amount.StringFixed(req.Currency.Exponent())
	in := &models.PaymentInstructions{Amount: amount}
	switch {
	case req.Method.IsVirtualAccount():
		in.Title = "Virtual account"
		in.BankName = strings.ToUpper(strings.TrimPrefix(string(req.Method), "va_"))
		in.VANumber = vaNumber(req.Method, req.PaymentID)
		in.Steps = []string{
			"Open your bank app and choose virtual account payment.",
			fmt.Sprintf("Enter %s and pay %s %s.", in.VANumber, req.Currency, amount),
		}
	case req.Method == types.PaymentMethodQRIS:
		in.Title = "QRIS"
		in.QRString = fmt.Sprintf("00020101021226%s5303360540%s5802ID6304%s", s.cfg.QRISMerchant, amount, externalID)
		in.Steps = []string{"Scan the QR code with any QRIS-enabled app."}
	case req.Method == types.PaymentMethodEWallet, req.Method == types.PaymentMethodGateway:
		in.Title = "Continue to payment page"
		in.RedirectURL = "https://sandbox.invalid/pay/" + externalID
		in.Steps = []string{"Open the payment page and follow the instructions."}
	default:
		return nil, fmt.Errorf("%w: sandbox cannot serve %s", ErrUnsupported, req.Method)
	}
	return &CreateResult{ExternalID: externalID, Instructions: in}, nil
}

func (s *SandboxProvider) Inquire(context.Context, string) (types.PaymentStatus, error) {
	return types.PaymentStatusPending, nil
}

type sandboxCallback struct {
	ExternalID string `json:"external_id"`
	PaymentID  string `json:"payment_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason"`
}

func (s *SandboxProvider) ParseCallback(_ context.Context, header http.Header, body []byte) (*Callback, error) {
	token := header.Get(CallbackTokenHeader)
	if s.cfg.CallbackToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.CallbackToken)) != 1 {
		return nil, ErrInvalidSignature
	}
	var in sandboxCallback
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("invalid sandbox callback: %w", err)
	}
	cb := &Callback{
		Provider:   types.PaymentProviderSandbox,
		EventType:  in.Status,
		ExternalID: in.ExternalID,
		PaymentID:  in.PaymentID,
		Reason:     in.Reason,
	}
	switch strings.ToLower(in.Status) {
	case "paid", "settled", "success":
		cb.Status = types.PaymentStatusPaid
	case "failed", "denied":
		cb.Status = types.PaymentStatusFailed
	case "expired":
		cb.Status = types.PaymentStatusExpired
	}
	return cb, nil
}
