package gateway

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/types"
)

func testRequest(method types.PaymentMethod) *CreateRequest {
	return &CreateRequest{
		PaymentID:     "0199a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b",
		TransactionID: "txn-1",
		CustomerID:    "cust-1",
		Method:        method,
		Currency:      types.CurrencyIDR,
		Amount:        decimal.NewFromInt(98747),
		ExpiresAt:     time.Now().Add(time.Hour),
	}
}

func TestRegistry_ForMethod(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Gateway.Methods = map[string]string{"ewallet": "manual"}
	r := NewRegistry(cfg, NewManualProvider(cfg.Gateway.Manual), NewSandboxProvider(cfg.Gateway.Sandbox))

	p, err := r.ForMethod(types.PaymentMethodManualTransfer)
	require.NoError(t, err)
	require.Equal(t, types.PaymentProviderManual, p.Name())

	p, err = r.ForMethod(types.PaymentMethodQRIS)
	require.NoError(t, err)
	require.Equal(t, types.PaymentProviderSandbox, p.Name())

	p, err = r.ForMethod(types.PaymentMethodEWallet)
	require.NoError(t, err)
	require.Equal(t, types.PaymentProviderManual, p.Name())

	_, err = r.ByName(types.PaymentProviderStripe)
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestManualProvider_Instructions(t *testing.T) {
	p := NewManualProvider(cfgpkg.ManualTransferConfig{BankName: "BCA", AccountNumber: "1234567890", AccountHolder: "PT Billing"})
	res, err := p.CreatePayment(context.Background(), testRequest(types.PaymentMethodManualTransfer))
	require.NoError(t, err)
	require.Empty(t, res.ExternalID)
	require.Equal(t, "98747", res.Instructions.Amount)
	require.Equal(t, "1234567890", res.Instructions.AccountNumber)
	require.Contains(t, res.Instructions.Steps[0], "IDR 98747")

	_, err = p.ParseCallback(context.Background(), http.Header{}, nil)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestSandboxProvider_CreatePayment(t *testing.T) {
	p := NewSandboxProvider(cfgpkg.SandboxConfig{CallbackToken: "secret", QRISMerchant: "ID1020"})

	res, err := p.CreatePayment(context.Background(), testRequest(types.PaymentMethodVABCA))
	require.NoError(t, err)
	require.Len(t, res.Instructions.VANumber, 16)
	require.Equal(t, "39010", res.Instructions.VANumber[:5])
	require.Equal(t, "BCA", res.Instructions.BankName)
	require.NotEmpty(t, res.ExternalID)

	res, err = p.CreatePayment(context.Background(), testRequest(types.PaymentMethodQRIS))
	require.NoError(t, err)
	require.Contains(t, res.Instructions.QRString, "ID1020")

	_, err = p.CreatePayment(context.Background(), testRequest(types.PaymentMethodCard))
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestSandboxProvider_ParseCallback(t *testing.T) {
	p := NewSandboxProvider(cfgpkg.SandboxConfig{CallbackToken: "secret"})
	body := []byte(`{"external_id":"sbx_1","payment_id":"pay-1","status":"PAID"}`)

	_, err := p.ParseCallback(context.Background(), http.Header{}, body)
	require.ErrorIs(t, err, ErrInvalidSignature)

	h := http.Header{}
	h.Set(CallbackTokenHeader, "secret")
	cb, err := p.ParseCallback(context.Background(), h, body)
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusPaid, cb.Status)
	require.Equal(t, "pay-1", cb.PaymentID)

	cb, err = p.ParseCallback(context.Background(), h, []byte(`{"external_id":"sbx_1","status":"failed","reason":"denied by issuer"}`))
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusFailed, cb.Status)
	require.Equal(t, "denied by issuer", cb.Reason)

	cb, err = p.ParseCallback(context.Background(), h, []byte(`{"external_id":"sbx_1","status":"refunded"}`))
	require.NoError(t, err)
	require.Empty(t, cb.Status)

	_, err = p.ParseCallback(context.Background(), h, []byte(`not json`))
	require.Error(t, err)
}

func TestStripeProvider_ParseCallback(t *testing.T) {
	p := NewStripeProvider(cfgpkg.StripeConfig{APIKey: "sk_test_x", SigningSecret: "whsec_test"}, zap.NewNop().Sugar())
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"api_version": %q,
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_1", "object": "payment_intent", "status": "succeeded", "metadata": {"payment_id": "pay-1"}}}
	}`, stripe.APIVersion))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})

	h := http.Header{}
	h.Set(StripeSignatureHeader, signed.Header)
	cb, err := p.ParseCallback(context.Background(), h, signed.Payload)
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusPaid, cb.Status)
	require.Equal(t, "pi_1", cb.ExternalID)
	require.Equal(t, "pay-1", cb.PaymentID)

	h.Set(StripeSignatureHeader, "t=1,v1=bad")
	_, err = p.ParseCallback(context.Background(), h, signed.Payload)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestIntentStatus(t *testing.T) {
	require.Equal(t, types.PaymentStatusPaid, intentStatus(stripe.PaymentIntentStatusSucceeded))
	require.Equal(t, types.PaymentStatusFailed, intentStatus(stripe.PaymentIntentStatusCanceled))
	require.Equal(t, types.PaymentStatusPending, intentStatus(stripe.PaymentIntentStatusProcessing))
}

func TestStripeAmount(t *testing.T) {
	req := testRequest(types.PaymentMethodCard)
	require.Equal(t, int64(9874700), stripeAmount(req))
	req.Currency = types.CurrencyUSD
	req.Amount = decimal.RequireFromString("12.34")
	require.Equal(t, int64(1234), stripeAmount(req))
}
