package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/models"
	cfgpkg "github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/types"
)

const StripeSignatureHeader = "Stripe-Signature"

// StripeProvider serves card payments through PaymentIntents.
type StripeProvider struct {
	cfg cfgpkg.StripeConfig
	log *zap.SugaredLogger
}

// NewStripeProvider sets the package-level stripe key; only one account is supported per process.
func NewStripeProvider(cfg cfgpkg.StripeConfig, log *zap.SugaredLogger) *StripeProvider {
	stripe.Key = cfg.APIKey
	return &StripeProvider{cfg: cfg, log: log}
}

func (s *StripeProvider) Name() types.PaymentProvider { return types.PaymentProviderStripe }

// stripeAmount converts to the smallest unit stripe expects. Both IDR and USD
// are two-decimal currencies on stripe's side.
func stripeAmount(req *CreateRequest) int64 {
	return req.Amount.Shift(2).Round(0).IntPart()
}

func (s *StripeProvider) CreatePayment(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(stripeAmount(req)),
		Currency: stripe.String(strings.ToLower(string(req.Currency))),
		Metadata: map[string]string{
			"payment_id":     req.PaymentID,
			"transaction_id": req.TransactionID,
			"customer_id":    req.CustomerID,
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.PaymentID)
	pi, err := paymentintent.New(params)
	if err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("stripe: failed to create payment intent", "payment_id", req.PaymentID, "err", err)
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return &CreateResult{
		ExternalID: pi.ID,
		Instructions: &models.PaymentInstructions{
			Title:        "Card payment",
			Amount:       req.Amount.StringFixed(req.Currency.Exponent()),
			ClientSecret: pi.ClientSecret,
			Steps:        []string{"Enter your card details to complete the payment."},
		},
	}, nil
}

func (s *StripeProvider) Inquire(ctx context.Context, externalID string) (types.PaymentStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(externalID, params)
	if err != nil {
		return "", fmt.Errorf("failed to get payment intent: %w", err)
	}
	return intentStatus(pi.Status), nil
}

func intentStatus(status stripe.PaymentIntentStatus) types.PaymentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return types.PaymentStatusPaid
	case stripe.PaymentIntentStatusCanceled:
		return types.PaymentStatusFailed
	default:
		return types.PaymentStatusPending
	}
}

func (s *StripeProvider) ParseCallback(ctx context.Context, header http.Header, body []byte) (*Callback, error) {
	event, err := webhook.ConstructEvent(body, header.Get(StripeSignatureHeader), s.cfg.SigningSecret)
	if err != nil {
		logctx.FromCtx(ctx, s.log).Warnw("stripe: webhook signature rejected", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	cb := &Callback{Provider: types.PaymentProviderStripe, EventType: string(event.Type)}
	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", event.Type, err)
		}
		cb.ExternalID = pi.ID
		cb.PaymentID = pi.Metadata["payment_id"]
		if event.Type == "payment_intent.succeeded" {
			cb.Status = types.PaymentStatusPaid
		} else {
			cb.Status = types.PaymentStatusFailed
			if pi.LastPaymentError != nil {
				cb.Reason = pi.LastPaymentError.Msg
			}
		}
	default:
		logctx.FromCtx(ctx, s.log).Infow("stripe: unhandled event type", "type", event.Type)
	}
	return cb, nil
}
