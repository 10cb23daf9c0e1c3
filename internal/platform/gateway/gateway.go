// Package gateway adapts external payment providers. Calls here may block on the
// network and must never run while a per-transaction lock is held.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/models"
	cfgpkg "github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/types"
)

var (
	ErrUnknownProvider  = errors.New("unknown payment provider")
	ErrInvalidSignature = errors.New("invalid callback signature")
	ErrUnsupported      = errors.New("operation not supported by provider")
)

type CreateRequest struct {
	PaymentID     string
	TransactionID string
	CustomerID    string
	Method        types.PaymentMethod
	Currency      types.Currency
	Amount        decimal.Decimal
	ExpiresAt     time.Time
}

type CreateResult struct {
	ExternalID   string
	Instructions *models.PaymentInstructions
}

// Callback is a provider notification reduced to what the lifecycle needs.
// Status is empty for events that do not settle a payment.
type Callback struct {
	Provider   types.PaymentProvider
	EventType  string
	ExternalID string
	PaymentID  string
	Status     types.PaymentStatus
	Reason     string
}

type Provider interface {
	Name() types.PaymentProvider
	CreatePayment(ctx context.Context, req *CreateRequest) (*CreateResult, error)
	// Inquire asks the provider for the settlement state of externalID.
	Inquire(ctx context.Context, externalID string) (types.PaymentStatus, error)
	ParseCallback(ctx context.Context, header http.Header, body []byte) (*Callback, error)
}

// Registry resolves providers by name or by payment method.
type Registry struct {
	cfg       *cfgpkg.Config
	providers map[types.PaymentProvider]Provider
}

func NewRegistry(cfg *cfgpkg.Config, providers ...Provider) *Registry {
	r := &Registry{cfg: cfg, providers: make(map[types.PaymentProvider]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) ByName(name types.PaymentProvider) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) ForMethod(method types.PaymentMethod) (Provider, error) {
	return r.ByName(r.cfg.ProviderForMethod(method))
}

func newRegistry(cfg *cfgpkg.Config, log *zap.SugaredLogger) *Registry {
	providers := []Provider{
		NewManualProvider(cfg.Gateway.Manual),
		NewSandboxProvider(cfg.Gateway.Sandbox),
	}
	if cfg.Gateway.Stripe.APIKey != "" {
		providers = append(providers, NewStripeProvider(cfg.Gateway.Stripe, log))
	}
	return NewRegistry(cfg, providers...)
}

var Module = fx.Options(
	fx.Provide(newRegistry),
)
