// Package catalog resolves purchasable items and service-fee rules from configuration.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"

	cfgpkg "github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/money"
	"github.com/fatflowers/billing/pkg/types"
)

var (
	ErrItemNotFound  = errors.New("catalog item not found")
	ErrPriceNotFound = errors.New("catalog item has no price in currency")
)

type Item struct {
	ID       string
	Kind     types.ItemKind
	Name     string
	Prices   map[types.Currency]decimal.Decimal
	Duration types.SubscriptionDuration
	// Package is the subscription a WhatsApp plan extends.
	Package string
}

// FeeRule is a service-fee surcharge for one (method, currency).
type FeeRule struct {
	money.Adjustment
	Method types.PaymentMethod
	// ManualApproval requires an admin approve/reject to settle payments.
	ManualApproval bool
}

// Catalog is the read-only lookup the pricing path depends on.
type Catalog interface {
	GetItem(id string) (*Item, error)
	GetPackagePrice(id string, currency types.Currency) (decimal.Decimal, error)
	// GetServiceFeeRule returns nil when no rule matches.
	GetServiceFeeRule(method types.PaymentMethod, currency types.Currency) *FeeRule
}

type feeKey struct {
	method   types.PaymentMethod
	currency types.Currency
}

type ConfigCatalog struct {
	items map[string]*Item
	fees  map[feeKey]*FeeRule
}

func NewConfigCatalog(cfg *cfgpkg.Config) (*ConfigCatalog, error) {
	c := &ConfigCatalog{
		items: make(map[string]*Item, len(cfg.Catalog.Items)),
		fees:  make(map[feeKey]*FeeRule, len(cfg.ServiceFees)),
	}
	for _, ci := range cfg.Catalog.Items {
		item := &Item{
			ID:       ci.ID,
			Kind:     ci.Kind,
			Name:     ci.Name,
			Duration: ci.Duration,
			Package:  lo.Ternary(ci.Package == "", ci.ID, ci.Package),
			Prices:   make(map[types.Currency]decimal.Decimal, len(ci.Prices)),
		}
		// viper lower-cases map keys
		for cur, raw := range ci.Prices {
			price, err := money.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("catalog item %s: %w", ci.ID, err)
			}
			if price.IsNegative() {
				return nil, fmt.Errorf("catalog item %s: negative price %s", ci.ID, raw)
			}
			item.Prices[types.Currency(strings.ToUpper(cur))] = price
		}
		c.items[item.ID] = item
	}
	for _, fc := range cfg.ServiceFees {
		rule := &FeeRule{Method: fc.Method, ManualApproval: fc.ManualApproval}
		rule.Type = fc.Type
		rule.Currency = fc.Currency
		var err error
		if rule.Value, err = money.Parse(fc.Value); err != nil {
			return nil, fmt.Errorf("service fee %s/%s value: %w", fc.Method, fc.Currency, err)
		}
		if rule.Min, err = money.Parse(fc.Min); err != nil {
			return nil, fmt.Errorf("service fee %s/%s min: %w", fc.Method, fc.Currency, err)
		}
		if rule.Max, err = money.Parse(fc.Max); err != nil {
			return nil, fmt.Errorf("service fee %s/%s max: %w", fc.Method, fc.Currency, err)
		}
		c.fees[feeKey{method: fc.Method, currency: fc.Currency}] = rule
	}
	return c, nil
}

func (c *ConfigCatalog) GetItem(id string) (*Item, error) {
	item, ok := c.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return item, nil
}

func (c *ConfigCatalog) GetPackagePrice(id string, currency types.Currency) (decimal.Decimal, error) {
	item, err := c.GetItem(id)
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := item.Prices[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s in %s", ErrPriceNotFound, id, currency)
	}
	return price, nil
}

func (c *ConfigCatalog) GetServiceFeeRule(method types.PaymentMethod, currency types.Currency) *FeeRule {
	return c.fees[feeKey{method: method, currency: currency}]
}

// Items lists catalog entries of kind, for admin listings.
func (c *ConfigCatalog) Items(kind types.ItemKind) []*Item {
	return lo.Filter(lo.Values(c.items), func(item *Item, _ int) bool {
		return kind == "" || item.Kind == kind
	})
}

func newCatalog(cfg *cfgpkg.Config) (Catalog, error) {
	return NewConfigCatalog(cfg)
}

var Module = fx.Options(
	fx.Provide(newCatalog),
)
