package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/billing/pkg/types"
)

func TestDefault_IsValid(t *testing.T) {
	c := Default()
	require.NoError(t, Validate(c))
	require.Equal(t, "local", c.Lock.Backend)
	require.Equal(t, 24*time.Hour, c.Checkout.PaymentTTL)
	require.Equal(t, 30, c.Checkout.UniqueCodeAttempts)
}

func TestValidate_RejectsBadCatalog(t *testing.T) {
	c := Default()
	c.Catalog.Items = []*CatalogItem{{ID: "x", Kind: "bogus"}}
	require.Error(t, Validate(c))

	c.Catalog.Items = []*CatalogItem{{ID: "wa", Kind: types.ItemKindWhatsApp}}
	require.ErrorContains(t, Validate(c), "duration")

	c = Default()
	c.Lock.Backend = "zookeeper"
	require.Error(t, Validate(c))
}

func TestProviderForMethod(t *testing.T) {
	c := Default()
	require.Equal(t, types.PaymentProviderManual, c.ProviderForMethod(types.PaymentMethodManualTransfer))
	require.Equal(t, types.PaymentProviderSandbox, c.ProviderForMethod(types.PaymentMethodCard))

	c.Gateway.Stripe.APIKey = "sk_test"
	require.Equal(t, types.PaymentProviderStripe, c.ProviderForMethod(types.PaymentMethodCard))

	c.Gateway.Methods = map[string]string{"qris": "stripe"}
	require.Equal(t, types.PaymentProviderStripe, c.ProviderForMethod(types.PaymentMethodQRIS))
}

func TestNew_ReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "billing.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
database:
  driver: sqlite
  dsn: "file::memory:"
catalog:
  items:
    - id: wa-monthly
      kind: whatsapp
      duration: monthly
      prices:
        IDR: "100000"
service_fees:
  - method: manual_transfer
    currency: IDR
    type: fixed
    value: "3500"
    manual_approval: true
`), 0o600))
	t.Setenv("APP_CONFIG_FILE", file)
	t.Setenv("APP_SERVER_PORT", "9999")

	c, err := New()
	require.NoError(t, err)
	require.Equal(t, "sqlite", c.Database.Driver)
	require.Equal(t, 9999, c.Server.Port)
	require.NotNil(t, c.GetCatalogItemByID("wa-monthly"))
	require.Nil(t, c.GetCatalogItemByID("missing"))
	require.Len(t, c.ServiceFees, 1)
	require.True(t, c.ServiceFees[0].ManualApproval)
}
