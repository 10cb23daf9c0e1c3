package types

type Currency string

const (
	CurrencyIDR Currency = "IDR"
	CurrencyUSD Currency = "USD"
)

var SupportedCurrencies = []Currency{CurrencyIDR, CurrencyUSD}

func (c Currency) Valid() bool {
	return c == CurrencyIDR || c == CurrencyUSD
}

// Exponent is the number of minor-unit digits used when rounding amounts.
func (c Currency) Exponent() int32 {
	switch c {
	case CurrencyUSD:
		return 2
	default:
		return 0
	}
}

type PaymentMethod string

const (
	PaymentMethodManualTransfer PaymentMethod = "manual_transfer"
	PaymentMethodVABCA          PaymentMethod = "va_bca"
	PaymentMethodVABNI          PaymentMethod = "va_bni"
	PaymentMethodVABRI          PaymentMethod = "va_bri"
	PaymentMethodVAMandiri      PaymentMethod = "va_mandiri"
	PaymentMethodQRIS           PaymentMethod = "qris"
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodEWallet        PaymentMethod = "ewallet"
	PaymentMethodGateway        PaymentMethod = "gateway"
)

var PaymentMethods = []PaymentMethod{
	PaymentMethodManualTransfer,
	PaymentMethodVABCA,
	PaymentMethodVABNI,
	PaymentMethodVABRI,
	PaymentMethodVAMandiri,
	PaymentMethodQRIS,
	PaymentMethodCard,
	PaymentMethodEWallet,
	PaymentMethodGateway,
}

func (m PaymentMethod) Valid() bool {
	for _, v := range PaymentMethods {
		if v == m {
			return true
		}
	}
	return false
}

func (m PaymentMethod) IsVirtualAccount() bool {
	switch m {
	case PaymentMethodVABCA, PaymentMethodVABNI, PaymentMethodVABRI, PaymentMethodVAMandiri:
		return true
	}
	return false
}

// UsesUniqueCode reports whether the payable amount carries a disambiguating suffix.
func (m PaymentMethod) UsesUniqueCode() bool {
	return m == PaymentMethodManualTransfer
}

type PaymentProvider string

const (
	PaymentProviderManual  PaymentProvider = "manual"
	PaymentProviderStripe  PaymentProvider = "stripe"
	PaymentProviderSandbox PaymentProvider = "sandbox"
)

type ItemKind string

const (
	ItemKindProduct  ItemKind = "product"
	ItemKindAddon    ItemKind = "addon"
	ItemKindWhatsApp ItemKind = "whatsapp"
)

func (k ItemKind) Valid() bool {
	return k == ItemKindProduct || k == ItemKindAddon || k == ItemKindWhatsApp
}

// TransactionType is the derived tag describing which item kinds a transaction contains.
type TransactionType string

const (
	TransactionTypeProduct              TransactionType = "product"
	TransactionTypeAddon                TransactionType = "addon"
	TransactionTypeWhatsApp             TransactionType = "whatsapp"
	TransactionTypeProductAddon         TransactionType = "product_addon"
	TransactionTypeProductWhatsApp      TransactionType = "product_whatsapp"
	TransactionTypeAddonWhatsApp        TransactionType = "addon_whatsapp"
	TransactionTypeProductAddonWhatsApp TransactionType = "product_addon_whatsapp"
)

// DeriveTransactionType builds the type tag from the set of item kinds present.
func DeriveTransactionType(kinds []ItemKind) TransactionType {
	var hasProduct, hasAddon, hasWhatsApp bool
	for _, k := range kinds {
		switch k {
		case ItemKindProduct:
			hasProduct = true
		case ItemKindAddon:
			hasAddon = true
		case ItemKindWhatsApp:
			hasWhatsApp = true
		}
	}
	switch {
	case hasProduct && hasAddon && hasWhatsApp:
		return TransactionTypeProductAddonWhatsApp
	case hasProduct && hasAddon:
		return TransactionTypeProductAddon
	case hasProduct && hasWhatsApp:
		return TransactionTypeProductWhatsApp
	case hasAddon && hasWhatsApp:
		return TransactionTypeAddonWhatsApp
	case hasProduct:
		return TransactionTypeProduct
	case hasAddon:
		return TransactionTypeAddon
	case hasWhatsApp:
		return TransactionTypeWhatsApp
	}
	return ""
}

type AdjustmentType string

const (
	AdjustmentTypePercentage AdjustmentType = "percentage"
	AdjustmentTypeFixed      AdjustmentType = "fixed"
)

type SubscriptionDuration string

const (
	SubscriptionDurationMonthly SubscriptionDuration = "monthly"
	SubscriptionDurationYearly  SubscriptionDuration = "yearly"
)

// Months returns the number of calendar months purchased, 0 when unknown.
func (d SubscriptionDuration) Months() int {
	switch d {
	case SubscriptionDurationMonthly:
		return 1
	case SubscriptionDurationYearly:
		return 12
	}
	return 0
}
