package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveTransactionType(t *testing.T) {
	tests := []struct {
		kinds []ItemKind
		want  TransactionType
	}{
		{kinds: []ItemKind{ItemKindProduct}, want: TransactionTypeProduct},
		{kinds: []ItemKind{ItemKindAddon, ItemKindAddon}, want: TransactionTypeAddon},
		{kinds: []ItemKind{ItemKindWhatsApp}, want: TransactionTypeWhatsApp},
		{kinds: []ItemKind{ItemKindAddon, ItemKindProduct}, want: TransactionTypeProductAddon},
		{kinds: []ItemKind{ItemKindWhatsApp, ItemKindProduct}, want: TransactionTypeProductWhatsApp},
		{kinds: []ItemKind{ItemKindWhatsApp, ItemKindAddon}, want: TransactionTypeAddonWhatsApp},
		{kinds: []ItemKind{ItemKindWhatsApp, ItemKindAddon, ItemKindProduct}, want: TransactionTypeProductAddonWhatsApp},
		{kinds: nil, want: ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, DeriveTransactionType(tt.kinds))
	}
}

func TestPaymentMethod_UsesUniqueCode(t *testing.T) {
	require.True(t, PaymentMethodManualTransfer.UsesUniqueCode())
	require.False(t, PaymentMethodQRIS.UsesUniqueCode())
	require.True(t, PaymentMethodVABCA.IsVirtualAccount())
	require.False(t, PaymentMethod("bitcoin").Valid())
}

func TestSubscriptionDuration_Months(t *testing.T) {
	require.Equal(t, 1, SubscriptionDurationMonthly.Months())
	require.Equal(t, 12, SubscriptionDurationYearly.Months())
	require.Equal(t, 0, SubscriptionDuration("weekly").Months())
}
