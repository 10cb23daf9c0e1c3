package models

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&Transaction{},
		&TransactionItem{},
		&TransactionLog{},
		&Payment{},
		&PaymentLog{},
		&PaymentNotificationLog{},
		&Voucher{},
		&VoucherUsage{},
		&ProductGrant{},
		&AddonDelivery{},
		&Subscription{},
		&SubscriptionLog{},
	}
}
