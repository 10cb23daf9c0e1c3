package types

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
)

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonPurchase SubscriptionChangeReason = "purchase"
	// SubscriptionChangeReasonExtend is a renewal bought before the current period ended.
	SubscriptionChangeReasonExtend SubscriptionChangeReason = "extend"
	// SubscriptionChangeReasonRenewAfterLapse is a renewal bought after the period ended.
	SubscriptionChangeReasonRenewAfterLapse SubscriptionChangeReason = "renew_after_lapse"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)
