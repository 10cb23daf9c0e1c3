package types

type TransactionStatus string

const (
	TransactionStatusCreated    TransactionStatus = "created"
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusInProgress TransactionStatus = "in_progress"
	TransactionStatusSuccess    TransactionStatus = "success"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusExpired    TransactionStatus = "expired"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
)

func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusSuccess, TransactionStatusFailed, TransactionStatusExpired, TransactionStatusCancelled:
		return true
	}
	return false
}

// AwaitingPayment reports whether a payment may still be created or replaced.
func (s TransactionStatus) AwaitingPayment() bool {
	return s == TransactionStatusCreated || s == TransactionStatusPending
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusExpired   PaymentStatus = "expired"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	// PaymentStatusRejected is an admin decline of a manual transfer; terminal-failed.
	PaymentStatusRejected PaymentStatus = "rejected"
)

func (s PaymentStatus) IsTerminal() bool {
	return s != PaymentStatusPending
}

// IsActive reports whether the payment still blocks creating a new one.
func (s PaymentStatus) IsActive() bool {
	return s == PaymentStatusPending || s == PaymentStatusPaid
}

type ItemStatus string

const (
	ItemStatusPending ItemStatus = "pending"
	ItemStatusSuccess ItemStatus = "success"
	ItemStatusFailed  ItemStatus = "failed"
)

type GrantStatus string

const (
	GrantStatusDeliveryPending GrantStatus = "delivery_pending"
	GrantStatusDelivered       GrantStatus = "delivered"
)
