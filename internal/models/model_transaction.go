package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/billing/pkg/types"
)

// Transaction is one purchase intent. Amounts are fixed-point in Currency.
// FinalAmount == OriginalAmount - DiscountAmount + ServiceFeeAmount whenever a payment is attached.
type Transaction struct {
	ID         string                `gorm:"column:id;primary_key;type:uuid;index:idx_customer_id_id,priority:2,sort:desc" json:"id"`
	CustomerID string                `gorm:"column:customer_id;type:varchar(64);not null;index:idx_customer_id_id,priority:1" json:"customer_id"`
	Currency   types.Currency        `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	Type       types.TransactionType `gorm:"column:type;type:varchar(64);not null" json:"type"`

	OriginalAmount   decimal.Decimal `gorm:"column:original_amount;type:numeric(20,4);not null" json:"original_amount"`
	DiscountAmount   decimal.Decimal `gorm:"column:discount_amount;type:numeric(20,4);not null" json:"discount_amount"`
	ServiceFeeAmount decimal.Decimal `gorm:"column:service_fee_amount;type:numeric(20,4);not null" json:"service_fee_amount"`
	FinalAmount      decimal.Decimal `gorm:"column:final_amount;type:numeric(20,4);not null" json:"final_amount"`

	Status types.TransactionStatus `gorm:"column:status;type:varchar(32);not null;index:idx_status_expires_at,priority:1" json:"status"`
	// PaymentMethod is the method of the most recent payment attempt.
	PaymentMethod *types.PaymentMethod `gorm:"column:payment_method;type:varchar(32)" json:"payment_method"`
	VoucherID     *string              `gorm:"column:voucher_id;type:varchar(64)" json:"voucher_id"`
	VoucherCode   *string              `gorm:"column:voucher_code;type:varchar(64)" json:"voucher_code"`
	CancelReason  *string              `gorm:"column:cancel_reason;type:varchar(255)" json:"cancel_reason"`

	ExpiresAt   *time.Time `gorm:"column:expires_at;default:null;index:idx_status_expires_at,priority:2" json:"expires_at"`
	PaidAt      *time.Time `gorm:"column:paid_at;default:null" json:"paid_at"`
	CompletedAt *time.Time `gorm:"column:completed_at;default:null" json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transaction"
}

// IsOverdue reports whether the transaction deadline has passed at now.
func (t *Transaction) IsOverdue(now time.Time) bool {
	return t != nil && t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// TransactionItem is one purchased line and the sub-record activation marks success or failed.
type TransactionItem struct {
	ID            string                     `gorm:"column:id;primary_key;type:uuid" json:"id"`
	TransactionID string                     `gorm:"column:transaction_id;type:uuid;not null;index" json:"transaction_id"`
	Kind          types.ItemKind             `gorm:"column:kind;type:varchar(32);not null" json:"kind"`
	RefID         string                     `gorm:"column:ref_id;type:varchar(64);not null" json:"ref_id"`
	Name          string                     `gorm:"column:name;type:varchar(255)" json:"name"`
	UnitPrice     decimal.Decimal            `gorm:"column:unit_price;type:numeric(20,4);not null" json:"unit_price"`
	Quantity      int                        `gorm:"column:quantity;not null" json:"quantity"`
	Subtotal      decimal.Decimal            `gorm:"column:subtotal;type:numeric(20,4);not null" json:"subtotal"`
	Duration      types.SubscriptionDuration `gorm:"column:duration;type:varchar(32)" json:"duration,omitempty"`
	Status        types.ItemStatus           `gorm:"column:status;type:varchar(32);not null" json:"status"`
	FailureReason *string                    `gorm:"column:failure_reason;type:varchar(255)" json:"failure_reason"`
	// Position keeps the checkout order of lines.
	Position  int       `gorm:"column:position;not null" json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TransactionItem) TableName() string {
	return "transaction_item"
}
