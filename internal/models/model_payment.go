package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/fatflowers/billing/pkg/types"
)

// PaymentInstructions is what the payer needs to complete the payment, rendered by the status endpoint.
type PaymentInstructions struct {
	Title         string   `json:"title"`
	Steps         []string `json:"steps,omitempty"`
	Amount        string   `json:"amount,omitempty"`
	BankName      string   `json:"bank_name,omitempty"`
	AccountNumber string   `json:"account_number,omitempty"`
	AccountHolder string   `json:"account_holder,omitempty"`
	VANumber      string   `json:"va_number,omitempty"`
	QRString      string   `json:"qr_string,omitempty"`
	RedirectURL   string   `json:"redirect_url,omitempty"`
	ClientSecret  string   `json:"client_secret,omitempty"`
}

// Payment is one attempt to pay a Transaction.
// Amount == BaseAmount + UniqueCode in minor units; the code is non-zero only for manual transfers.
type Payment struct {
	ID            string                `gorm:"column:id;primary_key;type:uuid" json:"id"`
	TransactionID string                `gorm:"column:transaction_id;type:uuid;not null;index" json:"transaction_id"`
	CustomerID    string                `gorm:"column:customer_id;type:varchar(64);not null" json:"customer_id"`
	Method        types.PaymentMethod   `gorm:"column:method;type:varchar(32);not null;index:idx_method_status_currency,priority:1" json:"method"`
	Provider      types.PaymentProvider `gorm:"column:provider;type:varchar(32);not null" json:"provider"`
	Currency      types.Currency        `gorm:"column:currency;type:varchar(8);not null;index:idx_method_status_currency,priority:3" json:"currency"`

	// BaseAmount is the transaction final amount at creation time.
	BaseAmount       decimal.Decimal `gorm:"column:base_amount;type:numeric(20,4);not null" json:"base_amount"`
	ServiceFeeAmount decimal.Decimal `gorm:"column:service_fee_amount;type:numeric(20,4);not null" json:"service_fee_amount"`
	UniqueCode       int             `gorm:"column:unique_code;not null;default:0" json:"unique_code"`
	Amount           decimal.Decimal `gorm:"column:amount;type:numeric(20,4);not null" json:"amount"`

	Status         types.PaymentStatus `gorm:"column:status;type:varchar(32);not null;index:idx_method_status_currency,priority:2" json:"status"`
	ManualApproval bool                `gorm:"column:manual_approval;not null;default:false" json:"manual_approval"`
	ExternalID     *string             `gorm:"column:external_id;type:varchar(128);index" json:"external_id"`

	Instructions datatypes.JSONType[*PaymentInstructions] `gorm:"column:instructions;type:jsonb;default:'null'" json:"instructions"`

	RejectReason  *string `gorm:"column:reject_reason;type:varchar(255)" json:"reject_reason"`
	FailureReason *string `gorm:"column:failure_reason;type:varchar(255)" json:"failure_reason"`
	DecidedBy     *string `gorm:"column:decided_by;type:varchar(64)" json:"decided_by"`

	ExpiresAt time.Time  `gorm:"column:expires_at;not null" json:"expires_at"`
	PaidAt    *time.Time `gorm:"column:paid_at;default:null" json:"paid_at"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payment"
}

func (p *Payment) IsOverdue(now time.Time) bool {
	return p != nil && now.After(p.ExpiresAt)
}

func (p *Payment) GetInstructions() *PaymentInstructions {
	if p == nil {
		return nil
	}
	return p.Instructions.Data()
}
