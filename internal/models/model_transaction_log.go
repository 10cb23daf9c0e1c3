package models

import (
	"time"

	"gorm.io/datatypes"
)

// TransactionLog is the audit trail of transaction status writes.
type TransactionLog struct {
	ID            string `gorm:"column:id;primary_key;type:uuid"`
	TransactionID string `gorm:"column:transaction_id;type:uuid;not null;index"`
	From          string `gorm:"column:from_status;type:varchar(32);not null"`
	To            string `gorm:"column:to_status;type:varchar(32);not null"`
	// Trigger names who caused the write (customer, admin, webhook, expiry, activation).
	Trigger   string                           `gorm:"column:trigger_source;type:varchar(64);not null"`
	Before    datatypes.JSONType[*Transaction] `gorm:"column:before;type:jsonb;default:'null'"`
	After     datatypes.JSONType[*Transaction] `gorm:"column:after;type:jsonb;default:'null'"`
	Extra     datatypes.JSONMap                `gorm:"column:extra;type:jsonb;default:'{}'"`
	CreatedAt time.Time                        `json:"created_at"`
}

func (TransactionLog) TableName() string {
	return "transaction_log"
}

// PaymentLog is the audit trail of payment status writes.
type PaymentLog struct {
	ID            string                       `gorm:"column:id;primary_key;type:uuid"`
	PaymentID     string                       `gorm:"column:payment_id;type:uuid;not null;index"`
	TransactionID string                       `gorm:"column:transaction_id;type:uuid;not null"`
	From          string                       `gorm:"column:from_status;type:varchar(32);not null"`
	To            string                       `gorm:"column:to_status;type:varchar(32);not null"`
	Trigger       string                       `gorm:"column:trigger_source;type:varchar(64);not null"`
	Before        datatypes.JSONType[*Payment] `gorm:"column:before;type:jsonb;default:'null'"`
	After         datatypes.JSONType[*Payment] `gorm:"column:after;type:jsonb;default:'null'"`
	Extra         datatypes.JSONMap            `gorm:"column:extra;type:jsonb;default:'{}'"`
	CreatedAt     time.Time                    `json:"created_at"`
}

func (PaymentLog) TableName() string {
	return "payment_log"
}
