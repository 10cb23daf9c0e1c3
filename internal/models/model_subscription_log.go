package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/billing/pkg/types"
)

// SubscriptionLog records changes to WhatsApp subscriptions.
// The unique (transaction_id, transaction_item_id) pair marks a purchased line as applied.
type SubscriptionLog struct {
	ID                string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	CustomerID        string `gorm:"column:customer_id;type:varchar(64);index;not null" json:"customer_id"`
	SubscriptionID    string `gorm:"column:subscription_id;type:uuid;not null" json:"subscription_id"`
	TransactionID     string `gorm:"column:transaction_id;type:uuid;not null;uniqueIndex:unique_transaction_item,priority:1" json:"transaction_id"`
	TransactionItemID string `gorm:"column:transaction_item_id;type:uuid;not null;uniqueIndex:unique_transaction_item,priority:2" json:"transaction_item_id"`
	// Reason is the change reason.
	Reason types.SubscriptionChangeReason `gorm:"column:reason;type:varchar(64);not null" json:"reason"`
	// Before stores subscription data before the change in JSON format.
	Before datatypes.JSONType[*Subscription] `gorm:"column:before;type:jsonb;default:'null'" json:"before"`
	// After stores subscription data after the change in JSON format.
	After     datatypes.JSONType[*Subscription] `gorm:"column:after;type:jsonb;default:'null'" json:"after"`
	Extra     datatypes.JSONMap                 `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time                         `json:"created_at"`
}

func (SubscriptionLog) TableName() string {
	return "subscription_log"
}
