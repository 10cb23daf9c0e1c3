package models

import (
	"time"

	"github.com/fatflowers/billing/pkg/types"
)

// ProductGrant is the delivery-pending record for a purchased product line.
// The unique transaction_item_id makes it the idempotency witness for activation.
type ProductGrant struct {
	ID                string            `gorm:"column:id;primary_key;type:uuid" json:"id"`
	TransactionID     string            `gorm:"column:transaction_id;type:uuid;not null;index" json:"transaction_id"`
	TransactionItemID string            `gorm:"column:transaction_item_id;type:uuid;not null;uniqueIndex" json:"transaction_item_id"`
	CustomerID        string            `gorm:"column:customer_id;type:varchar(64);not null;index" json:"customer_id"`
	ProductID         string            `gorm:"column:product_id;type:varchar(64);not null" json:"product_id"`
	Quantity          int               `gorm:"column:quantity;not null" json:"quantity"`
	Status            types.GrantStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (ProductGrant) TableName() string {
	return "product_grant"
}

// AddonDelivery is the delivery-pending record for a purchased addon line.
type AddonDelivery struct {
	ID                string            `gorm:"column:id;primary_key;type:uuid" json:"id"`
	TransactionID     string            `gorm:"column:transaction_id;type:uuid;not null;index" json:"transaction_id"`
	TransactionItemID string            `gorm:"column:transaction_item_id;type:uuid;not null;uniqueIndex" json:"transaction_item_id"`
	CustomerID        string            `gorm:"column:customer_id;type:varchar(64);not null;index" json:"customer_id"`
	AddonID           string            `gorm:"column:addon_id;type:varchar(64);not null" json:"addon_id"`
	Quantity          int               `gorm:"column:quantity;not null" json:"quantity"`
	Status            types.GrantStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (AddonDelivery) TableName() string {
	return "addon_delivery"
}
