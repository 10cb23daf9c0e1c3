package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/billing/pkg/types"
)

// Subscription is a customer's WhatsApp service package. One row per (customer, package);
// renewals update ExpiredAt in place.
type Subscription struct {
	ID         string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	CustomerID string                   `gorm:"column:customer_id;type:varchar(64);not null;uniqueIndex:unique_customer_package,priority:1" json:"customer_id"`
	PackageID  string                   `gorm:"column:package_id;type:varchar(64);not null;uniqueIndex:unique_customer_package,priority:2" json:"package_id"`
	Status     types.SubscriptionStatus `gorm:"column:status;type:varchar(64);not null" json:"status"`
	// ActivatedAt is the start of the current uninterrupted period.
	ActivatedAt *time.Time `gorm:"column:activated_at;default:null" json:"activated_at"`
	// ExpiredAt is the subscription end time.
	ExpiredAt         *time.Time `gorm:"column:expired_at;default:null" json:"expired_at"`
	LastTransactionID *string    `gorm:"column:last_transaction_id;type:varchar(64)" json:"last_transaction_id"`
	// Extra stores additional JSON data (for example: last purchased duration and price).
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

// ActiveAt reports whether the subscription still runs at now.
func (s *Subscription) ActiveAt(now time.Time) bool {
	return s != nil &&
		s.Status == types.SubscriptionStatusActive &&
		s.ExpiredAt != nil &&
		s.ExpiredAt.After(now)
}
