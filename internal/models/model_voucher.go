package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/billing/pkg/types"
)

// Voucher is a discount code. Quota 0 means unlimited redemptions.
type Voucher struct {
	ID   string               `gorm:"column:id;primary_key;type:uuid" json:"id"`
	Code string               `gorm:"column:code;type:varchar(64);not null;uniqueIndex" json:"code"`
	Type types.AdjustmentType `gorm:"column:type;type:varchar(32);not null" json:"type"`
	// Value is a percentage (0-100) or a fixed amount in Currency.
	Value decimal.Decimal `gorm:"column:value;type:numeric(20,4);not null" json:"value"`
	// MinDiscount/MaxDiscount clamp the computed discount; zero MaxDiscount is uncapped.
	MinDiscount decimal.Decimal `gorm:"column:min_discount;type:numeric(20,4);not null;default:0" json:"min_discount"`
	MaxDiscount decimal.Decimal `gorm:"column:max_discount;type:numeric(20,4);not null;default:0" json:"max_discount"`
	// Currency restricts the voucher; nil applies to any currency (fixed vouchers should always set it).
	Currency  *types.Currency `gorm:"column:currency;type:varchar(8)" json:"currency"`
	Quota     int             `gorm:"column:quota;not null;default:0" json:"quota"`
	UsedCount int             `gorm:"column:used_count;not null;default:0" json:"used_count"`
	Active    bool            `gorm:"column:active;not null" json:"active"`
	StartsAt  *time.Time      `gorm:"column:starts_at;default:null" json:"starts_at"`
	EndsAt    *time.Time      `gorm:"column:ends_at;default:null" json:"ends_at"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Voucher) TableName() string {
	return "voucher"
}

// InWindow reports whether now is inside [StartsAt, EndsAt].
func (v *Voucher) InWindow(now time.Time) bool {
	if v.StartsAt != nil && now.Before(*v.StartsAt) {
		return false
	}
	if v.EndsAt != nil && now.After(*v.EndsAt) {
		return false
	}
	return true
}

// VoucherUsage records a redemption. One row per transaction, never updated.
type VoucherUsage struct {
	ID             string          `gorm:"column:id;primary_key;type:uuid" json:"id"`
	VoucherID      string          `gorm:"column:voucher_id;type:uuid;not null;index" json:"voucher_id"`
	TransactionID  string          `gorm:"column:transaction_id;type:uuid;not null;uniqueIndex" json:"transaction_id"`
	CustomerID     string          `gorm:"column:customer_id;type:varchar(64);not null" json:"customer_id"`
	Code           string          `gorm:"column:code;type:varchar(64);not null" json:"code"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:numeric(20,4);not null" json:"discount_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (VoucherUsage) TableName() string {
	return "voucher_usage"
}
