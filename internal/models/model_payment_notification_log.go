package models

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentNotificationLogStatus string

const (
	PaymentNotificationLogStatusReceived     PaymentNotificationLogStatus = "received"
	PaymentNotificationLogStatusHandled      PaymentNotificationLogStatus = "handled"
	PaymentNotificationLogStatusHandleFailed PaymentNotificationLogStatus = "handle_failed"
	// PaymentNotificationLogStatusLateConfirmation is a success callback for a payment already expired locally.
	PaymentNotificationLogStatusLateConfirmation PaymentNotificationLogStatus = "late_payment_confirmation"
)

// PaymentNotificationLog keeps every gateway callback for reconciliation.
type PaymentNotificationLog struct {
	ID               string                       `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Provider         string                       `gorm:"column:provider;type:varchar(64);not null" json:"provider"`
	EventType        string                       `gorm:"column:event_type;type:varchar(128)" json:"event_type"`
	ExternalID       string                       `gorm:"column:external_id;type:varchar(128);index" json:"external_id"`
	PaymentID        *string                      `gorm:"column:payment_id;type:varchar(64)" json:"payment_id"`
	TraceID          string                       `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	NotificationTime time.Time                    `gorm:"column:notification_time" json:"notification_time"`
	Data             datatypes.JSON               `gorm:"column:data;type:jsonb" json:"data"`
	Result           *datatypes.JSON              `gorm:"column:result;type:jsonb" json:"result"`
	Status           PaymentNotificationLogStatus `gorm:"column:status;type:varchar(64);not null" json:"status"`
	CreatedAt        time.Time                    `json:"created_at"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}

func (PaymentNotificationLog) TableName() string { return "payment_notification_log" }
