package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/subvaulthq/subvault-backend/pkg/enums"
)

// Notification stores outbound customer/operator message payloads.
type Notification struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	SubscriptionID *uuid.UUID             `gorm:"column:subscription_id;type:uuid;index"`
	Type           enums.NotificationType `gorm:"column:type;type:text;not null"`
	Recipient      string                 `gorm:"column:recipient;type:text;not null"`
	Title          string                 `gorm:"column:title;type:text;not null"`
	Message        string                 `gorm:"column:message;type:text;not null"`
	SentAt         *time.Time             `gorm:"column:sent_at"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (Notification) TableName() string {
	return "notifications"
}
