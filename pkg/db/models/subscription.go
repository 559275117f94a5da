package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is the customer-facing entitlement derived from an allocation.
// Renewals mutate the row in place; the id never changes and the row is never
// deleted, expired subscriptions remain as historical records. OrderID is nil
// for entitlements issued out-of-band by an operator.
type Subscription struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        *string   `gorm:"column:order_id;type:text;uniqueIndex:idx_subscription_order"`
	CustomerName   string    `gorm:"column:customer_name;type:text;not null"`
	CustomerEmail  string    `gorm:"column:customer_email;type:text;not null;index"`
	CustomerPhone  *string   `gorm:"column:customer_phone;type:text"`
	Code           string    `gorm:"column:code;type:text;not null"`
	DurationLabel  string    `gorm:"column:duration_label;type:text;not null"`
	StartDate      time.Time `gorm:"column:start_date;not null"`
	ExpirationDate time.Time `gorm:"column:expiration_date;not null;index"`
	RenewalCount   int       `gorm:"column:renewal_count;not null;default:0"`
	IsRenewed      bool      `gorm:"column:is_renewed;not null;default:false"`
	ReminderSent   bool      `gorm:"column:reminder_sent;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}
