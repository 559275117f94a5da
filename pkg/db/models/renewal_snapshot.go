package models

import (
	"time"

	"github.com/google/uuid"
)

// RenewalSnapshot is an immutable copy of a subscription's fields taken the
// instant before a renewal mutates the row. SubscriptionID is a lookup key,
// not an ownership relation; one snapshot is written per renewal.
type RenewalSnapshot struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SubscriptionID uuid.UUID `gorm:"column:subscription_id;type:uuid;not null;index:idx_snapshot_subscription"`
	OrderID        *string   `gorm:"column:order_id;type:text"`
	CustomerName   string    `gorm:"column:customer_name;type:text;not null"`
	CustomerEmail  string    `gorm:"column:customer_email;type:text;not null"`
	CustomerPhone  *string   `gorm:"column:customer_phone;type:text"`
	Code           string    `gorm:"column:code;type:text;not null"`
	DurationLabel  string    `gorm:"column:duration_label;type:text;not null"`
	StartDate      time.Time `gorm:"column:start_date;not null"`
	ExpirationDate time.Time `gorm:"column:expiration_date;not null"`
	RenewalCount   int       `gorm:"column:renewal_count;not null"`
	IsRenewed      bool      `gorm:"column:is_renewed;not null"`
	ReminderSent   bool      `gorm:"column:reminder_sent;not null"`
	RenewedAt      time.Time `gorm:"column:renewed_at;autoCreateTime;index:idx_snapshot_renewed_at"`
}

func (RenewalSnapshot) TableName() string {
	return "renewal_snapshots"
}
