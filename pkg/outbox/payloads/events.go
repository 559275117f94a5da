package payloads

import (
	"time"

	"github.com/google/uuid"
)

// AllocationCompletedEvent is emitted once an order has a credential assigned
// and an active subscription created.
type AllocationCompletedEvent struct {
	OrderID        string    `json:"order_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	ProductCode    string    `json:"product_code"`
	CustomerEmail  string    `json:"customer_email"`
	Code           string    `json:"code"`
	DurationLabel  string    `json:"duration_label"`
	StartDate      time.Time `json:"start_date"`
	ExpirationDate time.Time `json:"expiration_date"`
}

// AllocationIncompleteEvent alerts operators that a credential was consumed
// without completing issuance. Never retried automatically.
type AllocationIncompleteEvent struct {
	OrderID     string    `json:"order_id"`
	ProductCode string    `json:"product_code"`
	FailedAt    time.Time `json:"failed_at"`
	Reason      string    `json:"reason"`
}

// SubscriptionRenewedEvent is emitted after a successful renewal commits.
type SubscriptionRenewedEvent struct {
	SubscriptionID    uuid.UUID `json:"subscription_id"`
	CustomerEmail     string    `json:"customer_email"`
	DurationLabel     string    `json:"duration_label"`
	PriorExpiration   time.Time `json:"prior_expiration"`
	NewStartDate      time.Time `json:"new_start_date"`
	NewExpirationDate time.Time `json:"new_expiration_date"`
	RenewalCount      int       `json:"renewal_count"`
}

// RenewalReminderDueEvent asks downstream delivery to nudge a customer whose
// subscription expires soon.
type RenewalReminderDueEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	CustomerEmail  string    `json:"customer_email"`
	ExpirationDate time.Time `json:"expiration_date"`
	DaysRemaining  int       `json:"days_remaining"`
}

// PoolEntriesPurgedEvent reports a garbage-collection sweep of expired,
// never-claimed pool entries.
type PoolEntriesPurgedEvent struct {
	PurgedCount int       `json:"purged_count"`
	PurgedAt    time.Time `json:"purged_at"`
}
