package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AllocationRecord is immutable proof that an order received a credential.
// The unique index on order_id is the store-level idempotency guarantee: a
// race between two first-time allocations for the same order produces one
// winner and one unique violation, never two claimed credentials.
type AllocationRecord struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         string          `gorm:"column:order_id;type:text;not null;uniqueIndex:idx_allocation_order"`
	PayloadSnapshot json.RawMessage `gorm:"column:payload_snapshot;type:jsonb;not null"`
	AssignedBy      string          `gorm:"column:assigned_by;type:text;not null"`
	AssignedAt      time.Time       `gorm:"column:assigned_at;autoCreateTime"`
}

func (AllocationRecord) TableName() string {
	return "allocation_records"
}
