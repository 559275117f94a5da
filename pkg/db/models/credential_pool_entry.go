package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CredentialPoolEntry is an unassigned, provisioned access credential. A row
// exists here only while the credential has never been claimed; claiming
// deletes it in the same statement that returns it.
type CredentialPoolEntry struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ProductCode string          `gorm:"column:product_code;type:text;not null;index:idx_pool_product_created,priority:1"`
	Payload     json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime;index:idx_pool_product_created,priority:2"`
	ExpiresAt   *time.Time      `gorm:"column:expires_at;index"`
}

func (CredentialPoolEntry) TableName() string {
	return "credential_pool_entries"
}
