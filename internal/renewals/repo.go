package renewals

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subvaulthq/subvault-backend/pkg/db/models"
)

// Repository manages persistence for renewal snapshots. Snapshots are
// append-only pre-renewal copies; nothing updates or deletes them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, snapshot *models.RenewalSnapshot) error
	ListBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]models.RenewalSnapshot, error)
	CountBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a snapshot repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, snapshot *models.RenewalSnapshot) error {
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(snapshot).Error
}

func (r *repository) ListBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]models.RenewalSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	var snapshots []models.RenewalSnapshot
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("renewed_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&snapshots).Error
	return snapshots, err
}

func (r *repository) CountBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.RenewalSnapshot{}).
		Where("subscription_id = ?", subscriptionID).
		Count(&count).Error
	return count, err
}
