package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subvaulthq/subvault-backend/pkg/db/models"
	"github.com/subvaulthq/subvault-backend/pkg/pagination"
)

// RenewalUpdate carries the in-place mutation a renewal applies to a
// subscription row.
type RenewalUpdate struct {
	StartDate      time.Time
	ExpirationDate time.Time
	DurationLabel  string
}

// Repository manages persistence for active subscriptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	GetByOrderID(ctx context.Context, orderID string) (*models.Subscription, error)
	List(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.Subscription, error)
	// ApplyRenewal mutates the row only when its expiration_date and
	// renewal_count still match the values the caller read. A false return
	// means another renewal committed in between; the caller re-reads and
	// recomputes rather than overwriting the concurrent extension.
	ApplyRenewal(ctx context.Context, id uuid.UUID, priorExpiration time.Time, priorRenewalCount int, update RenewalUpdate) (bool, error)
	ListExpiringBefore(ctx context.Context, now, deadline time.Time, limit int) ([]models.Subscription, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) GetByOrderID(ctx context.Context, orderID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) List(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.Subscription, error) {
	query := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit)
	if cursor != nil {
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}
	var subs []models.Subscription
	err := query.Find(&subs).Error
	return subs, err
}

func (r *repository) ApplyRenewal(ctx context.Context, id uuid.UUID, priorExpiration time.Time, priorRenewalCount int, update RenewalUpdate) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Where("expiration_date = ?", priorExpiration).
		Where("renewal_count = ?", priorRenewalCount).
		Updates(map[string]any{
			"start_date":      update.StartDate,
			"expiration_date": update.ExpirationDate,
			"duration_label":  update.DurationLabel,
			"renewal_count":   gorm.Expr("renewal_count + 1"),
			"is_renewed":      true,
			"reminder_sent":   false,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListExpiringBefore(ctx context.Context, now, deadline time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("expiration_date <= ?", deadline).
		Where("expiration_date > ?", now).
		Where("reminder_sent = ?", false).
		Order("expiration_date ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *repository) MarkReminderSent(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Update("reminder_sent", true).Error
}
