package pool

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subvaulthq/subvault-backend/pkg/db/models"
)

// Repository manages persistence for credential pool entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.CredentialPoolEntry) error
	CreateBatch(ctx context.Context, entries []models.CredentialPoolEntry) error
	// SelectOldest returns the oldest non-expired entry for the product, or
	// gorm.ErrRecordNotFound when none exists.
	SelectOldest(ctx context.Context, productCode string, now time.Time) (*models.CredentialPoolEntry, error)
	// DeleteByID removes the entry and reports whether this caller won the
	// delete. A racing claim or purge that removed the row first yields false.
	DeleteByID(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error)
	CountAvailable(ctx context.Context, productCode string, now time.Time) (int64, error)
	ProductCodes(ctx context.Context) ([]string, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a pool repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.CredentialPoolEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) CreateBatch(ctx context.Context, entries []models.CredentialPoolEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for i := range entries {
		if entries[i].ID == uuid.Nil {
			entries[i].ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *repository) SelectOldest(ctx context.Context, productCode string, now time.Time) (*models.CredentialPoolEntry, error) {
	var entry models.CredentialPoolEntry
	err := r.db.WithContext(ctx).
		Where("product_code = ?", productCode).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("created_at ASC").
		Order("id ASC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.CredentialPoolEntry{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, errors.New("purge limit must be positive")
	}
	// Subquery keeps the delete bounded so a huge backlog cannot hold locks
	// for the full sweep.
	sub := r.db.WithContext(ctx).
		Model(&models.CredentialPoolEntry{}).
		Select("id").
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Limit(limit)
	res := r.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Delete(&models.CredentialPoolEntry{})
	return res.RowsAffected, res.Error
}

func (r *repository) CountAvailable(ctx context.Context, productCode string, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CredentialPoolEntry{}).
		Where("product_code = ?", productCode).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Count(&count).Error
	return count, err
}

func (r *repository) ProductCodes(ctx context.Context) ([]string, error) {
	var codes []string
	err := r.db.WithContext(ctx).
		Model(&models.CredentialPoolEntry{}).
		Distinct("product_code").
		Order("product_code ASC").
		Pluck("product_code", &codes).Error
	return codes, err
}
