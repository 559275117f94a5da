package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subvaulthq/subvault-backend/pkg/db/models"
)

// Repository manages persistence for allocation records. Records are
// append-only: there is no update or delete surface.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.AllocationRecord) error
	FindByOrderID(ctx context.Context, orderID string) (*models.AllocationRecord, error)
	List(ctx context.Context, limit int) ([]models.AllocationRecord, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.AllocationRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByOrderID(ctx context.Context, orderID string) (*models.AllocationRecord, error) {
	var record models.AllocationRecord
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) List(ctx context.Context, limit int) ([]models.AllocationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.AllocationRecord
	err := r.db.WithContext(ctx).
		Order("assigned_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
