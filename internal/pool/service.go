package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/subvaulthq/subvault-backend/pkg/config"
	"github.com/subvaulthq/subvault-backend/pkg/db/models"
	pkgerrors "github.com/subvaulthq/subvault-backend/pkg/errors"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
)

// Service defines operations over the credential pool.
type Service interface {
	// ClaimOne atomically selects and removes the oldest eligible entry for
	// the product. The removal and the return are the same step: no two
	// callers can ever receive the same entry.
	ClaimOne(ctx context.Context, productCode string) (*models.CredentialPoolEntry, error)
	// ClaimOneTx is ClaimOne bound to an enclosing transaction, so the claim
	// commits or rolls back together with whatever the caller writes next.
	ClaimOneTx(ctx context.Context, tx *gorm.DB, productCode string) (*models.CredentialPoolEntry, error)
	PurgeExpired(ctx context.Context) (int64, error)
	Availability(ctx context.Context, productCode string) (int64, error)
	Provision(ctx context.Context, input ProvisionInput) (int, error)
}

type service struct {
	repo Repository
	cfg  config.PoolConfig
	logg *logger.Logger
	now  func() time.Time
}

// ProvisionInput describes a bulk import of pre-provisioned credentials.
type ProvisionInput struct {
	ProductCode string            `json:"product_code"`
	Payloads    []json.RawMessage `json:"payloads"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

// NewService wires a pool service with the provided repository.
func NewService(repo Repository, cfg config.PoolConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("pool repository required")
	}
	if cfg.ClaimMaxAttempts <= 0 {
		cfg.ClaimMaxAttempts = 1
	}
	if cfg.PurgeBatchSize <= 0 {
		cfg.PurgeBatchSize = 500
	}
	return &service{repo: repo, cfg: cfg, logg: logg, now: time.Now}, nil
}

func (s *service) ClaimOne(ctx context.Context, productCode string) (*models.CredentialPoolEntry, error) {
	return s.claim(ctx, s.repo, productCode)
}

func (s *service) ClaimOneTx(ctx context.Context, tx *gorm.DB, productCode string) (*models.CredentialPoolEntry, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	return s.claim(ctx, s.repo.WithTx(tx), productCode)
}

func (s *service) claim(ctx context.Context, repo Repository, productCode string) (*models.CredentialPoolEntry, error) {
	if productCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product code is required")
	}

	// Select-then-conditional-delete: the delete only succeeds for the one
	// caller whose row still exists, so a lost race just means another pass.
	for attempt := 0; attempt < s.cfg.ClaimMaxAttempts; attempt++ {
		entry, err := repo.SelectOldest(ctx, productCode, s.now())
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeExhausted, fmt.Sprintf("no credentials available for product %q", productCode))
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "selecting pool entry")
		}

		won, err := repo.DeleteByID(ctx, entry.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claiming pool entry")
		}
		if won {
			return entry, nil
		}
		// Another claim or a purge took this entry first.
	}

	return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("claim contention exceeded %d attempts for product %q", s.cfg.ClaimMaxAttempts, productCode))
}

func (s *service) PurgeExpired(ctx context.Context) (int64, error) {
	var total int64
	for {
		removed, err := s.repo.DeleteExpired(ctx, s.now(), s.cfg.PurgeBatchSize)
		if err != nil {
			return total, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "purging expired pool entries")
		}
		total += removed
		if removed < int64(s.cfg.PurgeBatchSize) {
			break
		}
	}
	if total > 0 && s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "purged_count", total), "expired pool entries purged")
	}
	return total, nil
}

func (s *service) Availability(ctx context.Context, productCode string) (int64, error) {
	if productCode == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "product code is required")
	}
	count, err := s.repo.CountAvailable(ctx, productCode, s.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "counting pool entries")
	}
	return count, nil
}

func (s *service) Provision(ctx context.Context, input ProvisionInput) (int, error) {
	if input.ProductCode == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "product code is required")
	}
	if len(input.Payloads) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "at least one credential payload is required")
	}

	expiresAt := input.ExpiresAt
	if expiresAt == nil && s.cfg.DefaultShelfLife > 0 {
		t := s.now().Add(s.cfg.DefaultShelfLife)
		expiresAt = &t
	}

	entries := make([]models.CredentialPoolEntry, 0, len(input.Payloads))
	for _, payload := range input.Payloads {
		if len(payload) == 0 {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "credential payload must not be empty")
		}
		entries = append(entries, models.CredentialPoolEntry{
			ProductCode: input.ProductCode,
			Payload:     payload,
			ExpiresAt:   expiresAt,
		})
	}

	if err := s.repo.CreateBatch(ctx, entries); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "provisioning pool entries")
	}
	return len(entries), nil
}
