package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/subvaulthq/subvault-backend/pkg/enums"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
	"github.com/subvaulthq/subvault-backend/pkg/metrics"
	"github.com/subvaulthq/subvault-backend/pkg/outbox"
	"github.com/subvaulthq/subvault-backend/pkg/outbox/payloads"
)

// PoolPurgeJobParams configure the expired credential sweep.
type PoolPurgeJobParams struct {
	Logger  *logger.Logger
	DB      txRunner
	Pool    poolMaintainer
	Depth   poolDepthReader
	Outbox  outboxEmitter
	Metrics *metrics.EngineMetrics
}

type poolMaintainer interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type poolDepthReader interface {
	ProductCodes(ctx context.Context) ([]string, error)
	CountAvailable(ctx context.Context, productCode string, now time.Time) (int64, error)
}

// NewPoolPurgeJob builds the cron job that discards expired, never-claimed
// pool entries and refreshes the depth gauge.
func NewPoolPurgeJob(params PoolPurgeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Pool == nil {
		return nil, fmt.Errorf("pool service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &poolPurgeJob{
		logg:    params.Logger,
		db:      params.DB,
		pool:    params.Pool,
		depth:   params.Depth,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		now:     time.Now,
	}, nil
}

type poolPurgeJob struct {
	logg    *logger.Logger
	db      txRunner
	pool    poolMaintainer
	depth   poolDepthReader
	outbox  outboxEmitter
	metrics *metrics.EngineMetrics
	now     func() time.Time
}

func (j *poolPurgeJob) Name() string { return "pool-purge" }

func (j *poolPurgeJob) Run(ctx context.Context) error {
	purged, err := j.pool.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purge expired pool entries: %w", err)
	}

	if purged > 0 {
		now := j.now().UTC()
		err = j.db.WithTx(ctx, func(tx *gorm.DB) error {
			return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPoolEntriesPurged,
				AggregateType: enums.AggregateNotification,
				AggregateID:   j.Name(),
				Version:       1,
				OccurredAt:    now,
				Data: payloads.PoolEntriesPurgedEvent{
					PurgedCount: int(purged),
					PurgedAt:    now,
				},
			})
		})
		if err != nil {
			return fmt.Errorf("emit purge event: %w", err)
		}
	}

	if err := j.refreshDepthGauge(ctx); err != nil {
		return err
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"purged_count": purged})
	j.logg.Info(logCtx, "pool purge complete")
	return nil
}

func (j *poolPurgeJob) refreshDepthGauge(ctx context.Context) error {
	if j.depth == nil || j.metrics == nil {
		return nil
	}
	codes, err := j.depth.ProductCodes(ctx)
	if err != nil {
		return fmt.Errorf("list pool products: %w", err)
	}
	now := j.now()
	for _, code := range codes {
		count, err := j.depth.CountAvailable(ctx, code, now)
		if err != nil {
			return fmt.Errorf("count pool entries for %s: %w", code, err)
		}
		j.metrics.SetPoolDepth(code, count)
	}
	return nil
}
