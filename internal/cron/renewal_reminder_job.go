package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/subvaulthq/subvault-backend/internal/subscriptions"
	"github.com/subvaulthq/subvault-backend/pkg/db/models"
	"github.com/subvaulthq/subvault-backend/pkg/enums"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
	"github.com/subvaulthq/subvault-backend/pkg/outbox"
	"github.com/subvaulthq/subvault-backend/pkg/outbox/payloads"
)

const (
	defaultReminderLeadDays = 7
	reminderBatchSize       = 200
)

// RenewalReminderJobParams configure the expiring subscription sweep.
type RenewalReminderJobParams struct {
	Logger   *logger.Logger
	DB       txRunner
	Subs     subscriptions.Repository
	Outbox   outboxEmitter
	LeadDays int
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// NewRenewalReminderJob builds the cron job that flags soon-to-expire
// subscriptions and queues reminder events for them.
func NewRenewalReminderJob(params RenewalReminderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Subs == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	leadDays := params.LeadDays
	if leadDays <= 0 {
		leadDays = defaultReminderLeadDays
	}
	return &renewalReminderJob{
		logg:     params.Logger,
		db:       params.DB,
		subs:     params.Subs,
		outbox:   params.Outbox,
		leadDays: leadDays,
		now:      time.Now,
	}, nil
}

type renewalReminderJob struct {
	logg     *logger.Logger
	db       txRunner
	subs     subscriptions.Repository
	outbox   outboxEmitter
	leadDays int
	now      func() time.Time
}

func (j *renewalReminderJob) Name() string { return "renewal-reminder" }

func (j *renewalReminderJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	deadline := now.Add(time.Duration(j.leadDays) * 24 * time.Hour)

	due, err := j.subs.ListExpiringBefore(ctx, now, deadline, reminderBatchSize)
	if err != nil {
		return fmt.Errorf("query expiring subscriptions: %w", err)
	}

	var errs []error
	reminded := 0
	for _, sub := range due {
		if err := j.remind(ctx, sub, now); err != nil {
			errs = append(errs, fmt.Errorf("remind subscription %s: %w", sub.ID, err))
			continue
		}
		reminded++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"due_count":      len(due),
		"reminded_count": reminded,
		"lead_days":      j.leadDays,
	})
	j.logg.Info(logCtx, "renewal reminder loop complete")
	return multierr.Combine(errs...)
}

// remind flips the reminder flag and queues the event in one transaction so a
// crash never leaves a flagged subscription without its reminder.
func (j *renewalReminderJob) remind(ctx context.Context, sub models.Subscription, now time.Time) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := j.subs.WithTx(tx).MarkReminderSent(ctx, sub.ID); err != nil {
			return err
		}
		return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRenewalReminderDue,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID.String(),
			Version:       1,
			OccurredAt:    now,
			Data: payloads.RenewalReminderDueEvent{
				SubscriptionID: sub.ID,
				CustomerEmail:  sub.CustomerEmail,
				ExpirationDate: sub.ExpirationDate,
				DaysRemaining:  daysUntil(now, sub.ExpirationDate),
			},
		})
	})
}

func daysUntil(now, expiration time.Time) int {
	days := int(expiration.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
