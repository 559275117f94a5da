package renewals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subvaulthq/subvault-backend/internal/duration"
	"github.com/subvaulthq/subvault-backend/internal/subscriptions"
	"github.com/subvaulthq/subvault-backend/pkg/config"
	"github.com/subvaulthq/subvault-backend/pkg/db"
	"github.com/subvaulthq/subvault-backend/pkg/db/models"
	"github.com/subvaulthq/subvault-backend/pkg/enums"
	pkgerrors "github.com/subvaulthq/subvault-backend/pkg/errors"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
	"github.com/subvaulthq/subvault-backend/pkg/outbox"
	"github.com/subvaulthq/subvault-backend/pkg/outbox/payloads"
)

// Service extends an existing subscription's validity window without creating
// a new identity.
type Service interface {
	Renew(ctx context.Context, subscriptionID uuid.UUID, opts RenewOptions) (*models.Subscription, error)
	History(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]models.RenewalSnapshot, error)
}

// RenewOptions selects how the new expiration is computed. At most one of
// ExplicitNewExpiration and DurationLabel may be set; with neither set the
// subscription's current duration label is reused.
type RenewOptions struct {
	ExplicitNewExpiration *time.Time `json:"explicit_new_expiration,omitempty"`
	DurationLabel         *string    `json:"duration_label,omitempty"`
	Actor                 string     `json:"actor,omitempty"`
}

type service struct {
	client    *db.Client
	subs      subscriptions.Repository
	snapshots Repository
	events    *outbox.Service
	cfg       config.RenewalConfig
	logg      *logger.Logger
	now       func() time.Time
}

// NewService wires a renewal service with its stores.
func NewService(client *db.Client, subs subscriptions.Repository, snapshots Repository, events *outbox.Service, cfg config.RenewalConfig, logg *logger.Logger) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if subs == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if snapshots == nil {
		return nil, fmt.Errorf("snapshot repository required")
	}
	if cfg.UpdateAttempts <= 0 {
		cfg.UpdateAttempts = 1
	}
	return &service{
		client:    client,
		subs:      subs,
		snapshots: snapshots,
		events:    events,
		cfg:       cfg,
		logg:      logg,
		now:       time.Now,
	}, nil
}

func (s *service) Renew(ctx context.Context, subscriptionID uuid.UUID, opts RenewOptions) (*models.Subscription, error) {
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	if opts.ExplicitNewExpiration != nil && opts.DurationLabel != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "explicit expiration and duration label are mutually exclusive")
	}

	// Guarded-update loop: each pass re-reads the row and recomputes the new
	// window from whatever expiration it read, so two racing renewals always
	// produce two sequential extensions, never two computed from one base.
	for attempt := 0; attempt < s.cfg.UpdateAttempts; attempt++ {
		current, err := s.subs.GetByID(ctx, subscriptionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading subscription")
		}
		if current == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("subscription %s not found", subscriptionID))
		}

		label := current.DurationLabel
		if opts.DurationLabel != nil {
			label = *opts.DurationLabel
		}

		// The new period begins exactly where the old one ends: renewing
		// early never shortens paid time, renewing late never extends it.
		newStart := current.ExpirationDate
		var newExpiration time.Time
		if opts.ExplicitNewExpiration != nil {
			newExpiration = *opts.ExplicitNewExpiration
		} else {
			days, derr := duration.ToDays(label)
			if derr != nil {
				return nil, derr
			}
			newExpiration = newStart.AddDate(0, 0, days)
		}

		if !newExpiration.After(current.ExpirationDate) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "new expiration must be after the current expiration")
		}

		applied := false
		err = s.client.WithTx(ctx, func(tx *gorm.DB) error {
			snapshot := snapshotOf(current, s.now())
			if serr := s.snapshots.WithTx(tx).Create(ctx, snapshot); serr != nil {
				return serr
			}

			ok, uerr := s.subs.WithTx(tx).ApplyRenewal(ctx, current.ID, current.ExpirationDate, current.RenewalCount, subscriptions.RenewalUpdate{
				StartDate:      newStart,
				ExpirationDate: newExpiration,
				DurationLabel:  label,
			})
			if uerr != nil {
				return uerr
			}
			if !ok {
				// Lost the race: roll back (discarding the snapshot) and
				// recompute from the fresh row.
				return errStaleRenewal
			}
			applied = true

			if s.events != nil {
				return s.events.Emit(ctx, tx, outbox.DomainEvent{
					EventType:     enums.EventSubscriptionRenewed,
					AggregateType: enums.AggregateSubscription,
					AggregateID:   current.ID.String(),
					Actor:         actorRef(opts.Actor),
					Data: payloads.SubscriptionRenewedEvent{
						SubscriptionID:    current.ID,
						CustomerEmail:     current.CustomerEmail,
						DurationLabel:     label,
						PriorExpiration:   current.ExpirationDate,
						NewStartDate:      newStart,
						NewExpirationDate: newExpiration,
						RenewalCount:      current.RenewalCount + 1,
					},
					Version: 1,
				})
			}
			return nil
		})
		if err != nil {
			if err == errStaleRenewal {
				continue
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "committing renewal")
		}
		if !applied {
			continue
		}

		renewed := *current
		renewed.StartDate = newStart
		renewed.ExpirationDate = newExpiration
		renewed.DurationLabel = label
		renewed.RenewalCount = current.RenewalCount + 1
		renewed.IsRenewed = true
		renewed.ReminderSent = false

		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"subscription_id": renewed.ID.String(),
				"renewal_count":   renewed.RenewalCount,
				"expiration_date": renewed.ExpirationDate,
			})
			s.logg.Info(logCtx, "subscription renewed")
		}
		return &renewed, nil
	}

	return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("renewal contention exceeded %d attempts for subscription %s", s.cfg.UpdateAttempts, subscriptionID))
}

func (s *service) History(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]models.RenewalSnapshot, error) {
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	snapshots, err := s.snapshots.ListBySubscriptionID(ctx, subscriptionID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing renewal snapshots")
	}
	return snapshots, nil
}

var errStaleRenewal = fmt.Errorf("stale renewal base")

func snapshotOf(sub *models.Subscription, renewedAt time.Time) *models.RenewalSnapshot {
	return &models.RenewalSnapshot{
		SubscriptionID: sub.ID,
		OrderID:        sub.OrderID,
		CustomerName:   sub.CustomerName,
		CustomerEmail:  sub.CustomerEmail,
		CustomerPhone:  sub.CustomerPhone,
		Code:           sub.Code,
		DurationLabel:  sub.DurationLabel,
		StartDate:      sub.StartDate,
		ExpirationDate: sub.ExpirationDate,
		RenewalCount:   sub.RenewalCount,
		IsRenewed:      sub.IsRenewed,
		ReminderSent:   sub.ReminderSent,
		RenewedAt:      renewedAt,
	}
}

func actorRef(actor string) *outbox.ActorRef {
	if actor == "" {
		return &outbox.ActorRef{Identity: "system"}
	}
	return &outbox.ActorRef{Identity: actor, Role: "operator"}
}
