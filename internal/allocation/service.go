package allocation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/subvaulthq/subvault-backend/internal/duration"
	"github.com/subvaulthq/subvault-backend/internal/ledger"
	"github.com/subvaulthq/subvault-backend/internal/pool"
	"github.com/subvaulthq/subvault-backend/internal/subscriptions"
	"github.com/subvaulthq/subvault-backend/pkg/db"
	"github.com/subvaulthq/subvault-backend/pkg/db/models"
	"github.com/subvaulthq/subvault-backend/pkg/enums"
	pkgerrors "github.com/subvaulthq/subvault-backend/pkg/errors"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
	"github.com/subvaulthq/subvault-backend/pkg/outbox"
	"github.com/subvaulthq/subvault-backend/pkg/outbox/payloads"
)

// Service implements the exactly-once "give this order a credential"
// operation.
type Service interface {
	AllocateForOrder(ctx context.Context, input AllocateInput) (*models.Subscription, error)
}

// AllocateInput is supplied by the payment confirmation collaborator once it
// has independently verified payment. OrderID must be stable across retries.
type AllocateInput struct {
	OrderID       string  `json:"order_id"`
	ProductCode   string  `json:"product_code"`
	DurationLabel string  `json:"duration_label"`
	CustomerName  string  `json:"customer_name"`
	CustomerEmail string  `json:"customer_email"`
	CustomerPhone *string `json:"customer_phone,omitempty"`
	Actor         string  `json:"actor,omitempty"`
}

type service struct {
	client *db.Client
	pool   pool.Service
	ledger ledger.Service
	subs   subscriptions.Repository
	events *outbox.Service
	logg   *logger.Logger
	now    func() time.Time
}

// NewService wires the allocation service with its collaborators.
func NewService(client *db.Client, poolSvc pool.Service, ledgerSvc ledger.Service, subs subscriptions.Repository, events *outbox.Service, logg *logger.Logger) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if poolSvc == nil {
		return nil, fmt.Errorf("pool service required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if subs == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	return &service{
		client: client,
		pool:   poolSvc,
		ledger: ledgerSvc,
		subs:   subs,
		events: events,
		logg:   logg,
		now:    time.Now,
	}, nil
}

func (s *service) AllocateForOrder(ctx context.Context, input AllocateInput) (*models.Subscription, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	// Resolve the duration before touching the pool: a bad label must never
	// consume a credential.
	days, err := duration.ToDays(input.DurationLabel)
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		ctx = s.logg.WithOrderID(ctx, input.OrderID)
	}

	// Idempotency check: an existing ledger record means this order already
	// consumed a credential. Never claim a second one.
	if sub, err := s.resolveExisting(ctx, input.OrderID); err != nil || sub != nil {
		return sub, err
	}

	// Claim and ledger write share one transaction: losing the order_id
	// uniqueness race rolls the claim back, returning the entry to the pool.
	var claimed *models.CredentialPoolEntry
	txErr := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		entry, cerr := s.pool.ClaimOneTx(ctx, tx, input.ProductCode)
		if cerr != nil {
			return cerr
		}
		claimed = entry
		_, rerr := s.ledger.RecordTx(ctx, tx, ledger.RecordInput{
			OrderID:         input.OrderID,
			PayloadSnapshot: entry.Payload,
			AssignedBy:      input.Actor,
		})
		return rerr
	})
	if txErr != nil {
		if pkgerrors.HasCode(txErr, pkgerrors.CodeConflict) {
			// A concurrent first-time allocation for the same order won the
			// unique index; our claim rolled back. Serve the winner's result.
			if sub, rerr := s.resolveExisting(ctx, input.OrderID); rerr != nil || sub != nil {
				return sub, rerr
			}
			return nil, partialFailure(input.OrderID, txErr)
		}
		if typed := pkgerrors.As(txErr); typed != nil {
			return nil, txErr
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, txErr, "claiming credential")
	}

	// The credential is now consumed. A failure past this point leaves the
	// ledger record without a subscription; that state is surfaced as a
	// partial failure for operator reconciliation, never retried blindly.
	start := s.now().UTC()
	sub := &models.Subscription{
		OrderID:        &input.OrderID,
		CustomerName:   input.CustomerName,
		CustomerEmail:  input.CustomerEmail,
		CustomerPhone:  input.CustomerPhone,
		Code:           codeFromPayload(claimed.Payload),
		DurationLabel:  input.DurationLabel,
		StartDate:      start,
		ExpirationDate: start.AddDate(0, 0, days),
	}

	txErr = s.client.WithTx(ctx, func(tx *gorm.DB) error {
		if cerr := s.subs.WithTx(tx).Create(ctx, sub); cerr != nil {
			return cerr
		}
		if s.events != nil {
			return s.events.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventAllocationCompleted,
				AggregateType: enums.AggregateOrder,
				AggregateID:   input.OrderID,
				Actor:         actorRef(input.Actor),
				Data: payloads.AllocationCompletedEvent{
					OrderID:        input.OrderID,
					SubscriptionID: sub.ID,
					ProductCode:    input.ProductCode,
					CustomerEmail:  sub.CustomerEmail,
					Code:           sub.Code,
					DurationLabel:  sub.DurationLabel,
					StartDate:      sub.StartDate,
					ExpirationDate: sub.ExpirationDate,
				},
				Version: 1,
			})
		}
		return nil
	})
	if txErr != nil {
		s.reportPartialFailure(ctx, input, txErr)
		return nil, partialFailure(input.OrderID, txErr)
	}

	if s.logg != nil {
		logCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())
		s.logg.Info(logCtx, "credential allocated")
	}
	return sub, nil
}

// resolveExisting returns the subscription already tied to the order's
// allocation, a partial-failure error when the allocation exists without a
// subscription, or (nil, nil) when the order has never been allocated.
func (s *service) resolveExisting(ctx context.Context, orderID string) (*models.Subscription, error) {
	record, err := s.ledger.Lookup(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	sub, err := s.subs.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading subscription for allocated order")
	}
	if sub == nil {
		return nil, partialFailure(orderID, nil)
	}

	if s.logg != nil {
		s.logg.Info(ctx, "allocation replayed idempotently")
	}
	return sub, nil
}

func (s *service) reportPartialFailure(ctx context.Context, input AllocateInput, cause error) {
	if s.logg != nil {
		s.logg.Error(ctx, "allocation incomplete after credential claim", cause)
	}
	if s.events == nil {
		return
	}
	// Best-effort operator alert in its own transaction; the claim has
	// already committed and must stay visible either way.
	_ = s.client.WithTx(ctx, func(tx *gorm.DB) error {
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAllocationIncomplete,
			AggregateType: enums.AggregateOrder,
			AggregateID:   input.OrderID,
			Actor:         actorRef(input.Actor),
			Data: payloads.AllocationIncompleteEvent{
				OrderID:     input.OrderID,
				ProductCode: input.ProductCode,
				FailedAt:    s.now().UTC(),
				Reason:      cause.Error(),
			},
			Version: 1,
		})
	})
}

func validateInput(input AllocateInput) error {
	if input.OrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if input.ProductCode == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product code is required")
	}
	if input.CustomerName == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer name is required")
	}
	if input.CustomerEmail == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}
	return nil
}

func partialFailure(orderID string, cause error) error {
	msg := fmt.Sprintf("order %q consumed a credential but has no subscription; manual re-issue required", orderID)
	if cause == nil {
		return pkgerrors.New(pkgerrors.CodePartialFailure, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodePartialFailure, cause, msg)
}

// credentialPayload is the subset of the opaque payload the engine reads. The
// snapshot in the ledger keeps the full document.
type credentialPayload struct {
	Code  string `json:"code"`
	Login string `json:"login"`
}

func codeFromPayload(raw json.RawMessage) string {
	var payload credentialPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	if payload.Code != "" {
		return payload.Code
	}
	return payload.Login
}

func actorRef(actor string) *outbox.ActorRef {
	if actor == "" {
		return &outbox.ActorRef{Identity: ledger.AssignedBySystem}
	}
	return &outbox.ActorRef{Identity: actor, Role: "operator"}
}
