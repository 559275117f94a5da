package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/subvaulthq/subvault-backend/pkg/db/models"
	"github.com/subvaulthq/subvault-backend/pkg/enums"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
	"github.com/subvaulthq/subvault-backend/pkg/outbox"
	"github.com/subvaulthq/subvault-backend/pkg/outbox/idempotency"
	"github.com/subvaulthq/subvault-backend/pkg/outbox/payloads"
)

const subscriptionNotificationConsumer = "subscription-notifications"

type repository interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// Consumer watches domain events and turns them into outbound customer and
// operator notifications.
type Consumer struct {
	repo         repository
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds a subscription notification consumer.
func NewConsumer(repo repository, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	handler, ok := handlerFor(eventType)
	if !ok {
		c.logg.Info(logCtx, "skipping unhandled event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, subscriptionNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := handler(c, ctx, envelope.Data, logCtx); err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.idempotency.Delete(ctx, subscriptionNotificationConsumer, eventID)
		return processResult{nack: true}
	}

	return processResult{ack: true}
}

type eventHandler func(c *Consumer, ctx context.Context, data json.RawMessage, logCtx context.Context) error

func handlerFor(eventType string) (eventHandler, bool) {
	switch eventType {
	case string(enums.EventAllocationCompleted):
		return (*Consumer).handleAllocationCompleted, true
	case string(enums.EventSubscriptionRenewed):
		return (*Consumer).handleSubscriptionRenewed, true
	case string(enums.EventRenewalReminderDue):
		return (*Consumer).handleRenewalReminderDue, true
	case string(enums.EventAllocationIncomplete):
		return (*Consumer).handleAllocationIncomplete, true
	default:
		return nil, false
	}
}

func (c *Consumer) handleAllocationCompleted(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload payloads.AllocationCompletedEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse allocation payload: %w", err)
	}
	if payload.CustomerEmail == "" {
		return fmt.Errorf("customer email missing")
	}
	notification := &models.Notification{
		SubscriptionID: uuidPtr(payload.SubscriptionID),
		Type:           enums.NotificationTypeCredentialDelivery,
		Recipient:      payload.CustomerEmail,
		Title:          "Your subscription is ready",
		Message: fmt.Sprintf(
			"Your access code %s for order %s is active until %s.",
			payload.Code, payload.OrderID, payload.ExpirationDate.Format("2006-01-02"),
		),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}
	c.logg.Info(logCtx, "credential delivery queued")
	return nil
}

func (c *Consumer) handleSubscriptionRenewed(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload payloads.SubscriptionRenewedEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse renewal payload: %w", err)
	}
	if payload.CustomerEmail == "" {
		return fmt.Errorf("customer email missing")
	}
	notification := &models.Notification{
		SubscriptionID: uuidPtr(payload.SubscriptionID),
		Type:           enums.NotificationTypeRenewalConfirmation,
		Recipient:      payload.CustomerEmail,
		Title:          "Subscription renewed",
		Message: fmt.Sprintf(
			"Your subscription was extended and now runs until %s.",
			payload.NewExpirationDate.Format("2006-01-02"),
		),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}
	c.logg.Info(logCtx, "renewal confirmation queued")
	return nil
}

func (c *Consumer) handleRenewalReminderDue(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload payloads.RenewalReminderDueEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse reminder payload: %w", err)
	}
	if payload.CustomerEmail == "" {
		return fmt.Errorf("customer email missing")
	}
	notification := &models.Notification{
		SubscriptionID: uuidPtr(payload.SubscriptionID),
		Type:           enums.NotificationTypeRenewalReminder,
		Recipient:      payload.CustomerEmail,
		Title:          "Your subscription expires soon",
		Message: fmt.Sprintf(
			"Your subscription expires on %s. Renew to keep your access.",
			payload.ExpirationDate.Format("2006-01-02"),
		),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}
	c.logg.Info(logCtx, "renewal reminder queued")
	return nil
}

func (c *Consumer) handleAllocationIncomplete(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload payloads.AllocationIncompleteEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse incomplete allocation payload: %w", err)
	}
	notification := &models.Notification{
		Type:      enums.NotificationTypeOperatorAlert,
		Recipient: "operators",
		Title:     "Allocation incomplete",
		Message: fmt.Sprintf(
			"Order %s consumed a credential for %s but has no subscription: %s",
			payload.OrderID, payload.ProductCode, payload.Reason,
		),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}
	c.logg.Info(logCtx, "operator alert queued")
	return nil
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
