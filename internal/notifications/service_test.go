package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/subvaulthq/subvault-backend/pkg/db/models"
	"github.com/subvaulthq/subvault-backend/pkg/enums"
	pkgerrors "github.com/subvaulthq/subvault-backend/pkg/errors"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
	"github.com/subvaulthq/subvault-backend/pkg/outbox/payloads"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:notifications_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Notification{}); err != nil {
		t.Fatalf("migrate notifications: %v", err)
	}
	return db
}

func seedNotification(t *testing.T, db *gorm.DB, subscriptionID *uuid.UUID, createdAt time.Time) models.Notification {
	t.Helper()
	notification := models.Notification{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		Type:           enums.NotificationTypeRenewalReminder,
		Recipient:      "dana@example.com",
		Title:          "Your subscription expires soon",
		Message:        "Renew to keep your access.",
		CreatedAt:      createdAt,
	}
	if err := db.Create(&notification).Error; err != nil {
		t.Fatalf("seed notification: %v", err)
	}
	return notification
}

func TestServiceListFiltersBySubscription(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, err := NewService(NewRepository(db))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	subID := uuid.New()
	otherID := uuid.New()
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	seedNotification(t, db, &subID, base)
	seedNotification(t, db, &subID, base.Add(time.Minute))
	seedNotification(t, db, &otherID, base.Add(2*time.Minute))

	result, err := svc.List(ctx, ListParams{SubscriptionID: &subID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(result.Items))
	}
	for _, item := range result.Items {
		if item.SubscriptionID == nil || *item.SubscriptionID != subID {
			t.Fatalf("unexpected subscription id on %s", item.ID)
		}
	}
}

func TestServiceListPaginates(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, err := NewService(NewRepository(db))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		seedNotification(t, db, nil, base.Add(time.Duration(i)*time.Minute))
	}

	first, err := svc.List(ctx, ListParams{Limit: 3})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(first.Items) != 3 || first.Cursor == "" {
		t.Fatalf("expected full first page with cursor, got %d items", len(first.Items))
	}

	second, err := svc.List(ctx, ListParams{Limit: 3, Cursor: first.Cursor})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.Items) != 1 || second.Cursor != "" {
		t.Fatalf("expected final page of 1, got %d items cursor=%q", len(second.Items), second.Cursor)
	}
}

func TestServiceListInvalidCursor(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, err := NewService(NewRepository(db))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.List(context.Background(), ListParams{Cursor: "bad"})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestServiceMarkSent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, err := NewService(NewRepository(db))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	notification := seedNotification(t, db, nil, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	if err := svc.MarkSent(ctx, notification.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	var stored models.Notification
	if err := db.First(&stored, "id = ?", notification.ID).Error; err != nil {
		t.Fatalf("load notification: %v", err)
	}
	if stored.SentAt == nil {
		t.Fatalf("expected sent timestamp")
	}

	if err := svc.MarkSent(ctx, uuid.New()); !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
}

func TestConsumerHandlesAllocationCompleted(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	consumer := &Consumer{
		repo: NewRepository(db),
		logg: logger.New(logger.Options{ServiceName: "test"}),
	}

	payload := payloads.AllocationCompletedEvent{
		OrderID:        "ord-1001",
		SubscriptionID: uuid.New(),
		ProductCode:    "streamco-premium",
		CustomerEmail:  "dana@example.com",
		Code:           "CODE-XYZ",
		ExpirationDate: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	ctx := context.Background()
	if err := consumer.handleAllocationCompleted(ctx, data, ctx); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var stored models.Notification
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("load notification: %v", err)
	}
	if stored.Type != enums.NotificationTypeCredentialDelivery {
		t.Fatalf("unexpected type %s", stored.Type)
	}
	if stored.Recipient != "dana@example.com" {
		t.Fatalf("unexpected recipient %q", stored.Recipient)
	}
	if stored.SubscriptionID == nil || *stored.SubscriptionID != payload.SubscriptionID {
		t.Fatalf("notification should link the subscription")
	}
}

func TestConsumerHandlesAllocationIncomplete(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	consumer := &Consumer{
		repo: NewRepository(db),
		logg: logger.New(logger.Options{ServiceName: "test"}),
	}

	payload := payloads.AllocationIncompleteEvent{
		OrderID:     "ord-5001",
		ProductCode: "streamco-premium",
		Reason:      "subscription insert failed",
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	ctx := context.Background()
	if err := consumer.handleAllocationIncomplete(ctx, data, ctx); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var stored models.Notification
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("load notification: %v", err)
	}
	if stored.Type != enums.NotificationTypeOperatorAlert {
		t.Fatalf("unexpected type %s", stored.Type)
	}
}

func TestConsumerRejectsMissingEmail(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	consumer := &Consumer{
		repo: NewRepository(db),
		logg: logger.New(logger.Options{ServiceName: "test"}),
	}

	data, err := json.Marshal(payloads.SubscriptionRenewedEvent{SubscriptionID: uuid.New()})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	ctx := context.Background()
	if err := consumer.handleSubscriptionRenewed(ctx, data, ctx); err == nil {
		t.Fatalf("expected error for missing email")
	}
}
