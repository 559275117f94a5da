package cron

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/subvaulthq/subvault-backend/internal/notifications"
	dbpkg "github.com/subvaulthq/subvault-backend/pkg/db"
	"github.com/subvaulthq/subvault-backend/pkg/db/models"
	"github.com/subvaulthq/subvault-backend/pkg/enums"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
)

func TestNotificationCleanupJobDeletesOldSentRows(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	sentAt := now.AddDate(0, 0, -60)

	oldSent := models.Notification{
		ID:        uuid.New(),
		Type:      enums.NotificationTypeRenewalReminder,
		Recipient: "dana@example.com",
		Title:     "old",
		Message:   "old",
		SentAt:    &sentAt,
		CreatedAt: now.AddDate(0, 0, -60),
	}
	oldUnsent := models.Notification{
		ID:        uuid.New(),
		Type:      enums.NotificationTypeRenewalReminder,
		Recipient: "dana@example.com",
		Title:     "old unsent",
		Message:   "old unsent",
		CreatedAt: now.AddDate(0, 0, -60),
	}
	recent := models.Notification{
		ID:        uuid.New(),
		Type:      enums.NotificationTypeRenewalReminder,
		Recipient: "dana@example.com",
		Title:     "recent",
		Message:   "recent",
		SentAt:    &now,
		CreatedAt: now.AddDate(0, 0, -1),
	}
	for _, n := range []models.Notification{oldSent, oldUnsent, recent} {
		row := n
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed notification: %v", err)
		}
	}

	jobIface, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test"}),
		DB:         dbpkg.FromGorm(db),
		Repository: notifications.NewRepository(db),
		Retention:  30,
	})
	if err != nil {
		t.Fatalf("NewNotificationCleanupJob: %v", err)
	}
	job := jobIface.(*notificationCleanupJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var remaining []models.Notification
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 notifications to survive, got %d", len(remaining))
	}
	for _, n := range remaining {
		if n.ID == oldSent.ID {
			t.Fatalf("old sent notification should be deleted")
		}
	}
}
