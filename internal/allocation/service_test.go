package allocation

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/subvaulthq/subvault-backend/internal/ledger"
	"github.com/subvaulthq/subvault-backend/internal/pool"
	"github.com/subvaulthq/subvault-backend/internal/subscriptions"
	"github.com/subvaulthq/subvault-backend/pkg/config"
	dbpkg "github.com/subvaulthq/subvault-backend/pkg/db"
	"github.com/subvaulthq/subvault-backend/pkg/db/models"
	"github.com/subvaulthq/subvault-backend/pkg/enums"
	pkgerrors "github.com/subvaulthq/subvault-backend/pkg/errors"
	"github.com/subvaulthq/subvault-backend/pkg/outbox"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:allocation_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.CredentialPoolEntry{},
		&models.AllocationRecord{},
		&models.Subscription{},
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	poolSvc, err := pool.NewService(pool.NewRepository(db), config.PoolConfig{ClaimMaxAttempts: 3, PurgeBatchSize: 100}, nil)
	if err != nil {
		t.Fatalf("pool service: %v", err)
	}
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(db))
	if err != nil {
		t.Fatalf("ledger service: %v", err)
	}
	svc, err := NewService(
		dbpkg.FromGorm(db),
		poolSvc,
		ledgerSvc,
		subscriptions.NewRepository(db),
		outbox.NewService(outbox.NewRepository(db), nil),
		nil,
	)
	if err != nil {
		t.Fatalf("allocation service: %v", err)
	}
	return svc
}

func seedEntry(t *testing.T, db *gorm.DB, product, code string, createdAt time.Time) models.CredentialPoolEntry {
	t.Helper()
	entry := models.CredentialPoolEntry{
		ID:          uuid.New(),
		ProductCode: product,
		Payload:     json.RawMessage(fmt.Sprintf(`{"login":"user-%s","secret":"s3cret","code":%q}`, code, code)),
		CreatedAt:   createdAt,
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("seed pool entry: %v", err)
	}
	return entry
}

func validInput(orderID string) AllocateInput {
	return AllocateInput{
		OrderID:       orderID,
		ProductCode:   "streamco-premium",
		DurationLabel: "1 month",
		CustomerName:  "Dana Smith",
		CustomerEmail: "dana@example.com",
	}
}

func TestAllocateAssignsOldestCredential(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	oldest := seedEntry(t, db, "streamco-premium", "OLD-1", base)
	seedEntry(t, db, "streamco-premium", "NEW-2", base.Add(time.Hour))

	sub, err := svc.AllocateForOrder(ctx, validInput("ord-1001"))
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if sub.Code != "OLD-1" {
		t.Fatalf("expected oldest credential assigned, got %q", sub.Code)
	}
	if sub.OrderID == nil || *sub.OrderID != "ord-1001" {
		t.Fatalf("subscription should carry the order id, got %v", sub.OrderID)
	}
	if got := sub.ExpirationDate.Sub(sub.StartDate); got != 30*24*time.Hour {
		t.Fatalf("expected 30 day window, got %v", got)
	}

	// The claimed entry is gone from the pool.
	var remaining []models.CredentialPoolEntry
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatalf("list pool: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID == oldest.ID {
		t.Fatalf("expected only the newer entry to remain, got %d entries", len(remaining))
	}

	// The ledger holds the full payload snapshot.
	var record models.AllocationRecord
	if err := db.First(&record, "order_id = ?", "ord-1001").Error; err != nil {
		t.Fatalf("load allocation record: %v", err)
	}
	if string(record.PayloadSnapshot) != string(oldest.Payload) {
		t.Fatalf("ledger snapshot should copy the claimed payload")
	}
	if record.AssignedBy != ledger.AssignedBySystem {
		t.Fatalf("expected system attribution, got %q", record.AssignedBy)
	}

	var events []models.OutboxEvent
	if err := db.Where("event_type = ?", enums.EventAllocationCompleted).Find(&events).Error; err != nil {
		t.Fatalf("load outbox events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one completion event, got %d", len(events))
	}
	if events[0].AggregateID != "ord-1001" {
		t.Fatalf("event should target the order, got %q", events[0].AggregateID)
	}
}

func TestAllocateIsIdempotent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedEntry(t, db, "streamco-premium", "C-1", base)
	seedEntry(t, db, "streamco-premium", "C-2", base.Add(time.Hour))

	first, err := svc.AllocateForOrder(ctx, validInput("ord-2001"))
	if err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	second, err := svc.AllocateForOrder(ctx, validInput("ord-2001"))
	if err != nil {
		t.Fatalf("replayed allocate: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("replay must return the same subscription, got %s and %s", first.ID, second.ID)
	}

	var poolCount, ledgerCount, subCount int64
	if err := db.Model(&models.CredentialPoolEntry{}).Count(&poolCount).Error; err != nil {
		t.Fatalf("count pool: %v", err)
	}
	if err := db.Model(&models.AllocationRecord{}).Count(&ledgerCount).Error; err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if err := db.Model(&models.Subscription{}).Count(&subCount).Error; err != nil {
		t.Fatalf("count subscriptions: %v", err)
	}
	if poolCount != 1 || ledgerCount != 1 || subCount != 1 {
		t.Fatalf("replay must consume nothing: pool=%d ledger=%d subs=%d", poolCount, ledgerCount, subCount)
	}
}

func TestAllocateExhaustedPool(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	_, err := svc.AllocateForOrder(ctx, validInput("ord-3001"))
	if !pkgerrors.HasCode(err, pkgerrors.CodeExhausted) {
		t.Fatalf("expected exhausted pool error, got %v", err)
	}

	// No partial state: an order that got nothing can retry later.
	var ledgerCount, subCount int64
	if err := db.Model(&models.AllocationRecord{}).Count(&ledgerCount).Error; err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if err := db.Model(&models.Subscription{}).Count(&subCount).Error; err != nil {
		t.Fatalf("count subscriptions: %v", err)
	}
	if ledgerCount != 0 || subCount != 0 {
		t.Fatalf("exhausted claim must leave no records: ledger=%d subs=%d", ledgerCount, subCount)
	}
}

func TestAllocateDistinctOrdersNeverShareCredentials(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		seedEntry(t, db, "streamco-premium", fmt.Sprintf("C-%d", i), base.Add(time.Duration(i)*time.Minute))
	}

	// Three orders against two credentials: two succeed with distinct codes,
	// the third sees an empty pool.
	codes := map[string]bool{}
	var exhausted int
	for i := 0; i < 3; i++ {
		sub, err := svc.AllocateForOrder(ctx, validInput(fmt.Sprintf("ord-41%02d", i)))
		if err != nil {
			if !pkgerrors.HasCode(err, pkgerrors.CodeExhausted) {
				t.Fatalf("unexpected error: %v", err)
			}
			exhausted++
			continue
		}
		if codes[sub.Code] {
			t.Fatalf("credential %q assigned twice", sub.Code)
		}
		codes[sub.Code] = true
	}
	if len(codes) != 2 || exhausted != 1 {
		t.Fatalf("expected 2 distinct assignments and 1 exhaustion, got %d and %d", len(codes), exhausted)
	}
}

func TestAllocateSurfacesPartialFailureWithoutReclaiming(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	// A prior attempt consumed a credential but crashed before issuing the
	// subscription: the ledger row exists alone.
	record := models.AllocationRecord{
		ID:              uuid.New(),
		OrderID:         "ord-5001",
		PayloadSnapshot: json.RawMessage(`{"login":"user","secret":"s3cret","code":"C-9"}`),
		AssignedBy:      ledger.AssignedBySystem,
		AssignedAt:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("seed allocation record: %v", err)
	}
	seedEntry(t, db, "streamco-premium", "C-10", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	_, err := svc.AllocateForOrder(ctx, validInput("ord-5001"))
	if !pkgerrors.HasCode(err, pkgerrors.CodePartialFailure) {
		t.Fatalf("expected partial failure, got %v", err)
	}

	// The retry must not silently burn a second credential.
	var poolCount int64
	if err := db.Model(&models.CredentialPoolEntry{}).Count(&poolCount).Error; err != nil {
		t.Fatalf("count pool: %v", err)
	}
	if poolCount != 1 {
		t.Fatalf("partial failure retry must not claim again, pool=%d", poolCount)
	}
}

func TestAllocateValidation(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	seedEntry(t, db, "streamco-premium", "C-1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	cases := []AllocateInput{
		{},
		{OrderID: "ord-1", ProductCode: "streamco-premium", DurationLabel: "1 month", CustomerEmail: "d@example.com"},
		{OrderID: "ord-1", ProductCode: "streamco-premium", DurationLabel: "1 month", CustomerName: "Dana"},
		{OrderID: "ord-1", DurationLabel: "1 month", CustomerName: "Dana", CustomerEmail: "d@example.com"},
	}
	for _, input := range cases {
		if _, err := svc.AllocateForOrder(ctx, input); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("expected validation error for %+v, got %v", input, err)
		}
	}

	// An unknown duration label must fail before touching the pool.
	bad := validInput("ord-6001")
	bad.DurationLabel = "a fortnight"
	if _, err := svc.AllocateForOrder(ctx, bad); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for unknown label, got %v", err)
	}
	var poolCount int64
	if err := db.Model(&models.CredentialPoolEntry{}).Count(&poolCount).Error; err != nil {
		t.Fatalf("count pool: %v", err)
	}
	if poolCount != 1 {
		t.Fatalf("rejected input must not consume credentials, pool=%d", poolCount)
	}
}
