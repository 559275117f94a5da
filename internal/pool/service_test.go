package pool

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/subvaulthq/subvault-backend/pkg/config"
	"github.com/subvaulthq/subvault-backend/pkg/db/models"
	pkgerrors "github.com/subvaulthq/subvault-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:pool_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.CredentialPoolEntry{}); err != nil {
		t.Fatalf("migrate pool entries: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(db), config.PoolConfig{
		DefaultShelfLife: 90 * 24 * time.Hour,
		ClaimMaxAttempts: 3,
		PurgeBatchSize:   2,
	}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func seedEntry(t *testing.T, db *gorm.DB, productCode string, createdAt time.Time, expiresAt *time.Time) models.CredentialPoolEntry {
	t.Helper()
	entry := models.CredentialPoolEntry{
		ID:          uuid.New(),
		ProductCode: productCode,
		Payload:     json.RawMessage(`{"login":"user","secret":"pass"}`),
		CreatedAt:   createdAt,
		ExpiresAt:   expiresAt,
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("seed pool entry: %v", err)
	}
	return entry
}

func TestClaimOneReturnsOldestFirst(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	older := seedEntry(t, db, "SUB-BASIC-1M", base, nil)
	newer := seedEntry(t, db, "SUB-BASIC-1M", base.Add(time.Hour), nil)

	first, err := svc.ClaimOne(ctx, "SUB-BASIC-1M")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.ID != older.ID {
		t.Fatalf("expected oldest entry first, got %s", first.ID)
	}

	second, err := svc.ClaimOne(ctx, "SUB-BASIC-1M")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second.ID != newer.ID {
		t.Fatalf("expected remaining entry, got %s", second.ID)
	}

	if _, err := svc.ClaimOne(ctx, "SUB-BASIC-1M"); !pkgerrors.HasCode(err, pkgerrors.CodeExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
}

func TestClaimOneRemovesClaimedEntry(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	entry := seedEntry(t, db, "SUB-PRO-3M", time.Now().UTC(), nil)

	claimed, err := svc.ClaimOne(ctx, "SUB-PRO-3M")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ID != entry.ID {
		t.Fatalf("unexpected entry claimed: %s", claimed.ID)
	}

	var count int64
	if err := db.Model(&models.CredentialPoolEntry{}).Where("id = ?", entry.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("claimed entry still present in pool")
	}
}

func TestClaimOneSkipsExpiredEntries(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	seedEntry(t, db, "SUB-BASIC-1M", time.Now().UTC().Add(-2*time.Hour), &past)

	if _, err := svc.ClaimOne(ctx, "SUB-BASIC-1M"); !pkgerrors.HasCode(err, pkgerrors.CodeExhausted) {
		t.Fatalf("expected exhausted for expired-only pool, got %v", err)
	}
}

func TestClaimOneRetriesAfterLostRace(t *testing.T) {
	t.Parallel()

	entryA := models.CredentialPoolEntry{ID: uuid.New(), ProductCode: "SUB-BASIC-1M"}
	entryB := models.CredentialPoolEntry{ID: uuid.New(), ProductCode: "SUB-BASIC-1M"}

	repo := &fakeRepository{
		entries: []*models.CredentialPoolEntry{&entryA, &entryB},
		// Delete of the first entry loses the race; the retry wins.
		deleteResults: map[uuid.UUID]bool{entryA.ID: false, entryB.ID: true},
	}
	svc, err := NewService(repo, config.PoolConfig{ClaimMaxAttempts: 3}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	claimed, err := svc.ClaimOne(context.Background(), "SUB-BASIC-1M")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ID != entryB.ID {
		t.Fatalf("expected retry to claim next entry, got %s", claimed.ID)
	}
	if repo.selectCalls != 2 {
		t.Fatalf("expected 2 select attempts, got %d", repo.selectCalls)
	}
}

func TestClaimOneGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	entry := models.CredentialPoolEntry{ID: uuid.New(), ProductCode: "SUB-BASIC-1M"}
	repo := &fakeRepository{
		entries:       []*models.CredentialPoolEntry{&entry, &entry, &entry},
		deleteResults: map[uuid.UUID]bool{entry.ID: false},
	}
	svc, err := NewService(repo, config.PoolConfig{ClaimMaxAttempts: 3}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := svc.ClaimOne(context.Background(), "SUB-BASIC-1M"); !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error after contention, got %v", err)
	}
}

func TestPurgeExpiredRemovesOnlyExpired(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	for i := 0; i < 5; i++ {
		seedEntry(t, db, "SUB-BASIC-1M", now.Add(-time.Hour), &past)
	}
	keep := seedEntry(t, db, "SUB-BASIC-1M", now.Add(-time.Hour), &future)
	keepForever := seedEntry(t, db, "SUB-BASIC-1M", now.Add(-time.Hour), nil)

	// Batch size is 2, so the purge loops through multiple sweeps.
	purged, err := svc.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 5 {
		t.Fatalf("expected 5 purged, got %d", purged)
	}

	var remaining []models.CredentialPoolEntry
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatalf("list remaining: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 surviving entries, got %d", len(remaining))
	}
	for _, entry := range remaining {
		if entry.ID != keep.ID && entry.ID != keepForever.ID {
			t.Fatalf("unexpected survivor %s", entry.ID)
		}
	}
}

func TestProvisionAppliesDefaultShelfLife(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	count, err := svc.Provision(ctx, ProvisionInput{
		ProductCode: "SUB-BASIC-1M",
		Payloads: []json.RawMessage{
			json.RawMessage(`{"login":"a"}`),
			json.RawMessage(`{"login":"b"}`),
		},
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 provisioned, got %d", count)
	}

	var entries []models.CredentialPoolEntry
	if err := db.Find(&entries).Error; err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.ExpiresAt == nil {
			t.Fatalf("expected default shelf life to be applied")
		}
	}

	available, err := svc.Availability(ctx, "SUB-BASIC-1M")
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if available != 2 {
		t.Fatalf("expected availability 2, got %d", available)
	}
}

func TestProvisionValidation(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	if _, err := svc.Provision(ctx, ProvisionInput{ProductCode: ""}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for missing product code, got %v", err)
	}
	if _, err := svc.Provision(ctx, ProvisionInput{ProductCode: "X"}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for empty payloads, got %v", err)
	}
}

type fakeRepository struct {
	entries       []*models.CredentialPoolEntry
	deleteResults map[uuid.UUID]bool
	selectCalls   int
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) Create(ctx context.Context, entry *models.CredentialPoolEntry) error {
	return nil
}

func (f *fakeRepository) CreateBatch(ctx context.Context, entries []models.CredentialPoolEntry) error {
	return nil
}

func (f *fakeRepository) SelectOldest(ctx context.Context, productCode string, now time.Time) (*models.CredentialPoolEntry, error) {
	if f.selectCalls >= len(f.entries) {
		return nil, gorm.ErrRecordNotFound
	}
	entry := f.entries[f.selectCalls]
	f.selectCalls++
	return entry, nil
}

func (f *fakeRepository) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	return f.deleteResults[id], nil
}

func (f *fakeRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	return 0, nil
}

func (f *fakeRepository) CountAvailable(ctx context.Context, productCode string, now time.Time) (int64, error) {
	return int64(len(f.entries)), nil
}

func (f *fakeRepository) ProductCodes(ctx context.Context) ([]string, error) {
	return nil, nil
}
