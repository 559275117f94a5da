package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/subvaulthq/subvault-backend/pkg/migrate"
)

func TestAllocationMigrationEnforcesOrderUniqueness(t *testing.T) {
	content := readMigration(t, "*_create_allocation_records.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS allocation_records",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_allocation_order",
		"DROP TABLE IF EXISTS allocation_records",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestSubscriptionMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_subscriptions.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS subscriptions",
		"CHECK (expiration_date > start_date)",
		"CHECK (renewal_count >= 0)",
		"WHERE order_id IS NOT NULL",
		"DROP TABLE IF EXISTS subscriptions",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestSnapshotMigrationReferencesSubscriptions(t *testing.T) {
	content := readMigration(t, "*_create_renewal_snapshots.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS renewal_snapshots",
		"FOREIGN KEY (subscription_id) REFERENCES subscriptions(id)",
		"DROP TABLE IF EXISTS renewal_snapshots",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %q found", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
