// Package dbtest opens the configured development database for integration tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/tbeaudouin05/snapcal-api/api/config"
	"github.com/tbeaudouin05/snapcal-api/api/database"
)

// Open connects to DATABASE_URL, applies migrations and closes the handle when
// the test ends. It skips in -short mode and aborts on a production URL.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in -short mode")
	}
	// Prevent tests from running against production database
	config.CheckNotProdDB()
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	return db
}
