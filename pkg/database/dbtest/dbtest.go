// Package dbtest connects store tests to a disposable Postgres named by
// TEST_DATABASE_URL. Tests calling Open are skipped when it is unset.
package dbtest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/pkg/database"
)

const envDSN = "TEST_DATABASE_URL"

// Open connects and applies the repository migrations. Rows are never
// truncated: packages run in parallel against the same database, so each
// test seeds its own uniquely named rows.
func Open(t testing.TB) *database.DB {
	t.Helper()
	dsn := os.Getenv(envDSN)
	if dsn == "" {
		t.Skip(envDSN + " not set")
	}

	db, err := database.Connect(dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.RunMigrations(migrationsDir()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
}

// SeedUser inserts an active user on role's plan and returns its id.
func SeedUser(t testing.TB, db *database.DB, role models.Role, companyID *string) string {
	t.Helper()
	id := uuid.NewString()
	lim := models.LimitsFor(role)
	now := time.Now().UTC()

	_, err := db.ExecContext(context.Background(), `
		INSERT INTO users (
			id, email, name, role, company_id, status,
			daily_limit, monthly_limit, device_limit,
			last_daily_reset, last_monthly_reset
		) VALUES ($1, $2, 'Test User', $3, $4, 'active', $5, $6, $7, $8, $8)
	`, id, id+"@example.test", role, companyID, lim.Daily, lim.Monthly, lim.Devices, now)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

// SeedCompany inserts an active company and returns its id.
func SeedCompany(t testing.TB, db *database.DB, maxUsers int) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO companies (id, name, max_users, status) VALUES ($1, $2, $3, 'active')`,
		id, "Company "+id[:8], maxUsers)
	if err != nil {
		t.Fatalf("seed company: %v", err)
	}
	return id
}
