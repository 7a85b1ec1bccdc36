// Package testdb opens the Postgres database used by repository tests.
package testdb

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"creator-payments/internal/migrations"
	"creator-payments/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// EnvVar names the DSN of a disposable database.
const EnvVar = "DATABASE_URL"

// Open migrates the database named by DATABASE_URL and returns a pool.
// Tests calling it are skipped when the variable is unset.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv(EnvVar)
	if dsn == "" {
		t.Skipf("%s not set; skipping Postgres test", EnvVar)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := utils.OpenPostgres(ctx, "pgx", dsn, utils.PostgresPoolConfig{MaxOpenConns: 20})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := migrations.Up(ctx, db, quiet); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
