// Package migrations embeds the ledger schema and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var files embed.FS

const dir = "sql"

var setupOnce sync.Once
var setupErr error

// goose keeps its configuration in package globals.
func setup(l *slog.Logger) error {
	setupOnce.Do(func() {
		goose.SetBaseFS(files)
		setupErr = goose.SetDialect("postgres")
	})
	if setupErr != nil {
		return setupErr
	}
	if l == nil {
		l = slog.Default()
	}
	goose.SetLogger(gooseLogger{l: l.With("component", "migrations")})
	return nil
}

// Up applies every pending migration.
func Up(ctx context.Context, db *sql.DB, l *slog.Logger) error {
	if err := setup(l); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, db *sql.DB, l *slog.Logger) error {
	if err := setup(l); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db, dir); err != nil {
		return fmt.Errorf("migrations: down: %w", err)
	}
	return nil
}

// Status logs the applied state of every migration.
func Status(ctx context.Context, db *sql.DB, l *slog.Logger) error {
	if err := setup(l); err != nil {
		return err
	}
	if err := goose.StatusContext(ctx, db, dir); err != nil {
		return fmt.Errorf("migrations: status: %w", err)
	}
	return nil
}

// Versions lists the embedded migration versions in apply order.
func Versions() ([]int64, error) {
	if err := setup(nil); err != nil {
		return nil, err
	}
	ms, err := goose.CollectMigrations(dir, 0, goose.MaxVersion)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Version)
	}
	return out, nil
}

type gooseLogger struct{ l *slog.Logger }

func (g gooseLogger) Printf(format string, v ...any) {
	g.l.Info(fmt.Sprintf(format, v...))
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.l.Error(fmt.Sprintf(format, v...))
}
