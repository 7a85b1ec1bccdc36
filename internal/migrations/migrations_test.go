package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestVersionsAreSequential(t *testing.T) {
	vs, err := Versions()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(vs) == 0 {
		t.Fatalf("no migrations embedded")
	}
	for i, v := range vs {
		if v != int64(i+1) {
			t.Fatalf("version %d at position %d", v, i)
		}
	}
}

func TestEveryMigrationIsReversible(t *testing.T) {
	names, err := fs.Glob(files, "sql/*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	for _, name := range names {
		b, err := fs.ReadFile(files, name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		body := string(b)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s: missing goose annotations", name)
		}
	}
}

func TestLedgerUniquenessIsInSchema(t *testing.T) {
	b, err := fs.ReadFile(files, "sql/00001_wallets.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), "UNIQUE (reference, type)") {
		t.Fatalf("wallet_transactions must be unique per (reference, type)")
	}
}
