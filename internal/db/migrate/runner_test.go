package migrate

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"testing"

	"sdushare/backend/internal/db"
)

func TestRun_EmptyDSN(t *testing.T) {
	for _, dsn := range []string{"", "   "} {
		if err := Run(dsn, Up); !errors.Is(err, db.ErrEmptyDSN) {
			t.Errorf("Run(%q): want ErrEmptyDSN, got %v", dsn, err)
		}
	}
}

func TestParseDirection(t *testing.T) {
	for _, s := range []string{"up", "down"} {
		if d, err := ParseDirection(s); err != nil || string(d) != s {
			t.Errorf("ParseDirection(%q) = %q, %v", s, d, err)
		}
	}
	for _, s := range []string{"", "UP", "Up", "sideways"} {
		if _, err := ParseDirection(s); err == nil {
			t.Errorf("ParseDirection(%q): want error", s)
		}
	}
}

func TestRun_InvalidDSN(t *testing.T) {
	for _, dsn := range []string{"invalid-dsn", "://localhost/test", "postgres://localhost with spaces/test"} {
		if err := Run(dsn, Up); err == nil {
			t.Errorf("Run with invalid DSN %q should return error", dsn)
		}
	}
}

func TestMigrationFS_PairsUpAndDown(t *testing.T) {
	entries, err := fs.ReadDir(db.MigrationFS, "migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatal("no migrations embedded")
	}
	for v := range ups {
		if !downs[v] {
			t.Errorf("migration %s has no down file", v)
		}
	}
}

func TestRun_UpAgainstDatabase(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	if err := Run(dsn, Up); err != nil {
		t.Fatalf("Run up: %v", err)
	}
	if err := Run(dsn, Up); err != nil {
		t.Fatalf("Run up twice should be a no-op: %v", err)
	}
	v, dirty, err := Version(dsn)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if dirty || v == 0 {
		t.Errorf("Version = %d dirty=%v", v, dirty)
	}
}
