package postgres

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestMigratorSourceURL(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"migrations", "file://migrations"},
		{"/srv/eventledger/migrations", "file:///srv/eventledger/migrations"},
		{"file://migrations", "file://migrations"},
	}

	for _, tt := range tests {
		m := NewMigrator("postgres://localhost/db", tt.path, zerolog.Nop())
		if got := m.sourceURL(); got != tt.want {
			t.Fatalf("sourceURL(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMigratorMissingSource(t *testing.T) {
	m := NewMigrator("postgres://localhost:1/db?sslmode=disable", filepath.Join(t.TempDir(), "absent"), zerolog.Nop())

	if err := m.Up(); err == nil {
		t.Fatalf("expected error for missing migrations directory")
	}
	if _, _, err := m.Version(); err == nil {
		t.Fatalf("expected error for missing migrations directory")
	}
}

func TestMigratorDownRejectsNonPositiveSteps(t *testing.T) {
	m := NewMigrator("postgres://localhost/db", "migrations", zerolog.Nop())
	if err := m.Down(0); err == nil {
		t.Fatalf("expected error for zero steps")
	}
}

func TestMigrationsArePaired(t *testing.T) {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
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
		t.Fatalf("expected at least one migration")
	}
	for name := range ups {
		if !downs[name] {
			t.Fatalf("migration %s has no down file", name)
		}
	}
	for name := range downs {
		if !ups[name] {
			t.Fatalf("migration %s has no up file", name)
		}
	}
}
