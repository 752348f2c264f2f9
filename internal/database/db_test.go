package database

import (
	"slices"
	"testing"
	"testing/fstest"
)

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_valuation.up.sql":  {Data: []byte("SELECT 1")},
		"001_kv_store.up.sql":   {Data: []byte("SELECT 1")},
		"001_kv_store.down.sql": {Data: []byte("SELECT 1")},
		"README.md":             {Data: []byte("notes")},
		"archive/003.up.sql":    {Data: []byte("SELECT 1")},
	}

	got, err := PendingMigrations(fsys, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"001_kv_store.up.sql", "002_valuation.up.sql"}
	if !slices.Equal(got, want) {
		t.Errorf("PendingMigrations = %v, want %v", got, want)
	}
}

func TestPendingMigrationsSkipsApplied(t *testing.T) {
	fsys := fstest.MapFS{
		"001_kv_store.up.sql": {Data: []byte("SELECT 1")},
	}

	got, err := PendingMigrations(fsys, map[string]bool{"001_kv_store.up.sql": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("PendingMigrations = %v, want none", got)
	}
}
