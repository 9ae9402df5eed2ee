package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var schemaTables = []string{
	"verses", "figurative_language", "tags", "figurative_tags", "tag_relationships", "processing_attempts",
}

func tableExists(t *testing.T, s *Store, name string) bool {
	t.Helper()
	var n int
	err := s.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "figlang.db")

	store, err := NewStore(ctx, dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	require.NoError(t, err, "database file is created with its directory")

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"busy_timeout", "5000"},
	}
	for _, tt := range tests {
		t.Run(tt.pragma, func(t *testing.T) {
			var got string
			require.NoError(t, store.QueryRowContext(ctx, "PRAGMA "+tt.pragma).Scan(&got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitMigration(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantUp   string
		wantDown string
	}{
		{
			name:     "both sections",
			content:  "-- +migrate Up\nCREATE TABLE t (id INTEGER);\n\n-- +migrate Down\nDROP TABLE t;\n",
			wantUp:   "CREATE TABLE t (id INTEGER);",
			wantDown: "DROP TABLE t;",
		},
		{
			name:    "no markers",
			content: "CREATE TABLE t (id INTEGER);\n",
			wantUp:  "CREATE TABLE t (id INTEGER);",
		},
		{
			name:    "up marker only",
			content: "-- +migrate Up\nCREATE TABLE t (id INTEGER);",
			wantUp:  "CREATE TABLE t (id INTEGER);",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up, down := splitMigration(tt.content)
			assert.Equal(t, tt.wantUp, up)
			assert.Equal(t, tt.wantDown, down)
		})
	}
}

func TestStore_Migrate(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, filepath.Join(t.TempDir(), "figlang.db"))
	require.NoError(t, err)
	defer store.Close()

	pending, err := store.Migrations(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, pending)
	for _, m := range pending {
		assert.False(t, m.Applied, m.Version)
	}

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "second run is a no-op")

	for _, table := range schemaTables {
		assert.True(t, tableExists(t, store, table), table)
	}

	applied, err := store.Migrations(ctx)
	require.NoError(t, err)
	for _, m := range applied {
		assert.True(t, m.Applied, m.Version)
	}

	count, err := store.CountVerses(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	t.Run("rejects non yes/no flags", func(t *testing.T) {
		_, err := store.ExecContext(ctx,
			`INSERT INTO verses (book, chapter, verse, reference, both_models_failed) VALUES ('Genesis', 1, 1, 'Genesis 1:1', 'true')`)
		assert.Error(t, err)
	})
}

func TestStore_MigrateDown(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore(t)

	all, err := store.Migrations(ctx)
	require.NoError(t, err)
	last := all[len(all)-1].Version

	version, err := store.MigrateDown(ctx)
	require.NoError(t, err)
	assert.Equal(t, last, version)

	if len(all) == 1 {
		for _, table := range schemaTables {
			assert.False(t, tableExists(t, store, table), table)
		}
	}

	require.NoError(t, store.Migrate(ctx))
	assert.True(t, tableExists(t, store, "verses"))

	t.Run("nothing applied", func(t *testing.T) {
		for range all {
			_, err := store.MigrateDown(ctx)
			require.NoError(t, err)
		}
		version, err := store.MigrateDown(ctx)
		require.NoError(t, err)
		assert.Empty(t, version)
	})
}

// NewTestStore returns a migrated store in a temporary directory.
func NewTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	store, err := NewStore(ctx, filepath.Join(t.TempDir(), "figlang.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))

	t.Cleanup(func() { store.Close() })
	return store
}
