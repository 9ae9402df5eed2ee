package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/abdulachik/figlang/internal/db/migrations"
	_ "modernc.org/sqlite"
)

// Store wraps the database connection and provides access to queries.
type Store struct {
	*sql.DB
	*Queries
}

// pragmas are applied to every new connection. The busy timeout covers
// readers such as the stats command running beside a pipeline run.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// NewStore opens the database at dbPath, creating its directory.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serialises writers, which the per-verse transactions
	// and the tag upserts rely on.
	sqlDB.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", strings.ToLower(strings.TrimPrefix(p, "PRAGMA ")), err)
		}
	}

	return &Store{DB: sqlDB, Queries: New(sqlDB)}, nil
}

// Migration is one embedded schema migration.
type Migration struct {
	Version string
	Applied bool
	up      string
	down    string
}

// loadMigrations reads the embedded migrations in version order.
func loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(migrations.FS, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		up, down := splitMigration(string(content))
		out = append(out, Migration{Version: entry.Name(), up: up, down: down})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// splitMigration returns the statements under the "-- +migrate Up" and
// "-- +migrate Down" markers. A file without markers is all up.
func splitMigration(content string) (up, down string) {
	const upMarker, downMarker = "-- +migrate Up", "-- +migrate Down"
	up = content
	if i := strings.Index(content, downMarker); i >= 0 {
		up, down = content[:i], content[i+len(downMarker):]
	}
	up = strings.TrimPrefix(strings.TrimSpace(up), upMarker)
	return strings.TrimSpace(up), strings.TrimSpace(down)
}

// Migrations returns every embedded migration with its applied state.
func (s *Store) Migrations(ctx context.Context) ([]Migration, error) {
	_, err := s.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	rows, err := s.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migrations: %w", err)
	}

	all, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	for i := range all {
		all[i].Applied = applied[all[i].Version]
	}
	return all, nil
}

// Migrate applies pending migrations, each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	all, err := s.Migrations(ctx)
	if err != nil {
		return err
	}

	for _, m := range all {
		if m.Applied {
			continue
		}
		slog.Info("applying migration", "version", m.Version)
		err := s.InTx(ctx, func(q *Queries) error {
			if _, err := q.db.ExecContext(ctx, m.up); err != nil {
				return fmt.Errorf("execute migration %s: %w", m.Version, err)
			}
			if _, err := q.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
				return fmt.Errorf("record migration %s: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// MigrateDown reverts the most recently applied migration and returns its
// version, or "" when nothing is applied.
func (s *Store) MigrateDown(ctx context.Context) (string, error) {
	all, err := s.Migrations(ctx)
	if err != nil {
		return "", err
	}

	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		if !m.Applied {
			continue
		}
		if m.down == "" {
			return "", fmt.Errorf("migration %s has no down section", m.Version)
		}
		slog.Info("reverting migration", "version", m.Version)
		err := s.InTx(ctx, func(q *Queries) error {
			if _, err := q.db.ExecContext(ctx, m.down); err != nil {
				return fmt.Errorf("revert migration %s: %w", m.Version, err)
			}
			if _, err := q.db.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version); err != nil {
				return fmt.Errorf("unrecord migration %s: %w", m.Version, err)
			}
			return nil
		})
		return m.Version, err
	}
	return "", nil
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(s.Queries.WithTx(tx)); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.DB.Close()
}
