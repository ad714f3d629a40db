// Package store provides durable persistence for Hana: the rolling
// conversation history, the preferences table and the prioritised long-term
// memory facts, all held in a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

const (
	// DefaultHistoryCacheTTL is how long a history read stays cached.
	DefaultHistoryCacheTTL = 3 * time.Second

	// DefaultDeleteBatchSize is the chunk size for batched deletions.
	DefaultDeleteBatchSize = 200
)

// Options tunes a Store. Zero values select the defaults.
type Options struct {
	// HistoryCacheTTL bounds how long RecentHistory results are served from
	// memory. Every history write or trim flushes the cache regardless.
	HistoryCacheTTL time.Duration

	// DeleteBatchSize is the maximum number of rows removed per DELETE
	// statement during trims and retention sweeps.
	DeleteBatchSize int

	// Logger receives migration and maintenance log lines.
	Logger *slog.Logger
}

// Store wraps the database connection.
type Store struct {
	db        *sql.DB
	history   *cache.Cache
	batchSize int
	logger    *slog.Logger

	// historyMu orders cache fills against invalidations. historyGen is
	// bumped after every history write; a read only populates the cache when
	// the generation it started under is still current.
	historyMu  sync.Mutex
	historyGen uint64
}

// New opens (or creates) the database at dbPath and runs migrations.
func New(dbPath string, opts Options) (*Store, error) {
	if opts.HistoryCacheTTL <= 0 {
		opts.HistoryCacheTTL = DefaultHistoryCacheTTL
	}
	if opts.DeleteBatchSize <= 0 {
		opts.DeleteBatchSize = DefaultDeleteBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// One shared connection: SQLite has a single writer, and VACUUM must not
	// race with in-flight statements on other connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: set pragma %q: %w", pragma, err)
		}
	}

	s := &Store{
		db:        db,
		history:   cache.New(opts.HistoryCacheTTL, 4*opts.HistoryCacheTTL),
		batchSize: opts.DeleteBatchSize,
		logger:    opts.Logger,
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for collaborators that keep
// their own tables in the same file (the Matrix sync store).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Stats is a point-in-time row count summary.
type Stats struct {
	HistoryMessages int `json:"history_messages"`
	LTMEntries      int `json:"ltm_entries"`
	Preferences     int `json:"preferences"`
}

// Stats counts rows in the domain tables.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM history),
			(SELECT COUNT(*) FROM ltm_entries),
			(SELECT COUNT(*) FROM preferences)
	`).Scan(&st.HistoryMessages, &st.LTMEntries, &st.Preferences)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	return st, nil
}

// Compact checkpoints and truncates the write-ahead log, then rebuilds the
// database file to reclaim pages freed by trims and retention sweeps.
func (s *Store) Compact(ctx context.Context) error {
	start := time.Now()
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("store: wal checkpoint: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("store: vacuum: %w", err)
	}
	s.logger.Info("store compacted", "duration", time.Since(start))
	return nil
}

// deleteInBatches runs query (which must select ids with a trailing LIMIT ?)
// repeatedly until fewer than batchSize rows are removed or remaining reaches
// zero. A negative remaining means "no cap".
func (s *Store) deleteInBatches(ctx context.Context, query string, remaining int, args ...any) (int, error) {
	total := 0
	for remaining != 0 {
		limit := s.batchSize
		if remaining > 0 && remaining < limit {
			limit = remaining
		}
		res, err := s.db.ExecContext(ctx, query, append(args, limit)...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
		if remaining > 0 {
			remaining -= int(n)
		}
		if int(n) < limit {
			break
		}
	}
	return total, nil
}

// runMigrations applies every embedded migration newer than the recorded
// schema version, each in its own transaction.
func (s *Store) runMigrations() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("get current schema version: %w", err)
	}

	migrations, err := listMigrations()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", m.file))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", m.file, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.version, time.Now().UTC(), m.description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}

		s.logger.Info("applied migration", "version", fmt.Sprintf("%04d", m.version), "description", m.description)
	}

	return nil
}

type migration struct {
	version     int
	description string
	file        string
}

// listMigrations parses "NNNN_description.sql" names from the embedded
// directory, sorted by version. Duplicate versions are an error.
func listMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	seen := make(map[int]string, len(entries))
	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
			continue
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %04d: %q and %q", version, prev, name)
		}
		seen[version] = name
		out = append(out, migration{
			version:     version,
			description: strings.TrimSuffix(parts[1], ".sql"),
			file:        name,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
