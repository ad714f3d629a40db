package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

var _ mautrix.SyncStore = (*DBSyncStore)(nil)

// DBSyncStore keeps the /sync filter ID and next_batch token in the
// matrix_sync_state table, one row per bot user.
type DBSyncStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewDBSyncStore returns a sync store on db. The store migrations must have
// been applied.
func NewDBSyncStore(db *sql.DB) *DBSyncStore {
	return &DBSyncStore{db: db, now: time.Now}
}

// SaveFilterID persists the event-filter ID.
func (s *DBSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.save(ctx, userID, "filter_id", filterID)
}

// LoadFilterID returns "" when nothing was saved yet.
func (s *DBSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID, "filter_id")
}

// SaveNextBatch persists the /sync resume token.
func (s *DBSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.save(ctx, userID, "next_batch", nextBatchToken)
}

// LoadNextBatch returns "" on first run.
func (s *DBSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID, "next_batch")
}

// column is one of the two fixed column names above, never user input.
func (s *DBSyncStore) save(ctx context.Context, userID id.UserID, column, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO matrix_sync_state (user_id, %[1]s, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET %[1]s = excluded.%[1]s, updated_at = excluded.updated_at
	`, column)
	if _, err := s.db.ExecContext(ctx, query, userID.String(), value, s.now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("matrix: save %s: %w", column, err)
	}
	return nil
}

func (s *DBSyncStore) load(ctx context.Context, userID id.UserID, column string) (string, error) {
	var value string
	query := fmt.Sprintf(`SELECT %s FROM matrix_sync_state WHERE user_id = ?`, column)
	err := s.db.QueryRowContext(ctx, query, userID.String()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("matrix: load %s: %w", column, err)
	}
	return value, nil
}
