package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// LTMEntry is one prioritised long-term memory fact.
type LTMEntry struct {
	ID        string
	Key       string
	Value     string
	Priority  int // 0..100
	CreatedAt time.Time
}

// RetentionTier keeps entries with Priority >= MinPriority (and below the
// next higher tier) for MaxAge after creation.
type RetentionTier struct {
	MinPriority int
	MaxAge      time.Duration
}

// RetentionPolicy is a set of tiers. Order does not matter; tiers are
// evaluated from the highest MinPriority down.
type RetentionPolicy []RetentionTier

// DefaultRetention keeps high-priority facts for 60 days, medium for 14 and
// everything else for 5.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{
		{MinPriority: 80, MaxAge: 60 * 24 * time.Hour},
		{MinPriority: 40, MaxAge: 14 * 24 * time.Hour},
		{MinPriority: 0, MaxAge: 5 * 24 * time.Hour},
	}
}

// Validate reports tiers with overlapping bounds or non-positive ages.
func (p RetentionPolicy) Validate() error {
	if len(p) == 0 {
		return errors.New("store: retention policy has no tiers")
	}
	seen := make(map[int]bool, len(p))
	for _, t := range p {
		if t.MaxAge <= 0 {
			return fmt.Errorf("store: retention tier %d has non-positive max age", t.MinPriority)
		}
		if t.MinPriority < 0 || t.MinPriority > 100 {
			return fmt.Errorf("store: retention tier priority %d out of range", t.MinPriority)
		}
		if seen[t.MinPriority] {
			return fmt.Errorf("store: duplicate retention tier %d", t.MinPriority)
		}
		seen[t.MinPriority] = true
	}
	return nil
}

// sorted returns a copy ordered by MinPriority descending.
func (p RetentionPolicy) sorted() RetentionPolicy {
	out := make(RetentionPolicy, len(p))
	copy(out, p)
	sort.Slice(out, func(i, j int) bool { return out[i].MinPriority > out[j].MinPriority })
	return out
}

// UpsertLTM inserts e, or refreshes the entry that already has e.Key. A
// refresh replaces the value and creation time but never lowers priority.
// The returned entry is e with ID and CreatedAt defaults filled in.
func (s *Store) UpsertLTM(ctx context.Context, e LTMEntry) (LTMEntry, error) {
	if e.Key == "" || e.Value == "" {
		return LTMEntry{}, errors.New("store: ltm entry needs a key and a value")
	}
	if e.Priority < 0 || e.Priority > 100 {
		return LTMEntry{}, fmt.Errorf("store: ltm priority %d out of range 0..100", e.Priority)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ltm_entries (id, key, value, priority, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			priority   = MAX(ltm_entries.priority, excluded.priority),
			created_at = excluded.created_at
	`, e.ID, e.Key, e.Value, e.Priority, e.CreatedAt.UnixMilli())
	if err != nil {
		return LTMEntry{}, fmt.Errorf("store: upsert ltm %q: %w", e.Key, err)
	}
	return e, nil
}

// TopLTM returns up to n entries ordered by priority descending, newest first
// within a priority.
func (s *Store) TopLTM(ctx context.Context, n int) ([]LTMEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, value, priority, created_at
		FROM ltm_entries
		ORDER BY priority DESC, created_at DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("store: top ltm: %w", err)
	}
	defer rows.Close()

	var out []LTMEntry
	for rows.Next() {
		var (
			e  LTMEntry
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.Key, &e.Value, &e.Priority, &ts); err != nil {
			return nil, fmt.Errorf("store: scan ltm: %w", err)
		}
		e.CreatedAt = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExpireLTM deletes entries older than their tier's MaxAge relative to now,
// in batches, and returns the number removed.
func (s *Store) ExpireLTM(ctx context.Context, now time.Time, policy RetentionPolicy) (int, error) {
	if err := policy.Validate(); err != nil {
		return 0, err
	}

	total := 0
	upper := 101
	for _, tier := range policy.sorted() {
		cutoff := now.Add(-tier.MaxAge).UnixMilli()
		n, err := s.deleteInBatches(ctx, `
			DELETE FROM ltm_entries WHERE id IN (
				SELECT id FROM ltm_entries
				WHERE priority >= ? AND priority < ? AND created_at < ?
				LIMIT ?
			)
		`, -1, tier.MinPriority, upper, cutoff)
		total += n
		if err != nil {
			return total, fmt.Errorf("store: expire ltm tier %d: %w", tier.MinPriority, err)
		}
		if n > 0 {
			s.logger.Info("ltm entries expired", "tier", tier.MinPriority, "max_age", tier.MaxAge, "deleted", n)
		}
		upper = tier.MinPriority
	}
	return total, nil
}
