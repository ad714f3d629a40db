package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Role identifies who authored a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageContext is the conversational context captured alongside a message.
type MessageContext struct {
	Topic string `json:"topic,omitempty"`
	Tone  string `json:"tone,omitempty"`
}

// HistoryMessage is one turn of the rolling conversation history. Rows are
// never updated after insert.
type HistoryMessage struct {
	ID          string
	Role        Role
	Content     string
	Timestamp   time.Time
	RequesterID string
	Context     MessageContext
}

// ErrEmptyContent is returned when a history message has no content.
var ErrEmptyContent = errors.New("store: history content is empty")

// AppendHistory inserts msg and returns it with ID and Timestamp filled in
// when they were left empty. The history read cache is flushed before the
// call returns, so a following RecentHistory observes the new row.
func (s *Store) AppendHistory(ctx context.Context, msg HistoryMessage) (HistoryMessage, error) {
	if strings.TrimSpace(msg.Content) == "" {
		return HistoryMessage{}, ErrEmptyContent
	}
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return HistoryMessage{}, fmt.Errorf("store: invalid history role %q", msg.Role)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (id, role, content, ts, requester_id, topic, tone)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, string(msg.Role), msg.Content, msg.Timestamp.UnixMilli(),
		msg.RequesterID, msg.Context.Topic, msg.Context.Tone)
	s.invalidateHistory()
	if err != nil {
		return HistoryMessage{}, fmt.Errorf("store: append history: %w", err)
	}
	return msg, nil
}

// RecentHistory returns up to limit of the most recent messages in
// chronological order. Results are served from a short-lived read cache;
// callers receive their own copy of the slice.
func (s *Store) RecentHistory(ctx context.Context, limit int) ([]HistoryMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	key := "recent:" + strconv.Itoa(limit)
	s.historyMu.Lock()
	gen := s.historyGen
	v, ok := s.history.Get(key)
	s.historyMu.Unlock()
	if ok {
		cached := v.([]HistoryMessage)
		out := make([]HistoryMessage, len(cached))
		copy(out, cached)
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, ts, requester_id, topic, tone
		FROM history
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent history: %w", err)
	}
	defer rows.Close()

	var msgs []HistoryMessage
	for rows.Next() {
		var (
			m    HistoryMessage
			role string
			ts   int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &ts, &m.RequesterID, &m.Context.Topic, &m.Context.Tone); err != nil {
			return nil, fmt.Errorf("store: scan history: %w", err)
		}
		m.Role = Role(role)
		m.Timestamp = time.UnixMilli(ts)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent history rows: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	cached := make([]HistoryMessage, len(msgs))
	copy(cached, msgs)
	s.historyMu.Lock()
	if s.historyGen == gen {
		s.history.Set(key, cached, cache.DefaultExpiration)
	}
	s.historyMu.Unlock()
	return msgs, nil
}

// invalidateHistory runs after every history write. Reads that started
// before it will not repopulate the cache with rows from before the write.
func (s *Store) invalidateHistory() {
	s.historyMu.Lock()
	s.historyGen++
	s.history.Flush()
	s.historyMu.Unlock()
}

// HistoryCount returns the number of stored history messages.
func (s *Store) HistoryCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count history: %w", err)
	}
	return n, nil
}

// TrimHistory enforces the history cap with hysteresis: nothing happens
// until the row count exceeds keep+slack, then the oldest rows are removed
// in batches until exactly keep remain. It returns the number deleted.
func (s *Store) TrimHistory(ctx context.Context, keep, slack int) (int, error) {
	if keep < 0 || slack < 0 {
		return 0, fmt.Errorf("store: trim history: negative bound keep=%d slack=%d", keep, slack)
	}
	count, err := s.HistoryCount(ctx)
	if err != nil {
		return 0, err
	}
	if count <= keep+slack {
		return 0, nil
	}

	deleted, err := s.deleteInBatches(ctx, `
		DELETE FROM history WHERE seq IN (
			SELECT seq FROM history ORDER BY seq ASC LIMIT ?
		)
	`, count-keep)
	s.invalidateHistory()
	if err != nil {
		return deleted, fmt.Errorf("store: trim history: %w", err)
	}

	s.logger.Info("history trimmed", "deleted", deleted, "kept", keep)
	return deleted, nil
}
