package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/Hana/internal/hana/state"
	"github.com/bdobrica/Hana/internal/hana/store"
)

// Job names as registered with the scheduler.
const (
	NameSulk        = "sulk"
	NameHistoryTrim = "history_trim"
	NameLTMCleanup  = "ltm_cleanup"
	NameCompaction  = "compaction"
)

// SulkEvaluator is the part of the state machine the sulk job drives.
type SulkEvaluator interface {
	EvaluateSulk(ctx context.Context, now time.Time, notifier state.Notifier) state.NotificationKind
	EvaluateRomance(ctx context.Context, now time.Time) bool
}

// SulkJob runs the sulk check and the romance decay check.
func SulkJob(m SulkEvaluator, notifier state.Notifier, now func() time.Time, logger *slog.Logger) Job {
	now, logger = defaults(now, logger)
	return func(ctx context.Context) error {
		t := now()
		if kind := m.EvaluateSulk(ctx, t, notifier); kind != state.NotifyNone {
			logger.Info("jobs: sulk transition", "kind", kind)
		}
		if m.EvaluateRomance(ctx, t) {
			logger.Info("jobs: romance session decayed")
		}
		return nil
	}
}

// HistoryTrimmer trims the rolling history.
type HistoryTrimmer interface {
	TrimHistory(ctx context.Context, keep, slack int) (int, error)
}

// HistoryTrimJob keeps the newest keep messages once the history exceeds
// keep+slack.
func HistoryTrimJob(h HistoryTrimmer, keep, slack int, logger *slog.Logger) Job {
	_, logger = defaults(nil, logger)
	return func(ctx context.Context) error {
		n, err := h.TrimHistory(ctx, keep, slack)
		if err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
		if n > 0 {
			logger.Info("jobs: history trimmed", "deleted", n, "kept", keep)
		}
		return nil
	}
}

// LTMExpirer deletes long-term facts past their tier's age.
type LTMExpirer interface {
	ExpireLTM(ctx context.Context, now time.Time, policy store.RetentionPolicy) (int, error)
}

// LTMCleanupJob applies the tiered retention policy.
func LTMCleanupJob(x LTMExpirer, policy store.RetentionPolicy, now func() time.Time, logger *slog.Logger) Job {
	now, logger = defaults(now, logger)
	return func(ctx context.Context) error {
		n, err := x.ExpireLTM(ctx, now(), policy)
		if err != nil {
			return fmt.Errorf("expire ltm: %w", err)
		}
		if n > 0 {
			logger.Info("jobs: ltm expired", "deleted", n)
		}
		return nil
	}
}

// Snapshotter captures the interaction state.
type Snapshotter interface {
	Snapshot() state.Snapshot
}

// Compacter checkpoints and vacuums the database.
type Compacter interface {
	Compact(ctx context.Context) error
}

// CompactionJob persists a fresh state snapshot and then compacts the
// database. The snapshot is taken before any disk work, so no state lock is
// held while the database is busy.
func CompactionJob(src Snapshotter, persist state.Persister, db Compacter, logger *slog.Logger) Job {
	_, logger = defaults(nil, logger)
	return func(ctx context.Context) error {
		snap := src.Snapshot()
		if err := persist.SaveSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		start := time.Now()
		if err := db.Compact(ctx); err != nil {
			return fmt.Errorf("compact: %w", err)
		}
		logger.Info("jobs: database compacted", "took", time.Since(start))
		return nil
	}
}

func defaults(now func() time.Time, logger *slog.Logger) (func() time.Time, *slog.Logger) {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return now, logger
}
