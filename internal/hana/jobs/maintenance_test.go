package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/Hana/internal/hana/state"
	"github.com/bdobrica/Hana/internal/hana/store"
)

type fakeSulk struct {
	at       []time.Time
	notifier state.Notifier
	kind     state.NotificationKind
	romance  int
}

func (f *fakeSulk) EvaluateSulk(_ context.Context, now time.Time, n state.Notifier) state.NotificationKind {
	f.at = append(f.at, now)
	f.notifier = n
	return f.kind
}

func (f *fakeSulk) EvaluateRomance(context.Context, time.Time) bool {
	f.romance++
	return false
}

func TestSulkJob(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := &fakeSulk{kind: state.NotifySulkStarted}
	n := state.NotifierFunc(func(context.Context, state.Notification) error { return nil })

	if err := SulkJob(m, n, func() time.Time { return now }, nil)(context.Background()); err != nil {
		t.Fatalf("SulkJob: %v", err)
	}
	if len(m.at) != 1 || !m.at[0].Equal(now) {
		t.Errorf("EvaluateSulk calls = %v", m.at)
	}
	if m.notifier == nil {
		t.Error("notifier not passed through")
	}
	if m.romance != 1 {
		t.Errorf("EvaluateRomance calls = %d, want 1", m.romance)
	}
}

type fakeTrimmer struct {
	keep, slack int
	err         error
}

func (f *fakeTrimmer) TrimHistory(_ context.Context, keep, slack int) (int, error) {
	f.keep, f.slack = keep, slack
	return 3, f.err
}

func TestHistoryTrimJob(t *testing.T) {
	tr := &fakeTrimmer{}
	if err := HistoryTrimJob(tr, 50, 10, nil)(context.Background()); err != nil {
		t.Fatal(err)
	}
	if tr.keep != 50 || tr.slack != 10 {
		t.Errorf("TrimHistory(%d, %d), want (50, 10)", tr.keep, tr.slack)
	}

	tr.err = errors.New("locked")
	if err := HistoryTrimJob(tr, 50, 10, nil)(context.Background()); !errors.Is(err, tr.err) {
		t.Errorf("err = %v, want wrapped %v", err, tr.err)
	}
}

type fakeExpirer struct {
	now    time.Time
	policy store.RetentionPolicy
}

func (f *fakeExpirer) ExpireLTM(_ context.Context, now time.Time, p store.RetentionPolicy) (int, error) {
	f.now, f.policy = now, p
	return 0, nil
}

func TestLTMCleanupJob(t *testing.T) {
	now := time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC)
	x := &fakeExpirer{}
	policy := store.DefaultRetention()
	if err := LTMCleanupJob(x, policy, func() time.Time { return now }, nil)(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !x.now.Equal(now) || len(x.policy) != len(policy) {
		t.Errorf("ExpireLTM got now=%v policy=%v", x.now, x.policy)
	}
}

type staticSnapshot struct{ snap state.Snapshot }

func (s staticSnapshot) Snapshot() state.Snapshot { return s.snap }

type orderRecorder struct {
	steps   []string
	saveErr error
}

func (o *orderRecorder) SaveSnapshot(context.Context, state.Snapshot) error {
	o.steps = append(o.steps, "snapshot")
	return o.saveErr
}

func (o *orderRecorder) Compact(context.Context) error {
	o.steps = append(o.steps, "compact")
	return nil
}

func TestCompactionJob_SnapshotThenCompact(t *testing.T) {
	rec := &orderRecorder{}
	job := CompactionJob(staticSnapshot{state.Snapshot{Mood: "happy"}}, rec, rec, nil)
	if err := job(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rec.steps) != 2 || rec.steps[0] != "snapshot" || rec.steps[1] != "compact" {
		t.Errorf("steps = %v", rec.steps)
	}

	rec = &orderRecorder{saveErr: errors.New("readonly")}
	if err := CompactionJob(staticSnapshot{}, rec, rec, nil)(context.Background()); err == nil {
		t.Fatal("expected snapshot error")
	}
	if len(rec.steps) != 1 {
		t.Errorf("compaction ran after failed snapshot: %v", rec.steps)
	}
}

func TestCompactionJob_AgainstStore(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "hana.db"), store.Options{})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer s.Close()

	persist := &state.PreferencePersister{Store: s, NotFound: store.ErrNotFound}
	snap := state.Snapshot{Mood: "calm", Personality: "tsundere", Relationship: 42}
	if err := CompactionJob(staticSnapshot{snap}, persist, s, nil)(context.Background()); err != nil {
		t.Fatalf("CompactionJob: %v", err)
	}

	got, found, err := persist.LoadSnapshot(context.Background())
	if err != nil || !found {
		t.Fatalf("LoadSnapshot: found=%v err=%v", found, err)
	}
	if got.Relationship != 42 || got.Mood != "calm" {
		t.Errorf("snapshot = %+v", got)
	}
}
