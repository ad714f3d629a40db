package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/bdobrica/Hana/common/trace"
)

type recordingReporter struct {
	mu     sync.Mutex
	errs   []error
	fields []map[string]any
	traces []string
}

func (r *recordingReporter) ReportException(ctx context.Context, err error, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.fields = append(r.fields, fields)
	r.traces = append(r.traces, trace.FromContext(ctx))
}

func newTestScheduler(t *testing.T, rep *recordingReporter) *Scheduler {
	t.Helper()
	s, err := NewScheduler(time.UTC, rep, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestRegister_RejectsInvalidSchedule(t *testing.T) {
	s := newTestScheduler(t, &recordingReporter{})
	noop := func(context.Context) error { return nil }

	if err := s.Register("bad", "every tuesday", noop); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if err := s.Register("ok", "*/5 * * * *", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("ok", "*/5 * * * *", noop); err == nil {
		t.Error("expected error for duplicate name")
	}
}

func TestRunNow_UnknownJob(t *testing.T) {
	s := newTestScheduler(t, &recordingReporter{})
	if err := s.RunNow(context.Background(), "nope"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("err = %v, want ErrUnknownJob", err)
	}
}

func TestRunNow_FailureIsReportedAndCounted(t *testing.T) {
	rep := &recordingReporter{}
	s := newTestScheduler(t, rep)
	boom := errors.New("disk full")
	if err := s.Register(NameLTMCleanup, "30 3 * * *", func(context.Context) error { return boom }); err != nil {
		t.Fatal(err)
	}

	if err := s.RunNow(context.Background(), NameLTMCleanup); !errors.Is(err, boom) {
		t.Fatalf("RunNow err = %v, want %v", err, boom)
	}

	if len(rep.errs) != 1 {
		t.Fatalf("reported %d errors, want 1", len(rep.errs))
	}
	if rep.fields[0]["job"] != NameLTMCleanup {
		t.Errorf("report fields = %v", rep.fields[0])
	}
	if rep.traces[0] == "" {
		t.Error("job context should carry a trace id")
	}

	st := s.Status()
	if len(st) != 1 || st[0].Runs != 1 || st[0].Failures != 1 || st[0].LastError != "disk full" {
		t.Errorf("status = %+v", st)
	}
}

func TestRunNow_PanicIsRecovered(t *testing.T) {
	rep := &recordingReporter{}
	s := newTestScheduler(t, rep)
	if err := s.Register("panicky", "* * * * *", func(context.Context) error { panic("nil map") }); err != nil {
		t.Fatal(err)
	}

	err := s.RunNow(context.Background(), "panicky")
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
	if len(rep.errs) != 1 {
		t.Errorf("reported %d errors, want 1", len(rep.errs))
	}
	if st := s.Status(); st[0].Failures != 1 {
		t.Errorf("failures = %d", st[0].Failures)
	}
}

func TestStatus_NextRunAndOrdering(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 10, 7, 0, 0, time.UTC))
	s, err := newScheduler(time.UTC, &recordingReporter{}, nil, gocron.WithClock(clock))
	if err != nil {
		t.Fatalf("newScheduler: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })

	noop := func(context.Context) error { return nil }
	if err := s.Register(NameSulk, "*/30 * * * *", noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(NameCompaction, "45 4 * * 0", noop); err != nil {
		t.Fatal(err)
	}
	s.Start()
	if err := s.RunNow(context.Background(), NameSulk); err != nil {
		t.Fatal(err)
	}

	var st []Status
	deadline := time.Now().Add(2 * time.Second)
	for {
		st = s.Status()
		if len(st) == 2 && !st[0].NextRun.IsZero() && !st[1].NextRun.IsZero() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("next runs never scheduled: %+v", st)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if st[0].Name != NameCompaction || st[1].Name != NameSulk {
		t.Fatalf("status order = %+v", st)
	}
	if want := time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC); !st[1].NextRun.Equal(want) {
		t.Errorf("sulk next run = %v, want %v", st[1].NextRun, want)
	}
	// 2026-03-10 is a Tuesday; next Sunday is the 15th.
	if want := time.Date(2026, 3, 15, 4, 45, 0, 0, time.UTC); !st[0].NextRun.Equal(want) {
		t.Errorf("compaction next run = %v, want %v", st[0].NextRun, want)
	}
	if st[1].Runs != 1 || st[1].LastError != "" || st[1].LastRun.IsZero() {
		t.Errorf("sulk status = %+v", st[1])
	}
}

func TestStatus_NextRunZeroBeforeStart(t *testing.T) {
	s := newTestScheduler(t, &recordingReporter{})
	if err := s.Register(NameSulk, "*/30 * * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if st := s.Status(); len(st) != 1 || !st[0].NextRun.IsZero() {
		t.Errorf("status before start = %+v", st)
	}
}

func TestRunNow_SerialisesRunsOfSameJob(t *testing.T) {
	s := newTestScheduler(t, &recordingReporter{})
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	job := func(context.Context) error {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}
	if err := s.Register(NameHistoryTrim, "15 * * * *", job); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunNow(context.Background(), NameHistoryTrim)
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("max concurrent runs = %d, want 1", maxSeen)
	}
}
