package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/Hana/internal/hana/conversation"
	"github.com/bdobrica/Hana/internal/hana/jobs"
	"github.com/bdobrica/Hana/internal/hana/matrix"
	"github.com/bdobrica/Hana/internal/hana/nlp"
	"github.com/bdobrica/Hana/internal/hana/report"
	"github.com/bdobrica/Hana/internal/hana/state"
	"github.com/bdobrica/Hana/internal/hana/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeResponder struct {
	reply conversation.Reply
	got   []conversation.Inbound
}

func (f *fakeResponder) Respond(_ context.Context, in conversation.Inbound) conversation.Reply {
	f.got = append(f.got, in)
	return f.reply
}

type fakeChat struct {
	mu     sync.Mutex
	fail   bool
	typing []bool
	sent   []string
	sends  int
}

func (f *fakeChat) SendText(_ context.Context, _ string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if f.fail {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeChat) SetTyping(_ context.Context, _ string, typing bool, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typing)
	return nil
}

type recordingReporter struct {
	fields []map[string]any
}

func (r *recordingReporter) ReportException(_ context.Context, _ error, fields map[string]any) {
	r.fields = append(r.fields, fields)
}

var _ report.Reporter = (*recordingReporter)(nil)

func testApp(engine responder, c chat, rep report.Reporter) *App {
	return &App{
		logger:   quiet,
		reporter: rep,
		engine:   engine,
		chat:     c,
		retry:    fastRetry(),
		now:      time.Now,
	}
}

func TestHandleMessage_DeliversReply(t *testing.T) {
	engine := &fakeResponder{reply: conversation.Reply{Text: "Halo juga!", Outcome: conversation.OutcomeReply}}
	c := &fakeChat{}
	a := testApp(engine, c, &recordingReporter{})

	a.handleMessage(context.Background(), matrix.Message{
		RoomID: "!r", Sender: "@owner:example.org", EventID: "$1", Text: "halo", Image: "cat.jpg",
	})

	if len(engine.got) != 1 {
		t.Fatalf("Respond called %d times, want 1", len(engine.got))
	}
	in := engine.got[0]
	if in.RequesterID != "@owner:example.org" || in.Text != "halo" || in.Image != "cat.jpg" {
		t.Errorf("inbound = %+v", in)
	}
	if len(c.sent) != 1 || c.sent[0] != "Halo juga!" {
		t.Errorf("sent = %q", c.sent)
	}
	if len(c.typing) != 2 || !c.typing[0] || c.typing[1] {
		t.Errorf("typing = %v, want [true false]", c.typing)
	}
}

func TestHandleMessage_EmptyReplyNotSent(t *testing.T) {
	c := &fakeChat{}
	a := testApp(&fakeResponder{}, c, &recordingReporter{})

	a.handleMessage(context.Background(), matrix.Message{RoomID: "!r", Text: "halo"})

	if c.sends != 0 {
		t.Errorf("sends = %d, want 0", c.sends)
	}
}

func TestHandleMessage_UndeliveredReplyIsReported(t *testing.T) {
	c := &fakeChat{fail: true}
	rep := &recordingReporter{}
	a := testApp(&fakeResponder{reply: conversation.Reply{Text: "hai", Outcome: conversation.OutcomeCached}}, c, rep)

	a.handleMessage(context.Background(), matrix.Message{RoomID: "!r", Text: "halo"})

	if c.sends != 3 {
		t.Errorf("sends = %d, want 3 attempts", c.sends)
	}
	if len(rep.fields) != 1 {
		t.Fatalf("reports = %d, want 1", len(rep.fields))
	}
	if rep.fields[0]["stage"] != "send_reply" || rep.fields[0]["outcome"] != "cached" {
		t.Errorf("fields = %v", rep.fields[0])
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	s, err := store.New(filepath.Join(t.TempDir(), "hana.db"), store.Options{Logger: quiet})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer s.Close()
	if _, err := s.AppendHistory(ctx, store.HistoryMessage{Role: store.RoleUser, Content: "halo"}); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	m := state.New(state.Config{Features: state.Features{Relationship: true}, Location: time.UTC, Logger: quiet}, nil)
	defer m.Close()
	m.RecordInteraction(ctx, now)
	m.RecordInteraction(ctx, now.Add(time.Minute))

	cache, err := nlp.NewResponseCache(10, nil)
	if err != nil {
		t.Fatalf("NewResponseCache: %v", err)
	}
	cache.Store("fp", "reply")

	sched, err := jobs.NewScheduler(time.UTC, report.LogReporter{Logger: quiet}, quiet)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if err := sched.Register(jobs.NameSulk, "*/30 * * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Register: %v", err)
	}

	a := &App{
		logger:    quiet,
		store:     s,
		machine:   m,
		cache:     cache,
		scheduler: sched,
		now:       func() time.Time { return now.Add(2 * time.Minute) },
	}
	rs := a.Status(ctx)

	if rs.Mood != state.MoodNormal.Key || rs.Personality != state.Tsundere.Key() {
		t.Errorf("mood/personality = %q/%q", rs.Mood, rs.Personality)
	}
	if rs.TodayCount != 2 {
		t.Errorf("TodayCount = %d, want 2", rs.TodayCount)
	}
	if rs.Relationship == nil || *rs.Relationship != 2 || rs.RelationshipLevel != "stranger" {
		t.Errorf("relationship = %v %q", rs.Relationship, rs.RelationshipLevel)
	}
	if rs.LastInteraction == nil || !rs.LastInteraction.Equal(now.Add(time.Minute)) {
		t.Errorf("LastInteraction = %v", rs.LastInteraction)
	}
	if rs.CacheSize != 1 {
		t.Errorf("CacheSize = %d, want 1", rs.CacheSize)
	}
	if rs.Store == nil || rs.Store.HistoryMessages != 1 {
		t.Errorf("Store = %+v", rs.Store)
	}
	if len(rs.Jobs) != 1 || rs.Jobs[0].Name != jobs.NameSulk {
		t.Errorf("Jobs = %+v", rs.Jobs)
	}
}

func TestStatus_RelationshipDisabled(t *testing.T) {
	m := state.New(state.Config{Location: time.UTC, Logger: quiet}, nil)
	defer m.Close()
	a := &App{logger: quiet, machine: m, now: time.Now}

	rs := a.Status(context.Background())
	if rs.Relationship != nil || rs.RelationshipLevel != "" {
		t.Errorf("relationship should be hidden, got %v %q", rs.Relationship, rs.RelationshipLevel)
	}
	if rs.Jobs == nil {
		t.Error("Jobs should be an empty list, not null")
	}
}
