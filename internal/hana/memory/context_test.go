package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/Hana/internal/hana/config"
	"github.com/bdobrica/Hana/internal/hana/nlp"
	"github.com/bdobrica/Hana/internal/hana/state"
	"github.com/bdobrica/Hana/internal/hana/store"
)

type fakeHistory struct {
	msgs []store.HistoryMessage
	err  error
	// lastLimit records the limit of the most recent call.
	lastLimit int
}

func (f *fakeHistory) RecentHistory(_ context.Context, limit int) ([]store.HistoryMessage, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if len(f.msgs) <= limit {
		return f.msgs, nil
	}
	return f.msgs[len(f.msgs)-limit:], nil
}

type fakeFacts struct {
	entries []store.LTMEntry
	err     error
}

func (f *fakeFacts) TopLTM(_ context.Context, n int) ([]store.LTMEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.entries) > n {
		return f.entries[:n], nil
	}
	return f.entries, nil
}

type staticSource struct {
	line string
	ok   bool
}

func (s staticSource) Fetch(context.Context) (string, bool) { return s.line, s.ok }

func testPersona() config.Persona {
	return config.Persona{
		Name:       "Hana",
		BasePrompt: "You are Hana.",
		Personalities: map[string]string{
			"tsundere": "TSUNDERE-BLOCK",
			"deredere": "DEREDERE-BLOCK",
		},
		States: config.StatePrompts{
			Sulking:  "SULK-BLOCK",
			DeepTalk: "DEEP-BLOCK",
			Romance:  "ROMANCE-BLOCK",
		},
	}
}

func historyOf(n int) []store.HistoryMessage {
	msgs := make([]store.HistoryMessage, n)
	for i := range n {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		msgs[i] = store.HistoryMessage{ID: fmt.Sprintf("m%d", i), Role: role, Content: fmt.Sprintf("turn %d", i)}
	}
	return msgs
}

func TestAssemble_TrailingWindowExcludesCurrentMessage(t *testing.T) {
	h := &fakeHistory{msgs: historyOf(10)}
	a := &Assembler{History: h, Persona: testPersona(), HistoryWindow: 4}

	req := a.Assemble(context.Background(), Request{
		Message:   "turn 9",
		MessageID: "m9",
		State:     state.View{Mood: state.MoodNormal},
	})

	if h.lastLimit != 5 {
		t.Errorf("history read limit = %d, want window+1 = 5", h.lastLimit)
	}
	if len(req.History) != 4 {
		t.Fatalf("history turns = %d, want 4", len(req.History))
	}
	want := []string{"turn 5", "turn 6", "turn 7", "turn 8"}
	for i, w := range want {
		if req.History[i].Content != w {
			t.Errorf("History[%d] = %q, want %q", i, req.History[i].Content, w)
		}
	}
	if req.History[0].Role != nlp.RoleAssistant || req.History[1].Role != nlp.RoleUser {
		t.Errorf("roles not mapped: %+v", req.History[:2])
	}
	if req.Message != "turn 9" {
		t.Errorf("Message = %q", req.Message)
	}
}

func TestAssemble_WindowWhenCurrentNotStored(t *testing.T) {
	h := &fakeHistory{msgs: historyOf(10)}
	a := &Assembler{History: h, Persona: testPersona()}

	req := a.Assemble(context.Background(), Request{Message: "new", State: state.View{Mood: state.MoodNormal}})
	if len(req.History) != DefaultHistoryWindow {
		t.Fatalf("history turns = %d, want %d", len(req.History), DefaultHistoryWindow)
	}
	if req.History[3].Content != "turn 9" {
		t.Errorf("newest turn = %q, want turn 9", req.History[3].Content)
	}
}

func TestAssemble_PersonalityBlock(t *testing.T) {
	a := &Assembler{Persona: testPersona()}
	for p, want := range map[state.Personality]string{
		state.Tsundere: "TSUNDERE-BLOCK",
		state.Deredere: "DEREDERE-BLOCK",
	} {
		req := a.Assemble(context.Background(), Request{State: state.View{Personality: p, Mood: state.MoodNormal}})
		if !strings.Contains(req.System, want) {
			t.Errorf("%v: system prompt lacks %q", p, want)
		}
	}
}

func TestAssemble_StateFlagsAndRelationship(t *testing.T) {
	a := &Assembler{Persona: testPersona()}
	req := a.Assemble(context.Background(), Request{State: state.View{
		Mood:                state.MoodAngry,
		Sulking:             true,
		DeepTalk:            true,
		RelationshipEnabled: true,
		Relationship:        120,
	}})
	for _, want := range []string{"SULK-BLOCK", "DEEP-BLOCK", "Ngambek (angry)", "friend (120/1000)"} {
		if !strings.Contains(req.System, want) {
			t.Errorf("system prompt lacks %q:\n%s", want, req.System)
		}
	}
	if strings.Contains(req.System, "ROMANCE-BLOCK") {
		t.Error("romance block present without romance flag")
	}

	hidden := a.Assemble(context.Background(), Request{State: state.View{Mood: state.MoodNormal, Relationship: 120}})
	if strings.Contains(hidden.System, "Relationship") {
		t.Error("relationship shown while disabled")
	}
}

func TestAssemble_FactsAndAmbient(t *testing.T) {
	a := &Assembler{
		Persona: testPersona(),
		Facts: &fakeFacts{entries: []store.LTMEntry{
			{Value: "Owner's name is Dimas", Priority: 90},
			{Value: "Owner likes nasi goreng", Priority: 60},
		}},
		Ambient: []AmbientSource{
			staticSource{line: "Local time: Senin", ok: true},
			staticSource{ok: false},
			staticSource{line: "Weather: 28°C, cerah", ok: true},
		},
		FactLimit: 1,
	}
	req := a.Assemble(context.Background(), Request{
		State: state.View{Mood: state.MoodNormal},
		Image: "a cat sleeping on a keyboard",
	})

	for _, want := range []string{"Owner's name is Dimas", "Local time: Senin", "Weather: 28°C, cerah", "a cat sleeping on a keyboard"} {
		if !strings.Contains(req.System, want) {
			t.Errorf("system prompt lacks %q", want)
		}
	}
	if strings.Contains(req.System, "nasi goreng") {
		t.Error("fact limit not honoured")
	}
}

func TestAssemble_ReadFailuresDegrade(t *testing.T) {
	a := &Assembler{
		History: &fakeHistory{err: errors.New("disk gone")},
		Facts:   &fakeFacts{err: errors.New("disk gone")},
		Persona: testPersona(),
	}
	req := a.Assemble(context.Background(), Request{Message: "hi", State: state.View{Mood: state.MoodNormal}})
	if len(req.History) != 0 {
		t.Errorf("expected no history on read failure, got %d", len(req.History))
	}
	if strings.Contains(req.System, "remember") {
		t.Error("fact block present despite read failure")
	}
	if !strings.HasPrefix(req.System, "You are Hana.") {
		t.Errorf("base prompt missing: %q", req.System)
	}
}

func TestAssemble_TokenBudgetTrimsOldestHistory(t *testing.T) {
	long := strings.Repeat("x", 400) // ~104 tokens with overhead
	h := &fakeHistory{msgs: []store.HistoryMessage{
		{ID: "a", Role: store.RoleUser, Content: long},
		{ID: "b", Role: store.RoleAssistant, Content: long},
		{ID: "c", Role: store.RoleUser, Content: "short"},
	}}
	a := &Assembler{History: h, Persona: testPersona(), MaxTokens: 120}
	req := a.Assemble(context.Background(), Request{State: state.View{Mood: state.MoodNormal}})

	if len(req.History) != 2 {
		t.Fatalf("history turns = %d, want 2 after trimming", len(req.History))
	}
	if req.History[1].Content != "short" {
		t.Errorf("newest turn dropped: %+v", req.History)
	}
}

func TestSleepWindow_Contains(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2026, 3, 10, h, 30, 0, 0, time.UTC) }
	tests := []struct {
		name   string
		window SleepWindow
		hour   int
		want   bool
	}{
		{"default start", SleepWindow{0, 5, time.UTC}, 0, true},
		{"default inside", SleepWindow{0, 5, time.UTC}, 4, true},
		{"default end exclusive", SleepWindow{0, 5, time.UTC}, 5, false},
		{"default evening", SleepWindow{0, 5, time.UTC}, 23, false},
		{"wrapping late", SleepWindow{23, 6, time.UTC}, 23, true},
		{"wrapping early", SleepWindow{23, 6, time.UTC}, 2, true},
		{"wrapping outside", SleepWindow{23, 6, time.UTC}, 12, false},
		{"disabled", SleepWindow{3, 3, time.UTC}, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.window.Contains(at(tt.hour)); got != tt.want {
				t.Errorf("Contains(%02d:30) = %v, want %v", tt.hour, got, tt.want)
			}
		})
	}
}

func TestSleepWindow_UsesLocation(t *testing.T) {
	wib := time.FixedZone("WIB", 7*3600)
	w := SleepWindow{StartHour: 0, EndHour: 5, Location: wib}
	// 18:00 UTC is 01:00 WIB.
	if !w.Contains(time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)) {
		t.Error("expected 01:00 WIB to be inside the sleep window")
	}
}

func TestClockSource(t *testing.T) {
	wib := time.FixedZone("WIB", 7*3600)
	c := ClockSource{Location: wib, Now: func() time.Time { return time.Date(2026, 3, 9, 13, 5, 0, 0, time.UTC) }}
	line, ok := c.Fetch(context.Background())
	if !ok {
		t.Fatal("clock source should always succeed")
	}
	if want := "Local time: Senin, 9 March 2026 20:05 WIB (malam)"; line != want {
		t.Errorf("line = %q, want %q", line, want)
	}
}
