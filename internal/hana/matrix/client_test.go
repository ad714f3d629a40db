package matrix

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Hana/internal/hana/store"
)

const (
	botUser   = "@hana:example.com"
	ownerUser = "@dimas:example.com"
	ownerRoom = "!owner:example.com"
)

func newTestClient(t *testing.T, ownerOnly bool) *Client {
	t.Helper()
	cfg := Config{
		Homeserver:  "https://matrix.example.com",
		UserID:      botUser,
		AccessToken: "token",
		OwnerRoom:   ownerRoom,
	}
	if ownerOnly {
		cfg.OwnerUserID = ownerUser
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func msgEvent(sender, room string, ts time.Time, content *event.MessageEventContent) *event.Event {
	return &event.Event{
		Sender:    id.UserID(sender),
		RoomID:    id.RoomID(room),
		ID:        id.EventID("$evt"),
		Timestamp: ts.UnixMilli(),
		Type:      event.EventMessage,
		Content:   event.Content{Parsed: content},
	}
}

func TestNew_RequiresOwnerRoom(t *testing.T) {
	if _, err := New(Config{Homeserver: "https://matrix.example.com", UserID: botUser}); err == nil {
		t.Error("expected error without owner room")
	}
}

func TestAccept(t *testing.T) {
	now := time.Now().Add(time.Minute)
	text := &event.MessageEventContent{MsgType: event.MsgText, Body: "halo Hana"}

	tests := []struct {
		name      string
		ownerOnly bool
		evt       *event.Event
		wantOK    bool
		wantText  string
		wantImage string
	}{
		{"owner text", false, msgEvent(ownerUser, ownerRoom, now, text), true, "halo Hana", ""},
		{"own message", false, msgEvent(botUser, ownerRoom, now, text), false, "", ""},
		{"other room", false, msgEvent(ownerUser, "!elsewhere:example.com", now, text), false, "", ""},
		{"stranger allowed", false, msgEvent("@guest:example.com", ownerRoom, now, text), true, "halo Hana", ""},
		{"stranger filtered", true, msgEvent("@guest:example.com", ownerRoom, now, text), false, "", ""},
		{"backlog", false, msgEvent(ownerUser, ownerRoom, now.Add(-time.Hour), text), false, "", ""},
		{"notice ignored", false, msgEvent(ownerUser, ownerRoom, now,
			&event.MessageEventContent{MsgType: event.MsgNotice, Body: "bot talk"}), false, "", ""},
		{"image", false, msgEvent(ownerUser, ownerRoom, now,
			&event.MessageEventContent{MsgType: event.MsgImage, Body: "cat.jpg"}), true, "", "cat.jpg"},
		{"image with caption", false, msgEvent(ownerUser, ownerRoom, now,
			&event.MessageEventContent{MsgType: event.MsgImage, Body: "lucu kan?", FileName: "cat.jpg"}), true, "lucu kan?", "cat.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.ownerOnly)
			msg, ok := c.accept(tt.evt)
			if ok != tt.wantOK {
				t.Fatalf("accept ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if msg.Text != tt.wantText || msg.Image != tt.wantImage {
				t.Errorf("msg = %+v", msg)
			}
			if msg.RoomID != ownerRoom || msg.EventID != "$evt" {
				t.Errorf("msg routing = %+v", msg)
			}
		})
	}
}

func TestHandleMessage_CallsHandler(t *testing.T) {
	c := newTestClient(t, false)
	var got []Message
	c.handler = func(_ context.Context, m Message) { got = append(got, m) }

	c.handleMessage(context.Background(), msgEvent(ownerUser, ownerRoom, time.Now().Add(time.Minute),
		&event.MessageEventContent{MsgType: event.MsgText, Body: "pagi"}))
	c.handleMessage(context.Background(), msgEvent(botUser, ownerRoom, time.Now().Add(time.Minute),
		&event.MessageEventContent{MsgType: event.MsgText, Body: "echo"}))

	if len(got) != 1 || got[0].Text != "pagi" {
		t.Errorf("handled = %+v", got)
	}
}

func TestDBSyncStore_RoundTrip(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "hana.db"), store.Options{})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	ss := NewDBSyncStore(s.DB())
	user := id.UserID(botUser)

	if v, err := ss.LoadNextBatch(ctx, user); err != nil || v != "" {
		t.Fatalf("first LoadNextBatch = %q, %v", v, err)
	}
	if err := ss.SaveFilterID(ctx, user, "filter-1"); err != nil {
		t.Fatal(err)
	}
	if err := ss.SaveNextBatch(ctx, user, "s1_2_3"); err != nil {
		t.Fatal(err)
	}
	if err := ss.SaveNextBatch(ctx, user, "s4_5_6"); err != nil {
		t.Fatal(err)
	}

	if v, _ := ss.LoadFilterID(ctx, user); v != "filter-1" {
		t.Errorf("filter id = %q, saving next_batch must not clobber it", v)
	}
	if v, _ := ss.LoadNextBatch(ctx, user); v != "s4_5_6" {
		t.Errorf("next batch = %q", v)
	}
	if v, _ := ss.LoadNextBatch(ctx, id.UserID("@other:example.com")); v != "" {
		t.Errorf("other user next batch = %q", v)
	}
}
