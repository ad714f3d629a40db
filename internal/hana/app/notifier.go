package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/bdobrica/Hana/common/retry"
	"github.com/bdobrica/Hana/internal/hana/config"
	"github.com/bdobrica/Hana/internal/hana/state"
)

// NoticeSender posts a notice to a room.
type NoticeSender interface {
	SendNotice(ctx context.Context, roomID, message string) error
}

// RoomNotifier tells the owner about sulk transitions with a persona phrase
// posted as a Matrix notice.
type RoomNotifier struct {
	Sender  NoticeSender
	RoomID  string
	Persona config.Persona
	Rand    func(n int) int
	Retry   retry.Config
	Logger  *slog.Logger
}

var _ state.Notifier = (*RoomNotifier)(nil)

// Notify sends the phrase for n.Kind. Kinds without phrases are skipped.
func (r *RoomNotifier) Notify(ctx context.Context, n state.Notification) error {
	var options []string
	switch n.Kind {
	case state.NotifySulkStarted:
		options = r.Persona.Notifications.SulkStarted
	case state.NotifySulkEnded:
		options = r.Persona.Notifications.SulkEnded
	}
	pick := r.Rand
	if pick == nil {
		pick = rand.IntN
	}
	text := config.Pick(options, pick)
	if text == "" || r.RoomID == "" {
		return nil
	}
	if n.Kind == state.NotifySulkEnded && n.Mood.Glyph != "" {
		text = n.Mood.Glyph + " " + text
	}

	err := retry.Do(ctx, r.Retry, func(ctx context.Context) error {
		return r.Sender.SendNotice(ctx, r.RoomID, text)
	})
	if err != nil {
		return fmt.Errorf("app: send %s notice: %w", n.Kind, err)
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("app: notified owner", "kind", n.Kind, "room", r.RoomID)
	return nil
}
