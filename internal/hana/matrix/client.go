// Package matrix is Hana's chat transport: it syncs the owner room,
// hands owner messages to a handler and sends replies and notices back.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// OwnerRoom is the only room Hana listens and talks in.
	OwnerRoom string
	// OwnerUserID, when set, drops messages from anyone else in the room.
	OwnerUserID string
	// DB persists the sync position across restarts. When nil an in-memory
	// store is used and the backlog is skipped by timestamp instead.
	DB     *sql.DB
	Logger *slog.Logger
}

// Message is an inbound owner message.
type Message struct {
	RoomID  string
	Sender  string
	EventID string
	Text    string
	// Image is the attachment file name (or body) for image messages.
	Image string
	At    time.Time
}

// Handler processes one inbound message.
type Handler func(ctx context.Context, msg Message)

// Client wraps the mautrix client.
type Client struct {
	client  *mautrix.Client
	config  Config
	logger  *slog.Logger
	handler Handler

	// startedAt drops timeline events older than this process when the sync
	// position is not persisted; zero otherwise.
	startedAt time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a client; nothing touches the network until Start.
func New(cfg Config) (*Client, error) {
	if cfg.OwnerRoom == "" {
		return nil, errors.New("matrix: owner room is required")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		client: client,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	if cfg.DB != nil {
		client.Store = NewDBSyncStore(cfg.DB)
		logger.Info("matrix: using persistent sync store")
	} else {
		c.startedAt = time.Now()
		logger.Warn("matrix: no DB configured, sync position is not persisted")
	}
	return c, nil
}

// Start joins the owner room and syncs in the background, reconnecting with
// exponential back-off until Stop.
func (c *Client) Start(ctx context.Context, handler Handler) error {
	c.handler = handler

	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, c.handleMessage)

	if err := c.joinRoom(ctx, id.RoomID(c.config.OwnerRoom)); err != nil {
		return fmt.Errorf("matrix: join owner room %s: %w", c.config.OwnerRoom, err)
	}

	go c.syncLoop()
	return nil
}

func (c *Client) syncLoop() {
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		err := c.client.Sync()
		if err == nil {
			// Only a StopSync ends Sync cleanly.
			return
		}
		select {
		case <-c.stopCh:
			return
		default:
		}
		c.logger.Error("matrix: sync stopped, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-c.stopCh:
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Stop ends syncing. It is safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.client.StopSync()
	})
}

// SendText posts a regular message.
func (c *Client) SendText(ctx context.Context, roomID, message string) error {
	if _, err := c.client.SendText(ctx, id.RoomID(roomID), message); err != nil {
		return fmt.Errorf("matrix: send message: %w", err)
	}
	return nil
}

// SendNotice posts a notice, used for unprompted notifications.
func (c *Client) SendNotice(ctx context.Context, roomID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("matrix: send notice: %w", err)
	}
	return nil
}

// SetTyping shows or clears the typing indicator.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout); err != nil {
		return fmt.Errorf("matrix: set typing: %w", err)
	}
	return nil
}

// OwnerRoom returns the configured room ID.
func (c *Client) OwnerRoom() string { return c.config.OwnerRoom }

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	msg, ok := c.accept(evt)
	if !ok || c.handler == nil {
		return
	}
	c.handler(ctx, msg)
}

// accept filters timeline events down to fresh owner messages in the owner
// room and converts them.
func (c *Client) accept(evt *event.Event) (Message, bool) {
	if evt == nil || evt.Sender == id.UserID(c.config.UserID) {
		return Message{}, false
	}
	if evt.RoomID.String() != c.config.OwnerRoom {
		return Message{}, false
	}
	if c.config.OwnerUserID != "" && evt.Sender.String() != c.config.OwnerUserID {
		return Message{}, false
	}
	at := time.UnixMilli(evt.Timestamp)
	if at.Before(c.startedAt) {
		return Message{}, false
	}

	content := evt.Content.AsMessage()
	if content == nil {
		return Message{}, false
	}
	msg := Message{
		RoomID:  evt.RoomID.String(),
		Sender:  evt.Sender.String(),
		EventID: evt.ID.String(),
		At:      at,
	}
	switch content.MsgType {
	case event.MsgText:
		msg.Text = content.Body
	case event.MsgImage:
		// With a caption, Body holds the caption and FileName the file.
		if content.FileName != "" && content.FileName != content.Body {
			msg.Text = content.Body
			msg.Image = content.FileName
		} else {
			msg.Image = content.Body
		}
	default:
		return Message{}, false
	}
	return msg, true
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// Homeservers answer M_FORBIDDEN when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("matrix: join refused, assuming membership", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
