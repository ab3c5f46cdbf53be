// Package matrix adapts a Matrix homeserver connection to the router's
// inbound/outbound channel contract. Grounded on Ruriko's
// internal/ruriko/matrix.Client: same mautrix client setup, same
// exponential-backoff sync loop, same admin-room allowlist — narrowed here
// to the single Send/Inbound shape the router needs instead of the
// Ruriko's broader command-reply surface.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds the settings needed to connect to a homeserver and bound
// which rooms AX will accept commands from.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms is the allowlist of room IDs AX will join and accept inbound
	// messages from. A message from any other room is ignored entirely —
	// Matrix has no notion of a private DM-only bot, so this allowlist is
	// the only thing standing between "bot in one room" and "bot anyone in
	// the homeserver's public rooms can address".
	Rooms []string
}

// InboundFunc is called for every text message AX receives from an
// allowlisted room. sessionID is derived from the room ID so each room
// gets its own session.
type InboundFunc func(ctx context.Context, sessionID, sender, content string)

// Channel implements router.Channel over a live Matrix connection.
type Channel struct {
	client   *mautrix.Client
	cfg      Config
	stopCh   chan struct{}
	inbound  InboundFunc
	sessions map[string]string // sessionID -> room ID, for Send's reverse lookup
}

// New connects a Matrix client using the given access token. It does not
// start syncing until Start is called.
func New(cfg Config) (*Channel, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	sessions := make(map[string]string, len(cfg.Rooms))
	for _, room := range cfg.Rooms {
		sessions[SessionID(room)] = room
	}
	return &Channel{
		client:   client,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		sessions: sessions,
	}, nil
}

// SessionID maps a Matrix room ID to the session identifier the router
// and session store use, so every message from the same room lands in the
// same conversation.
func SessionID(roomID string) string {
	return "matrix:" + roomID
}

// Start joins every allowlisted room and begins syncing in the background.
// inbound is invoked for each accepted text message; Start does not block.
func (c *Channel) Start(ctx context.Context, inbound InboundFunc) error {
	c.inbound = inbound

	// NOTE: no end-to-end encryption. Messages transit the homeserver in
	// plaintext, same limitation as Ruriko's client.
	slog.Warn("matrix: end-to-end encryption is not enabled; messages are sent in plaintext")

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleEvent)

	for _, room := range c.cfg.Rooms {
		if err := c.joinRoom(id.RoomID(room)); err != nil {
			return fmt.Errorf("matrix: join room %s: %w", room, err)
		}
	}

	go c.syncLoop()
	return nil
}

// Stop ends the sync loop.
func (c *Channel) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

func (c *Channel) syncLoop() {
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		if err := c.client.Sync(); err != nil {
			select {
			case <-c.stopCh:
				return
			default:
			}
			slog.Error("matrix: sync stopped, reconnecting", "err", err, "backoff", backoff)
			select {
			case <-c.stopCh:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}
		return
	}
}

func (c *Channel) joinRoom(roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(context.Background(), roomID)
	if err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}

func (c *Channel) roomAllowed(roomID string) bool {
	for _, r := range c.cfg.Rooms {
		if r == roomID {
			return true
		}
	}
	return false
}

func (c *Channel) handleEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.cfg.UserID) {
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return
	}
	roomID := evt.RoomID.String()
	if !c.roomAllowed(roomID) {
		return
	}
	if c.inbound != nil {
		c.inbound(ctx, SessionID(roomID), evt.Sender.String(), msg.Body)
	}
}

// Send implements router.Channel: text is delivered to the room the
// session ID was derived from.
func (c *Channel) Send(ctx context.Context, sessionID, text string) error {
	roomID, ok := c.sessions[sessionID]
	if !ok {
		return fmt.Errorf("matrix: unknown session %q", sessionID)
	}
	_, err := c.client.SendText(ctx, id.RoomID(roomID), text)
	if err != nil {
		return fmt.Errorf("matrix: send to %s: %w", roomID, err)
	}
	return nil
}
