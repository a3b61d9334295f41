package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/coder/websocket"
)

// Conn wraps one live websocket connection. Sends go through a buffered
// channel drained by a single writer goroutine; a full buffer drops the
// event rather than blocking a publish (at-most-once delivery).
type Conn struct {
	key    string
	userID int64
	role   string
	ws     *websocket.Conn
	sendCh chan Event
	done   chan struct{}
}

const sendBuffer = 64

func NewConn(key string, userID int64, role string, ws *websocket.Conn) *Conn {
	return &Conn{
		key:    key,
		userID: userID,
		role:   role,
		ws:     ws,
		sendCh: make(chan Event, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Conn) Key() string   { return c.key }
func (c *Conn) UserID() int64 { return c.userID }

// Privileged reports whether the connection may join the admin room.
func (c *Conn) Privileged() bool {
	return c.role == "admin"
}

// TrySend queues the event for delivery, dropping it if the connection
// can't keep up.
func (c *Conn) TrySend(ev Event) {
	select {
	case c.sendCh <- ev:
	case <-c.done:
	default:
		slog.Warn("dropping event for slow connection", "conn", c.key, "event", ev.Event)
	}
}

// WriteLoop drains the send channel onto the socket. Returns when the
// context ends or a write fails.
func (c *Conn) WriteLoop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.sendCh:
			data, err := json.Marshal(ev)
			if err != nil {
				slog.ErrorContext(ctx, "failed to marshal event", "error", err, "event", ev.Event)
				continue
			}
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				slog.DebugContext(ctx, "websocket write failed", "error", err, "conn", c.key)
				return
			}
		}
	}
}

// ClientCommand is a client→server subscription frame.
type ClientCommand struct {
	Action string `json:"action"`
	ID     int64  `json:"id"`
}

// ParseCommand decodes a client frame. Accepts both the numeric id field
// and an "action:id" suffix form for older clients.
func ParseCommand(data []byte) (ClientCommand, error) {
	var cmd ClientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return ClientCommand{}, fmt.Errorf("malformed command frame: %w", err)
	}
	if cmd.ID == 0 {
		if idx := strings.LastIndex(cmd.Action, ":"); idx > 0 {
			if id, err := strconv.ParseInt(cmd.Action[idx+1:], 10, 64); err == nil {
				cmd.ID = id
				cmd.Action = cmd.Action[:idx]
			}
		}
	}
	return cmd, nil
}

// RoomForCommand maps a subscription command to its target room. The
// boolean reports whether the action is a join (true) or leave (false).
func RoomForCommand(cmd ClientCommand) (room string, join bool, err error) {
	switch cmd.Action {
	case "subscribe:repository":
		return RepositoryRoom(cmd.ID), true, nil
	case "unsubscribe:repository":
		return RepositoryRoom(cmd.ID), false, nil
	case "subscribe:pr":
		return PullRequestRoom(cmd.ID), true, nil
	case "unsubscribe:pr":
		return PullRequestRoom(cmd.ID), false, nil
	default:
		return "", false, fmt.Errorf("unknown action %q", cmd.Action)
	}
}
