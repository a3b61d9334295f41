package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aakashsharma7/code-reviewer/common/logger"
)

// Room naming is the only addressing scheme the fanout layer has.
const AdminRoom = "admin"

func UserRoom(userID int64) string       { return fmt.Sprintf("user:%d", userID) }
func RepositoryRoom(repoID int64) string { return fmt.Sprintf("repository:%d", repoID) }
func PullRequestRoom(prID int64) string  { return fmt.Sprintf("pr:%d", prID) }

// Event is one named server→client message.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// member is the slice of a connection the hub needs: a non-blocking send.
type member interface {
	TrySend(ev Event)
	Key() string
}

// Hub holds room membership for live connections. Rooms are created
// lazily on first join and garbage-collected when empty. Membership is
// the only mutable per-connection state the fanout manages, it lives
// entirely in memory, and it is discarded on disconnect - there is no
// persistent subscription registry.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[string]member
	// joined tracks a connection's rooms so Disconnect needs no scan.
	joined map[string]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]member),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join adds the connection to room. Idempotent: joining a room twice is
// a no-op, not an error.
func (h *Hub) Join(m member, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]member)
	}
	h.rooms[room][m.Key()] = m

	if h.joined[m.Key()] == nil {
		h.joined[m.Key()] = make(map[string]struct{})
	}
	h.joined[m.Key()][room] = struct{}{}
}

// Leave removes the connection from room. Leaving a room never joined is
// a no-op.
func (h *Hub) Leave(m member, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(m.Key(), room)
}

// Disconnect removes the connection from every room it joined.
func (h *Hub) Disconnect(m member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range h.joined[m.Key()] {
		h.leaveLocked(m.Key(), room)
	}
	delete(h.joined, m.Key())
}

func (h *Hub) leaveLocked(key, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, key)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if joined, ok := h.joined[key]; ok {
		delete(joined, room)
	}
}

// Publish delivers the event to every connection currently joined to
// room - at-most-once, best-effort. Zero members is a no-op; events are
// never buffered for later delivery. The membership snapshot is taken
// atomically so concurrent joins and leaves cannot race the send.
func (h *Hub) Publish(ctx context.Context, room, event string, payload any) {
	h.mu.Lock()
	members := make([]member, 0, len(h.rooms[room]))
	for _, m := range h.rooms[room] {
		members = append(members, m)
	}
	h.mu.Unlock()

	if len(members) == 0 {
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Room:      logger.Ptr(room),
		Component: "reviewer.realtime.hub",
	})
	slog.DebugContext(ctx, "publishing to room", "event", event, "members", len(members))

	ev := Event{Event: event, Data: payload}
	for _, m := range members {
		m.TrySend(ev)
	}
}

// RoomSize reports current membership, for tests and admin introspection.
func (h *Hub) RoomSize(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}
