package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/aakashsharma7/code-reviewer/common/id"
	"github.com/aakashsharma7/code-reviewer/internal/realtime"
	"github.com/aakashsharma7/code-reviewer/internal/service"
)

type WSHandler struct {
	hub      *realtime.Hub
	verifier service.IdentityVerifier
}

func NewWSHandler(hub *realtime.Hub, verifier service.IdentityVerifier) *WSHandler {
	return &WSHandler{hub: hub, verifier: verifier}
}

// Connect handles GET /api/v1/ws. The bearer credential is verified once
// at handshake; afterwards the connection only narrows or widens its room
// membership via subscription frames.
func (h *WSHandler) Connect(c *gin.Context) {
	ctx := c.Request.Context()

	identity, err := h.verifier.Verify(ctx, bearerToken(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
		return
	}

	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.WarnContext(ctx, "websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "closing")

	conn := realtime.NewConn(strconv.FormatInt(id.New(), 10), identity.UserID, identity.Role, ws)
	defer h.hub.Disconnect(conn)

	// Every connection lands in its user room; operators also join admin.
	if identity.UserID != 0 {
		h.hub.Join(conn, realtime.UserRoom(identity.UserID))
	}
	if conn.Privileged() {
		h.hub.Join(conn, realtime.AdminRoom)
	}

	slog.InfoContext(ctx, "websocket connected",
		"conn", conn.Key(),
		"user_id", identity.UserID,
		"role", identity.Role,
	)

	go conn.WriteLoop(ctx)
	conn.TrySend(realtime.Event{Event: "connected"})

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			slog.DebugContext(ctx, "websocket closed", "conn", conn.Key(), "error", err)
			return
		}

		cmd, err := realtime.ParseCommand(data)
		if err != nil {
			conn.TrySend(realtime.Event{Event: "error", Data: gin.H{"message": "malformed command"}})
			continue
		}

		room, join, err := realtime.RoomForCommand(cmd)
		if err != nil {
			conn.TrySend(realtime.Event{Event: "error", Data: gin.H{"message": err.Error()}})
			continue
		}

		if join {
			h.hub.Join(conn, room)
		} else {
			h.hub.Leave(conn, room)
		}
		conn.TrySend(realtime.Event{Event: "subscribed", Data: gin.H{"room": room, "joined": join}})
	}
}

// bearerToken pulls the credential from the Authorization header or,
// for browser clients that cannot set headers on a websocket handshake,
// the token query parameter.
func bearerToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.Query("token")
}
