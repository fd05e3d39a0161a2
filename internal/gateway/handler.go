// Package gateway terminates client websocket connections and turns their
// frames into space operations.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"spacehub/internal/hub"
	"spacehub/internal/message"
	"spacehub/internal/metrics"
	"spacehub/internal/middleware"
	"spacehub/internal/space"
)

type Handler struct {
	Registry   *space.Registry
	Hub        *hub.Hub
	SendBuffer int
	Logger     zerolog.Logger
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve upgrades an authenticated request. It must run behind
// middleware.RequireAuth.
func (h *Handler) Serve(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	size := h.SendBuffer
	if size <= 0 {
		size = 256
	}
	w := newQueueWriter(ws, size)
	conn := &hub.Connection{
		ID:          uuid.NewString(),
		UserID:      id.UserID,
		SpaceUserID: hub.NewSpaceUserID(),
		Name:        id.Name,
		World:       id.World,
		Tags:        id.Tags,
		Writer:      w,
	}
	h.Hub.Register(conn)
	go w.pump()
	_ = conn.Emit(message.Server{Type: message.TypeWelcome, UserID: conn.SpaceUserID})

	s := newSession(h.Registry, conn, h.Logger)
	s.logger.Info().Msg("connected")
	defer func() {
		s.close()
		h.Hub.Unregister(conn)
		_ = conn.Close()
		s.logger.Info().Msg("disconnected")
	}()

	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}

		var msg message.Client
		if err := json.Unmarshal(data, &msg); err != nil {
			metrics.Dropped(metrics.ReasonDecode)
			_ = conn.Emit(message.Server{Type: message.TypeError, Message: "invalid message"})
			continue
		}
		s.handle(msg)
	}
}
