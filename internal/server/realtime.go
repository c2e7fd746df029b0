package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/odysseylabs/odyssey/backend/internal/ordering"
	"github.com/odysseylabs/odyssey/backend/internal/room"
	"github.com/odysseylabs/odyssey/backend/internal/slides"
)

const (
	socketWriteWait  = 10 * time.Second
	socketPongWait   = 60 * time.Second
	socketPingPeriod = 30 * time.Second
)

var socketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

type viewFrame struct {
	Type   string            `json:"type"`
	Slides []ordering.Record `json:"slides"`
}

// handleRoomSocket upgrades the connection and streams the access-filtered,
// position-sorted slide view to the client. Credentials arrive as a room
// token in the query string because browsers cannot set websocket headers.
func (h *httpHandler) handleRoomSocket(c *gin.Context) {
	presentationID, err := slides.NewPresentationID(c.Param("presentationId"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	claims, err := h.roomTokens.ValidateRoomToken(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if claims.Room != room.RoomID(presentationID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	_, handle, err := h.hub.Attach(
		c.Request.Context(),
		presentationID,
		slides.UserID(claims.Subject),
		slides.ShareID(claims.ShareID),
	)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	conn, err := socketUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		handle.Close()
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	go h.serveRoomSocket(conn, handle)
}

func (h *httpHandler) serveRoomSocket(conn *websocket.Conn, handle *room.Handle) {
	defer handle.Close()
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(socketPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeViewFrame(conn, handle.CurrentView()); err != nil {
		return
	}

	pings := time.NewTicker(socketPingPeriod)
	defer pings.Stop()

	for {
		select {
		case view := <-handle.Views():
			if err := writeViewFrame(conn, view); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					h.logger.Debug("websocket view write failed", zap.Error(err))
				}
				return
			}
		case <-pings.C:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeViewFrame(conn *websocket.Conn, view []ordering.Record) error {
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return conn.WriteJSON(viewFrame{Type: "view", Slides: view})
}
