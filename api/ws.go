package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/gridmesh/gridmesh/core/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

type wsEvent struct {
	Type string      `json:"type"`
	At   time.Time   `json:"at"`
	Data types.Event `json:"data"`
}

// handleWebSocket streams core events to a connected client. Slow clients
// are disconnected rather than allowed to back-pressure the bus.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "websocket upgrade failed"})
		return
	}
	defer conn.Close()

	events, cancel := s.coord.Bus().Subscribe()
	defer cancel()

	// Reader goroutine: we never expect client frames, but reading is what
	// surfaces the close handshake.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(wsEvent{Type: ev.EventType(), At: ev.OccurredAt(), Data: ev}); err != nil {
				s.log.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
