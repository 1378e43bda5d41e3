package httpapi

import (
	"log/slog"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
)

// handleProgressWS streams sync progress events to a websocket client. A
// fresh subscriber immediately receives the last published event; a slow
// client sees the freshest state, never a backlog.
func (s *Server) handleProgressWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed",
			slog.String("error", err.Error()),
			slog.String("request_id", requestID(c)),
		)

		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed") //nolint:errcheck

	events, cancel := s.engine.Broadcaster().Subscribe()
	defer cancel()

	// CloseRead pumps incoming frames so the context dies when the client
	// goes away; this endpoint never expects client messages.
	ctx := conn.CloseRead(c.Request.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck

			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck

				return
			}

			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}
