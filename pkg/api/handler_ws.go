package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is origin-open (see the CORS setup); the socket carries only
	// events the REST surface exposes anyway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocketHandler handles GET /ws: upgrades and hands the socket to the
// connection manager. Blocks for the life of the connection.
func (s *Server) websocketHandler(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the failure response.
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	s.ws.HandleConnection(c.Request.Context(), conn)
}
