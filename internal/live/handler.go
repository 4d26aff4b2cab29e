package live

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/askwhyharsh/familycircle/pkg/logger"
)

type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   logger.Logger
}

func NewHandler(hub *Hub, allowedOrigins []string, log logger.Logger) *Handler {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return allowAll || allowed[r.Header.Get("Origin")]
			},
		},
		logger: log,
	}
}

// HandleWebSocket expects the session middleware to have set "user_id".
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", "user_id", userID, "error", err)
		return
	}

	client := NewClient(h.hub, conn, userID, h.logger)
	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	client.ReadPump()
}
