package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gc-lover/necpgame-monorepo-sub002/internal/websocket"
)

// WebSocketHandler upgrades authenticated connections into the hub.
type WebSocketHandler struct {
	hub    *websocket.Hub
	logger *zap.Logger
}

func NewWebSocketHandler(hub *websocket.Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		logger: logger,
	}
}

// HandleWebSocket upgrades the connection for queue notifications.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	playerID, exists := c.Get("playerId")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	websocket.ServeWs(h.hub, c.Writer, c.Request, playerID.(string), h.logger)
}
