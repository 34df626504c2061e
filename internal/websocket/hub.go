package websocket

import (
	"sync"

	"go.uber.org/zap"
)

// Hub tracks connected players and routes queue messages to them.
type Hub struct {
	// playerID -> connection
	clients map[string]*Client
	mu      sync.RWMutex

	broadcast chan *Message

	register   chan *Client
	unregister chan *Client

	logger *zap.Logger
}

// Message is one frame pushed to a player. An empty PlayerID broadcasts to
// every connected client.
type Message struct {
	PlayerID string      `json:"-"`
	Type     string      `json:"type"`
	Payload  interface{} `json:"payload"`
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run processes registration and broadcast traffic until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.routeMessage(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// A reconnect replaces the previous connection
	if oldClient, exists := h.clients[client.playerID]; exists {
		close(oldClient.send)
		h.logger.Info("Replaced existing WebSocket connection",
			zap.String("playerId", client.playerID))
	}

	h.clients[client.playerID] = client
	h.logger.Info("WebSocket client registered",
		zap.String("playerId", client.playerID),
		zap.Int("totalClients", len(h.clients)))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.clients[client.playerID]; exists {
		delete(h.clients, client.playerID)
		close(client.send)
		h.logger.Info("WebSocket client unregistered",
			zap.String("playerId", client.playerID),
			zap.Int("totalClients", len(h.clients)))
	}
}

func (h *Hub) routeMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if message.PlayerID == "" {
		for _, client := range h.clients {
			select {
			case client.send <- message:
			default:
				h.logger.Warn("Client send channel full, unregistering",
					zap.String("playerId", client.playerID))
				go func(c *Client) {
					h.unregister <- c
				}(client)
			}
		}
		return
	}

	if client, exists := h.clients[message.PlayerID]; exists {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("Client send channel full",
				zap.String("playerId", message.PlayerID))
		}
	}
}

// SendToPlayer queues a message for one player without blocking the caller.
// An offline player or a saturated hub drops the message; queue state
// machines never wait on delivery.
func (h *Hub) SendToPlayer(playerID string, msgType string, payload interface{}) {
	msg := &Message{
		PlayerID: playerID,
		Type:     msgType,
		Payload:  payload,
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, dropping message",
			zap.String("playerId", playerID),
			zap.String("type", msgType))
	}
}

// Broadcast queues a message for every connected player.
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	msg := &Message{
		Type:    msgType,
		Payload: payload,
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, dropping broadcast",
			zap.String("type", msgType))
	}
}
