package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gc-lover/necpgame-monorepo-sub002/internal/service"
)

// MatchmakingHandler serves the queue, ready check, and lock endpoints.
type MatchmakingHandler struct {
	queue      *service.QueueService
	readyCheck *service.ReadyCheckService
}

func NewMatchmakingHandler(queue *service.QueueService, readyCheck *service.ReadyCheckService) *MatchmakingHandler {
	return &MatchmakingHandler{
		queue:      queue,
		readyCheck: readyCheck,
	}
}

type createTicketRequest struct {
	PartyIDs []string `json:"partyIds"`
	Mode     string   `json:"mode" binding:"required"`
	Region   string   `json:"region"`
}

// CreateTicket enqueues the calling player's party.
func (h *MatchmakingHandler) CreateTicket(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	// A solo caller may omit the party list
	if len(req.PartyIDs) == 0 {
		playerID, exists := c.Get("playerId")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		req.PartyIDs = []string{playerID.(string)}
	}

	ticket, err := h.queue.Enqueue(&service.EnqueueRequest{
		PartyIDs: req.PartyIDs,
		Mode:     req.Mode,
		Region:   req.Region,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, ticket)
}

// CancelTicket withdraws a searching ticket.
func (h *MatchmakingHandler) CancelTicket(c *gin.Context) {
	ticketID := c.Param("id")

	if err := h.queue.Cancel(ticketID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ticketId": ticketID, "status": "CANCELLED"})
}

type readyResponseRequest struct {
	TicketID string `json:"ticketId" binding:"required"`
	Accept   *bool  `json:"accept" binding:"required"`
}

// RespondReadyCheck records a party's accept or decline.
func (h *MatchmakingHandler) RespondReadyCheck(c *gin.Context) {
	checkID := c.Param("id")

	var req readyResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	state, err := h.readyCheck.Respond(checkID, req.TicketID, *req.Accept)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// GetReadyCheck returns the current state of a ready check.
func (h *MatchmakingHandler) GetReadyCheck(c *gin.Context) {
	state, err := h.readyCheck.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// LockMatch triggers resource reservation for a readied match.
func (h *MatchmakingHandler) LockMatch(c *gin.Context) {
	result, err := h.readyCheck.LockMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetLockResult returns the recorded lock outcome for a match.
func (h *MatchmakingHandler) GetLockResult(c *gin.Context) {
	result, err := h.readyCheck.LockResult(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// QueueStatus reports live ticket counts per mode.
func (h *MatchmakingHandler) QueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queues": h.queue.QueueStatus()})
}
