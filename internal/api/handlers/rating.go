package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gc-lover/necpgame-monorepo-sub002/internal/models"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/service"
)

// RatingHandler serves match result application and placement queries.
type RatingHandler struct {
	ratings *service.RatingService
}

func NewRatingHandler(ratings *service.RatingService) *RatingHandler {
	return &RatingHandler{ratings: ratings}
}

type matchResultRequest struct {
	WinningTeam *int                 `json:"winningTeam"`
	Teams       []models.TeamOutcome `json:"teams"`
}

// ApplyMatchResult resolves a locked match and applies rating deltas.
func (h *RatingHandler) ApplyMatchResult(c *gin.Context) {
	matchID := c.Param("id")

	var req matchResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	results, err := h.ratings.ApplyMatchResult(matchID, &models.MatchOutcome{
		MatchID:     matchID,
		WinningTeam: req.WinningTeam,
		Teams:       req.Teams,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"matchId": matchID,
		"deltas":  results,
	})
}

// GetPlacement returns a player's placement progress.
func (h *RatingHandler) GetPlacement(c *gin.Context) {
	status, err := h.ratings.PlacementStatus(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// GetRating returns a player's full rating record.
func (h *RatingHandler) GetRating(c *gin.Context) {
	record, err := h.ratings.Record(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}
