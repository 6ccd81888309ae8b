package http

import (
	"errors"
	"net/http"
	"strconv"

	"dermabot/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ListSessions returns sessions ordered by last activity
func (h *Handler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	sessions, err := h.dashboardUsecase.ListSessions(c.Request.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// GetSessionHistory returns the transcript of one sender
func (h *Handler) GetSessionHistory(c *gin.Context) {
	sender := c.Param("sender")
	if !ValidSender(sender) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sender"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	session, entries, err := h.dashboardUsecase.SessionHistory(c.Request.Context(), sender, limit)
	if errors.Is(err, usecases.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("sender", sender).Msg("Failed to fetch history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "history": entries})
}

// GetStats returns session, usage and queue statistics
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.dashboardUsecase.Stats(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
