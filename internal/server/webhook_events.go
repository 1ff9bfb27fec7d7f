package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
)

const (
	defaultEventListLimit = 50
	maxEventListLimit     = 500
)

type reprocessRequest struct {
	EventID json.Number `json:"event_id"`
}

func (s *Server) ListWebhookEvents(c *gin.Context) {
	var query struct {
		Processed string `form:"processed"`
		Provider  string `form:"provider"`
		Limit     string `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	filter := paymentdomain.ListEventsFilter{
		Provider: strings.TrimSpace(query.Provider),
		Limit:    defaultEventListLimit,
	}
	if raw := strings.TrimSpace(query.Processed); raw != "" {
		processed, err := strconv.ParseBool(raw)
		if err != nil {
			AbortWithError(c, newValidationError("processed", "invalid_processed", "invalid processed"))
			return
		}
		filter.Processed = &processed
	}
	if raw := strings.TrimSpace(query.Limit); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
			return
		}
		filter.Limit = min(limit, maxEventListLimit)
	}

	events, err := s.reprocessor.ListEvents(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": events})
}

// ReprocessWebhookEvent accepts the event id either as a path parameter or
// as {"event_id": ...} in the body.
func (s *Server) ReprocessWebhookEvent(c *gin.Context) {
	raw := strings.TrimSpace(c.Param("id"))
	if raw == "" {
		var req reprocessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		raw = strings.TrimSpace(req.EventID.String())
	}

	eventID, err := snowflake.ParseString(raw)
	if err != nil || eventID <= 0 {
		AbortWithError(c, newValidationError("event_id", "invalid_event_id", "invalid event id"))
		return
	}

	outcome, err := s.reprocessor.Reprocess(c.Request.Context(), eventID)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, paymentdomain.Outcome{Success: false, Message: "event not found"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.Set("webhook_event_id", eventID.String())
	c.JSON(http.StatusOK, outcome)
}
