package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/orderbilling/internal/billing/domain"
)

func (s *Server) GetStats(c *gin.Context) {
	stats, err := s.billingSvc.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (s *Server) ListWebhookEvents(c *gin.Context) {
	failed, err := parseOptionalBool(c.Query("failed"))
	if err != nil {
		AbortWithError(c, newValidationError("failed", "invalid_failed", "invalid failed"))
		return
	}
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	req := domain.ListWebhookEventsRequest{}
	if failed != nil {
		req.OnlyFailed = *failed
	}
	if limit != nil {
		req.Limit = *limit
	}

	events, err := s.billingSvc.ListWebhookEvents(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}
