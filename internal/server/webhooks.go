package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"github.com/smallbiznis/orderbilling/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBody        = 512 << 10
)

func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	event, err := s.verifier.ConstructEvent(payload, c.GetHeader(stripeSignatureHeader))
	if err != nil {
		if !errors.Is(err, domain.ErrSignatureVerification) {
			err = errors.Join(domain.ErrSignatureVerification, err)
		}
		AbortWithError(c, err)
		return
	}

	if err := s.billingSvc.ProcessWebhook(c.Request.Context(), event, payload); err != nil {
		logger.FromContext(c.Request.Context()).Warn("webhook acknowledged with error",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
