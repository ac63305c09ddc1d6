package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	webhookdomain "github.com/k95foods/payoutbridge/internal/webhook/domain"
)

// HandlePayoutWebhook receives payout transfer callbacks from the gateway.
// Deliveries that fail authentication or parsing surface as HTTP errors so
// the gateway retries; settlement-level problems answer 200 with a result
// envelope describing the outcome.
func (s *Server) HandlePayoutWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookdomain.MaxPayloadBytes+1))
	if err != nil {
		AbortWithError(c, webhookdomain.ErrMalformedPayload)
		return
	}

	result, err := s.webhookSvc.HandlePayoutWebhook(
		c.Request.Context(), body, c.ContentType(), c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
