package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	prdomain "github.com/k95foods/payoutbridge/internal/paymentrequest/domain"
	webhookdomain "github.com/k95foods/payoutbridge/internal/webhook/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Status string       `json:"status"`
	Error  errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Status: "error", Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	case errors.Is(err, webhookdomain.ErrSignatureInvalid):
		return http.StatusUnauthorized, errorPayload{
			Type:    "signature_invalid",
			Message: "webhook signature verification failed",
		}
	case errors.Is(err, webhookdomain.ErrTimestampExpired):
		return http.StatusUnauthorized, errorPayload{
			Type:    "timestamp_expired",
			Message: "webhook timestamp outside the accepted window",
		}
	case errors.Is(err, webhookdomain.ErrMalformedPayload):
		return http.StatusBadRequest, errorPayload{
			Type:    "malformed_payload",
			Message: "payload could not be parsed",
		}
	case errors.Is(err, webhookdomain.ErrReferenceNotFound),
		errors.Is(err, prdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "no payment request matches the transfer",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog maps pipeline errors to the type/code pair attached
// to request log lines.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status == http.StatusUnauthorized:
		return "auth", payload.Type
	case status >= http.StatusInternalServerError:
		return "internal", payload.Type
	default:
		return "request", payload.Type
	}
}
