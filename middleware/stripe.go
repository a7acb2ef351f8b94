package middleware

import (
	"io"
	"net/http"

	"trading-alerts/api/logger"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const (
	StripeEventKey = "stripe_event"

	maxWebhookBody = 1 << 16
)

func StripeWebhookVerifier(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			logger.Get().Warn("failed to read webhook body", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		event, err := webhook.ConstructEventWithOptions(b, c.Request.Header.Get("Stripe-Signature"), secret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			logger.Get().Warn("stripe signature verification failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.Set(StripeEventKey, event)
		c.Next()
	}
}
