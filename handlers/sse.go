package handlers

import (
	"io"
	"net/http"
	"time"

	"trading-alerts/api/logger"
	"trading-alerts/api/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	streamBuffer    = 32
	streamKeepalive = 25 * time.Second
)

// HandleAlertStream streams alert events for the services the caller can see.
// EventSource cannot set headers, so the token arrives as a query parameter.
func HandleAlertStream(c *gin.Context) {
	user := currentUser(c)
	services := user.ActiveServices(Now())
	if user.IsAdmin() {
		services = models.Services
	}
	if len(services) == 0 {
		respondError(c, models.ErrSubscriptionRequired, "")
		return
	}
	if _, ok := c.Writer.(http.Flusher); !ok {
		c.String(http.StatusInternalServerError, "Streaming unsupported!")
		return
	}

	clientID := uuid.NewString()
	stream := Hub.Register(clientID, user.ID.Hex(), services, streamBuffer)
	log := logger.Get().With(zap.String("client_id", clientID), zap.String("user_id", user.ID.Hex()))
	log.Info("SSE client connected", zap.Int("clients", Hub.Count()))
	defer func() {
		Hub.Unregister(clientID)
		log.Info("SSE client disconnected")
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"services": services})
	c.Writer.Flush()

	ticker := time.NewTicker(streamKeepalive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-stream.Messages:
			if !ok {
				return false
			}
			c.SSEvent("alert", msg)
			return true
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return false
			}
			return true
		case <-c.Request.Context().Done():
			return false
		case <-stream.Done:
			return false
		}
	})
}
