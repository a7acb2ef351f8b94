package middleware

import (
	"time"

	"trading-alerts/api/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	RequestIDKey    = "request_id"
	RequestIDHeader = "X-Request-ID"
)

func RequestID(c *gin.Context) {
	id := c.GetHeader(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(RequestIDKey, id)
	c.Writer.Header().Set(RequestIDHeader, id)
	c.Next()
}

func AccessLog(c *gin.Context) {
	start := time.Now()
	c.Next()

	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("latency", time.Since(start)),
		zap.String("client_ip", c.ClientIP()),
		zap.String("request_id", c.GetString(RequestIDKey)),
	}
	if len(c.Errors) > 0 {
		fields = append(fields, zap.String("errors", c.Errors.String()))
	}
	switch {
	case c.Writer.Status() >= 500:
		logger.Get().Error("request", fields...)
	case c.Writer.Status() >= 400:
		logger.Get().Warn("request", fields...)
	default:
		logger.Get().Info("request", fields...)
	}
}
