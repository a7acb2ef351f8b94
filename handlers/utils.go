package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"trading-alerts/api/logger"
	"trading-alerts/api/middleware"
	"trading-alerts/api/models"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// respondError maps domain sentinels to status codes. Anything unexpected is
// logged and reported as a 500 with msg.
func respondError(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, models.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrSubscriptionRequired):
		status = http.StatusPaymentRequired
	}
	if status == http.StatusInternalServerError {
		logger.Get().Error(msg,
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Error(err))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// currentUser returns the account loaded by middleware.Account.
func currentUser(c *gin.Context) *models.User {
	user, ok := c.Get(middleware.AccountKey)
	if !ok {
		return nil
	}
	u, _ := user.(*models.User)
	return u
}

func currentClaims(c *gin.Context) *models.AuthClaims {
	claims, _ := c.Get(middleware.ClaimsKey)
	ac, _ := claims.(*models.AuthClaims)
	return ac
}

func objectIDParam(c *gin.Context, name string) (bson.ObjectID, bool) {
	id, err := bson.ObjectIDFromHex(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return bson.NilObjectID, false
	}
	return id, true
}

func serviceParam(c *gin.Context, raw string) (models.Service, bool) {
	svc, err := models.ParseService(raw)
	if err != nil {
		badRequest(c, err)
		return "", false
	}
	return svc, true
}

// pagination reads page (1-based) and limit query parameters.
func pagination(c *gin.Context) (skip, limit int64) {
	limit = defaultPageSize
	if v, err := strconv.ParseInt(c.Query("limit"), 10, 64); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	page := int64(1)
	if v, err := strconv.ParseInt(c.Query("page"), 10, 64); err == nil && v > 1 {
		page = v
	}
	return (page - 1) * limit, limit
}

func requireAccess(c *gin.Context, u *models.User, service models.Service) bool {
	if u.CanAccess(service, Now()) {
		return true
	}
	c.JSON(http.StatusPaymentRequired, gin.H{"error": "an active " + string(service) + " subscription is required"})
	return false
}
