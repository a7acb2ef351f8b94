package handlers

import (
	"net/http"
	"strconv"
	"time"

	"trading-alerts/api/logger"
	"trading-alerts/api/models"
	"trading-alerts/api/store"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

type createNotificationRequest struct {
	Title     string     `json:"title" binding:"required"`
	Message   string     `json:"message" binding:"required"`
	Type      string     `json:"type"`
	Target    string     `json:"target" binding:"required"`
	Service   string     `json:"service"`
	UserID    string     `json:"user_id"`
	Priority  string     `json:"priority"`
	ActionURL string     `json:"action_url"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func feedFilter(u *models.User, limit int64) store.NotificationFilter {
	now := Now()
	return store.NotificationFilter{
		UserID:   u.ID,
		Services: u.ActiveServices(now),
		IsAdmin:  u.IsAdmin(),
		Now:      now,
		Limit:    limit,
	}
}

func HandleListNotifications(c *gin.Context) {
	user := currentUser(c)
	limit := int64(defaultPageSize)
	if v, err := strconv.ParseInt(c.Query("limit"), 10, 64); err == nil && v > 0 && v <= maxPageSize {
		limit = v
	}
	unreadOnly := c.Query("unread") == "true"

	found, err := Repo.ListNotifications(c.Request.Context(), feedFilter(user, limit))
	if err != nil {
		respondError(c, err, "Failed to list notifications")
		return
	}
	out := make([]models.Notification, 0, len(found))
	unread := 0
	for _, n := range found {
		n.Read = n.IsReadBy(user.ID)
		if !n.Read {
			unread++
		} else if unreadOnly {
			continue
		}
		out = append(out, n)
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out, "unread": unread})
}

func HandleMarkRead(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	user := currentUser(c)
	ctx := c.Request.Context()
	n, err := Repo.GetNotification(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to get notification")
		return
	}
	if !n.VisibleTo(user, Now()) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	if err := Repo.MarkNotificationsRead(ctx, user.ID, []bson.ObjectID{id}); err != nil {
		respondError(c, err, "Failed to mark notification read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func HandleMarkAllRead(c *gin.Context) {
	user := currentUser(c)
	ctx := c.Request.Context()
	found, err := Repo.ListNotifications(ctx, feedFilter(user, 0))
	if err != nil {
		respondError(c, err, "Failed to list notifications")
		return
	}
	var ids []bson.ObjectID
	for _, n := range found {
		if !n.IsReadBy(user.ID) {
			ids = append(ids, n.ID)
		}
	}
	if len(ids) > 0 {
		if err := Repo.MarkNotificationsRead(ctx, user.ID, ids); err != nil {
			respondError(c, err, "Failed to mark notifications read")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "marked": len(ids)})
}

// HandleCreateNotification queues a manual notification from an admin.
func HandleCreateNotification(c *gin.Context) {
	var req createNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	now := Now()
	typ := models.NotificationType(req.Type)
	switch typ {
	case "":
		typ = models.NotificationSystem
	case models.NotificationAlert, models.NotificationReport, models.NotificationTraining,
		models.NotificationSystem, models.NotificationSubscription:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown type " + req.Type})
		return
	}

	var n *models.Notification
	var err error
	if models.NotificationTarget(req.Target) == models.TargetUser {
		uid, perr := bson.ObjectIDFromHex(req.UserID)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		if _, err := Repo.GetUserByID(c.Request.Context(), uid); err != nil {
			respondError(c, err, "Failed to get user")
			return
		}
		n, err = models.NewUserNotification(uid, typ, models.Service(req.Service), req.Title, req.Message, now)
	} else {
		n, err = models.NewNotification(typ, models.NotificationTarget(req.Target), models.Service(req.Service),
			req.Title, req.Message, now)
	}
	if err != nil {
		badRequest(c, err)
		return
	}
	switch req.Priority {
	case "":
	case "low", "medium", "high":
		n.Priority = req.Priority
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown priority " + req.Priority})
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be in the future"})
		return
	}
	n.ActionURL = req.ActionURL
	n.ExpiresAt = req.ExpiresAt

	if err := Repo.CreateNotification(c.Request.Context(), n); err != nil {
		respondError(c, err, "Failed to create notification")
		return
	}
	logger.Get().Info("manual notification queued",
		zap.String("notification_id", n.ID.Hex()),
		zap.String("target", string(n.Target)),
		zap.String("by", currentUser(c).Email))
	c.JSON(http.StatusCreated, n)
}
