package handlers

import (
	"net/http"

	"trading-alerts/api/logger"
	"trading-alerts/api/models"
	"trading-alerts/api/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type preferencesRequest struct {
	Email          *bool  `json:"email"`
	Telegram       *bool  `json:"telegram"`
	TelegramChatID *int64 `json:"telegram_chat_id"`
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

type meResponse struct {
	*models.User
	ActiveServices []models.Service   `json:"active_services"`
	Subscriptions  []subscriptionView `json:"subscriptions"`
}

func newMeResponse(u *models.User) meResponse {
	now := Now()
	services := u.ActiveServices(now)
	if services == nil {
		services = []models.Service{}
	}
	return meResponse{User: u, ActiveServices: services, Subscriptions: subscriptionViews(u, now)}
}

// HandleMe returns the caller's account, recording the login.
func HandleMe(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	user, err := Repo.UpsertUserOnLogin(c.Request.Context(), claims.Email, claims.Name, Now())
	if err != nil {
		respondError(c, err, "Failed to load user")
		return
	}
	c.JSON(http.StatusOK, newMeResponse(user))
}

func HandleUpdatePreferences(c *gin.Context) {
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user := currentUser(c)
	if req.Email != nil {
		user.Preferences.Email = *req.Email
	}
	if req.TelegramChatID != nil {
		if *req.TelegramChatID < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "telegram_chat_id must be a user chat"})
			return
		}
		user.TelegramChatID = *req.TelegramChatID
	}
	if req.Telegram != nil {
		user.Preferences.Telegram = *req.Telegram
	}
	if user.Preferences.Telegram && user.TelegramChatID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "telegram_chat_id is required to enable telegram"})
		return
	}

	user.UpdatedAt = Now()
	if err := Repo.SaveUser(c.Request.Context(), user); err != nil {
		respondError(c, err, "Failed to save preferences")
		return
	}
	c.JSON(http.StatusOK, newMeResponse(user))
}

func HandleListUsers(c *gin.Context) {
	filter := store.UserFilter{Role: models.Role(c.Query("role")), Now: Now()}
	switch filter.Role {
	case "", models.RoleUser, models.RoleAdmin:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role " + string(filter.Role)})
		return
	}
	if raw := c.Query("service"); raw != "" {
		svc, ok := serviceParam(c, raw)
		if !ok {
			return
		}
		filter.ActiveService = svc
	}
	filter.Skip, filter.Limit = pagination(c)

	users, err := Repo.ListUsers(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "Failed to list users")
		return
	}
	if users == nil {
		users = []models.User{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func HandleSetRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	role := models.Role(req.Role)
	if role != models.RoleUser && role != models.RoleAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role " + req.Role})
		return
	}
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	admin := currentUser(c)
	if admin.ID == id && role != models.RoleAdmin {
		c.JSON(http.StatusConflict, gin.H{"error": "admins cannot demote themselves"})
		return
	}

	ctx := c.Request.Context()
	user, err := Repo.GetUserByID(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to get user")
		return
	}
	user.Role = role
	user.UpdatedAt = Now()
	if err := Repo.SaveUser(ctx, user); err != nil {
		respondError(c, err, "Failed to save user")
		return
	}
	logger.Get().Info("user role changed",
		zap.String("user_id", user.ID.Hex()),
		zap.String("role", string(role)),
		zap.String("by", admin.Email))
	c.JSON(http.StatusOK, user)
}
