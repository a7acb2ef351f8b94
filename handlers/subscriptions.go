package handlers

import (
	"fmt"
	"net/http"
	"time"

	"trading-alerts/api/billing"
	"trading-alerts/api/logger"
	"trading-alerts/api/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type serviceRequest struct {
	Service string `json:"service" binding:"required"`
}

type grantSubscriptionRequest struct {
	Service string `json:"service" binding:"required"`
	Days    int    `json:"days"`
}

type subscriptionView struct {
	models.Subscription
	Current bool `json:"current"`
}

func subscriptionViews(u *models.User, now time.Time) []subscriptionView {
	out := make([]subscriptionView, 0, len(u.Subscriptions))
	for _, s := range u.Subscriptions {
		out = append(out, subscriptionView{Subscription: s, Current: s.Current(now)})
	}
	return out
}

func HandleListSubscriptions(c *gin.Context) {
	user := currentUser(c)
	now := Now()
	c.JSON(http.StatusOK, gin.H{
		"subscriptions":   subscriptionViews(user, now),
		"active_services": user.ActiveServices(now),
	})
}

// queueUserNotice stores an in-app notice (mailed by the batch job) and
// sends it over Telegram when the user opted in.
func queueUserNotice(c *gin.Context, u *models.User, typ models.NotificationType, service models.Service, title, message string) {
	n, err := models.NewUserNotification(u.ID, typ, service, title, message, Now())
	if err == nil {
		n.ActionURL = "/suscripciones"
		err = Repo.CreateNotification(c.Request.Context(), n)
	}
	if err != nil {
		logger.Get().Error("failed to queue user notification", zap.String("user_id", u.ID.Hex()), zap.Error(err))
		return
	}
	if Notifier != nil {
		Notifier.DirectMessage(u, title+"\n"+message)
	}
}

func HandleStartTrial(c *gin.Context) {
	var req serviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	svc, ok := serviceParam(c, req.Service)
	if !ok {
		return
	}
	user := currentUser(c)
	now := Now()

	sub, err := user.StartTrial(svc, Cfg.TrialDays, now)
	if err != nil {
		respondError(c, err, "Failed to start trial")
		return
	}
	started := *sub
	user.UpdatedAt = now
	if err := Repo.SaveUser(c.Request.Context(), user); err != nil {
		respondError(c, err, "Failed to save subscription")
		return
	}

	logger.Get().Info("trial started", zap.String("user_id", user.ID.Hex()), zap.String("service", string(svc)))
	queueUserNotice(c, user, models.NotificationSubscription, svc,
		fmt.Sprintf("Prueba de %s activada", svc),
		fmt.Sprintf("Tienes acceso a %s hasta el %s.", svc, started.EndDate.Format("02/01/2006")))
	c.JSON(http.StatusCreated, started)
}

func checkoutURLs(path string) (success, cancel string) {
	base := Cfg.FrontendURL + path
	return base + "?checkout=success&session_id={CHECKOUT_SESSION_ID}", base + "?checkout=cancel"
}

func HandleSubscriptionCheckout(c *gin.Context) {
	var req serviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	svc, ok := serviceParam(c, req.Service)
	if !ok {
		return
	}
	user := currentUser(c)
	now := Now()
	for _, s := range user.Subscriptions {
		if s.Service == svc && s.Type == models.SubscriptionFull && s.Current(now) && s.StripeSubscriptionID != "" {
			c.JSON(http.StatusConflict, gin.H{"error": "already subscribed to " + string(svc)})
			return
		}
	}

	success, cancel := checkoutURLs("/suscripciones")
	session, err := Checkout.CreateCheckout(c.Request.Context(), billing.CheckoutRequest{
		Kind:       billing.KindSubscription,
		UserID:     user.ID.Hex(),
		Email:      user.Email,
		CustomerID: user.StripeCustomerID,
		Service:    svc,
		PriceID:    Cfg.StripePrices[string(svc)],
		SuccessURL: success,
		CancelURL:  cancel,
	})
	if err != nil {
		respondError(c, err, "Failed to create checkout session")
		return
	}
	c.JSON(http.StatusOK, session)
}

func HandleGrantSubscription(c *gin.Context) {
	var req grantSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	svc, ok := serviceParam(c, req.Service)
	if !ok {
		return
	}
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	days := req.Days
	if days == 0 {
		days = Cfg.SubscriptionDays
	}
	if days < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be positive"})
		return
	}

	ctx := c.Request.Context()
	user, err := Repo.GetUserByID(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to get user")
		return
	}
	now := Now()
	sub := *user.ExtendFull(svc, days, "", now)
	user.UpdatedAt = now
	if err := Repo.SaveUser(ctx, user); err != nil {
		respondError(c, err, "Failed to save subscription")
		return
	}

	logger.Get().Info("subscription granted",
		zap.String("user_id", user.ID.Hex()),
		zap.String("service", string(svc)),
		zap.Int("days", days),
		zap.String("by", currentUser(c).Email))
	queueUserNotice(c, user, models.NotificationSubscription, svc,
		fmt.Sprintf("Suscripción a %s activada", svc),
		fmt.Sprintf("Tu acceso a %s está activo hasta el %s.", svc, sub.EndDate.Format("02/01/2006")))
	c.JSON(http.StatusOK, gin.H{"subscription": sub, "subscriptions": subscriptionViews(user, now)})
}

func HandleRevokeSubscription(c *gin.Context) {
	svc, ok := serviceParam(c, c.Query("service"))
	if !ok {
		return
	}
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	user, err := Repo.GetUserByID(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to get user")
		return
	}
	now := Now()
	if !user.Revoke(svc, now) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active subscription to " + string(svc)})
		return
	}
	user.UpdatedAt = now
	if err := Repo.SaveUser(ctx, user); err != nil {
		respondError(c, err, "Failed to save subscription")
		return
	}
	logger.Get().Info("subscription revoked",
		zap.String("user_id", user.ID.Hex()),
		zap.String("service", string(svc)),
		zap.String("by", currentUser(c).Email))
	c.JSON(http.StatusOK, gin.H{"subscriptions": subscriptionViews(user, now)})
}
