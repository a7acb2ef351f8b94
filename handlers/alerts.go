package handlers

import (
	"context"
	"errors"
	"net/http"

	"trading-alerts/api/liquidity"
	"trading-alerts/api/logger"
	"trading-alerts/api/models"
	"trading-alerts/api/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createAlertRequest struct {
	Symbol     string  `json:"symbol" binding:"required"`
	Action     string  `json:"action" binding:"required"`
	Service    string  `json:"service" binding:"required"`
	EntryPrice float64 `json:"entry_price" binding:"required"`
	StopLoss   float64 `json:"stop_loss" binding:"required"`
	TakeProfit float64 `json:"take_profit" binding:"required"`
	Analysis   string  `json:"analysis"`
	// LiquidityPercentage optionally allocates part of the service pool.
	LiquidityPercentage float64 `json:"liquidity_percentage"`
}

type updateAlertRequest struct {
	StopLoss     *float64 `json:"stop_loss"`
	TakeProfit   *float64 `json:"take_profit"`
	Analysis     *string  `json:"analysis"`
	CurrentPrice *float64 `json:"current_price"`
}

type priceRequest struct {
	Price float64 `json:"price" binding:"required"`
}

type closeAlertRequest struct {
	ExitPrice float64 `json:"exit_price" binding:"required"`
	Reason    string  `json:"reason"`
}

type discardAlertRequest struct {
	Reason string `json:"reason"`
}

type partialSaleRequest struct {
	Percentage float64 `json:"percentage" binding:"required"`
	Price      float64 `json:"price" binding:"required"`
	Notes      string  `json:"notes"`
}

// HandleListAlerts lists alerts of one service, or of every service the
// caller can access when none is given.
func HandleListAlerts(c *gin.Context) {
	user := currentUser(c)
	now := Now()

	filter := store.AlertFilter{Status: models.AlertStatus(c.Query("status"))}
	filter.Skip, filter.Limit = pagination(c)
	switch filter.Status {
	case "", models.AlertActive, models.AlertClosed, models.AlertDiscarded:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + string(filter.Status)})
		return
	}

	if raw := c.Query("service"); raw != "" {
		svc, ok := serviceParam(c, raw)
		if !ok || !requireAccess(c, user, svc) {
			return
		}
		filter.Services = []models.Service{svc}
	} else if !user.IsAdmin() {
		filter.Services = user.ActiveServices(now)
		if len(filter.Services) == 0 {
			respondError(c, models.ErrSubscriptionRequired, "")
			return
		}
	}

	alerts, err := Repo.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "Failed to list alerts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func HandleGetAlert(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	alert, err := Repo.GetAlert(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to get alert")
		return
	}
	if !requireAccess(c, currentUser(c), alert.Service) {
		return
	}
	c.JSON(http.StatusOK, alert)
}

func HandleCreateAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user := currentUser(c)
	ctx := c.Request.Context()
	now := Now()

	alert, err := models.NewAlert(req.Symbol, models.AlertAction(req.Action), models.Service(req.Service),
		req.EntryPrice, req.StopLoss, req.TakeProfit, req.Analysis, user.Email, now)
	if err != nil {
		badRequest(c, err)
		return
	}

	var pool *models.LiquidityPool
	if req.LiquidityPercentage > 0 {
		pool, err = Repo.GetLiquidityPool(ctx, alert.Service)
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusConflict, gin.H{"error": "no liquidity pool configured for " + req.Service})
			return
		}
		if err != nil {
			respondError(c, err, "Failed to load liquidity pool")
			return
		}
	}

	if err := Repo.CreateAlert(ctx, alert); err != nil {
		respondError(c, err, "Failed to create alert")
		return
	}

	if pool != nil {
		if _, err := liquidity.Allocate(pool, alert, req.LiquidityPercentage, now); err != nil {
			rollbackAlert(ctx, alert)
			respondError(c, err, "Failed to allocate liquidity")
			return
		}
		if err := Repo.SaveLiquidityPool(ctx, pool); err != nil {
			rollbackAlert(ctx, alert)
			respondError(c, err, "Failed to save liquidity pool")
			return
		}
	}

	logger.Get().Info("alert created",
		zap.String("alert_id", alert.ID.Hex()),
		zap.String("symbol", alert.Symbol),
		zap.String("service", string(alert.Service)))
	announceAlert(ctx, alert, models.AlertEventCreated)
	c.JSON(http.StatusCreated, alert)
}

// rollbackAlert removes an alert whose liquidity allocation could not be stored.
func rollbackAlert(ctx context.Context, a *models.Alert) {
	if err := Repo.DeleteAlert(ctx, a.ID); err != nil {
		logger.Get().Error("failed to roll back alert", zap.String("alert_id", a.ID.Hex()), zap.Error(err))
	}
}

// loadAlert fetches the :id alert or writes the error response.
func loadAlert(c *gin.Context) (*models.Alert, bool) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return nil, false
	}
	alert, err := Repo.GetAlert(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to get alert")
		return nil, false
	}
	return alert, true
}

func HandleUpdateAlert(c *gin.Context) {
	var req updateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	alert, ok := loadAlert(c)
	if !ok {
		return
	}
	update := models.AlertUpdate{
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		Analysis:     req.Analysis,
		CurrentPrice: req.CurrentPrice,
	}
	if err := alert.ApplyUpdate(update, Now()); err != nil {
		respondError(c, err, "Failed to update alert")
		return
	}
	if err := Repo.SaveAlert(c.Request.Context(), alert); err != nil {
		respondError(c, err, "Failed to save alert")
		return
	}
	announceAlert(c.Request.Context(), alert, models.AlertEventUpdated)
	c.JSON(http.StatusOK, alert)
}

// HandleUpdateAlertPrice records a market price tick. Ticks only reach live
// dashboards; they are not mailed or posted to Telegram.
func HandleUpdateAlertPrice(c *gin.Context) {
	var req priceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	alert, ok := loadAlert(c)
	if !ok {
		return
	}
	if err := alert.UpdatePrice(req.Price, Now()); err != nil {
		respondError(c, err, "Failed to update price")
		return
	}
	if err := Repo.SaveAlert(c.Request.Context(), alert); err != nil {
		respondError(c, err, "Failed to save alert")
		return
	}
	if Hub != nil {
		Hub.Publish(models.AlertEventUpdated, alert)
	}
	c.JSON(http.StatusOK, alert)
}

func HandleCloseAlert(c *gin.Context) {
	var req closeAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	alert, ok := loadAlert(c)
	if !ok {
		return
	}
	if err := alert.Close(req.ExitPrice, req.Reason, Now()); err != nil {
		respondError(c, err, "Failed to close alert")
		return
	}
	ctx := c.Request.Context()
	if err := Repo.SaveAlert(ctx, alert); err != nil {
		respondError(c, err, "Failed to save alert")
		return
	}
	syncLiquidity(ctx, alert, liquidityClose(alert, req.ExitPrice))
	announceAlert(ctx, alert, models.AlertEventClosed)
	c.JSON(http.StatusOK, alert)
}

func HandleDiscardAlert(c *gin.Context) {
	var req discardAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	alert, ok := loadAlert(c)
	if !ok {
		return
	}
	if err := alert.Discard(req.Reason, Now()); err != nil {
		respondError(c, err, "Failed to discard alert")
		return
	}
	ctx := c.Request.Context()
	if err := Repo.SaveAlert(ctx, alert); err != nil {
		respondError(c, err, "Failed to save alert")
		return
	}
	syncLiquidity(ctx, alert, liquidityRelease(alert))
	announceAlert(ctx, alert, models.AlertEventDiscarded)
	c.JSON(http.StatusOK, alert)
}

func HandlePartialSale(c *gin.Context) {
	var req partialSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	alert, ok := loadAlert(c)
	if !ok {
		return
	}
	sale, err := alert.ApplyPartialSale(req.Percentage, req.Price, req.Notes, Now())
	if err != nil {
		respondError(c, err, "Failed to record partial sale")
		return
	}
	ctx := c.Request.Context()
	if err := Repo.SaveAlert(ctx, alert); err != nil {
		respondError(c, err, "Failed to save alert")
		return
	}
	syncLiquidity(ctx, alert, liquidityPartialSale(alert, req.Percentage, req.Price))

	event := models.AlertEventPartialSale
	if alert.Status == models.AlertClosed {
		event = models.AlertEventClosed
	}
	announceAlert(ctx, alert, event)
	c.JSON(http.StatusOK, gin.H{"alert": alert, "sale": sale})
}

func HandleDeleteAlert(c *gin.Context) {
	alert, ok := loadAlert(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := Repo.DeleteAlert(ctx, alert.ID); err != nil {
		respondError(c, err, "Failed to delete alert")
		return
	}
	syncLiquidity(ctx, alert, liquidityRelease(alert))
	logger.Get().Info("alert deleted", zap.String("alert_id", alert.ID.Hex()))
	c.Status(http.StatusNoContent)
}
