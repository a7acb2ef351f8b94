package handlers

import (
	"errors"
	"net/http"

	"trading-alerts/api/liquidity"
	"trading-alerts/api/logger"
	"trading-alerts/api/models"
	"trading-alerts/api/store"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

type setLiquidityRequest struct {
	TotalLiquidity float64 `json:"total_liquidity" binding:"required"`
}

type allocateRequest struct {
	AlertID    string  `json:"alert_id" binding:"required"`
	Percentage float64 `json:"percentage" binding:"required"`
}

// activePrices maps each ACTIVE alert of service to its latest price.
func activePrices(c *gin.Context, service models.Service) (map[bson.ObjectID]float64, error) {
	alerts, err := Repo.ListAlerts(c.Request.Context(), store.AlertFilter{Services: []models.Service{service}, Status: models.AlertActive})
	if err != nil {
		return nil, err
	}
	prices := make(map[bson.ObjectID]float64, len(alerts))
	for _, a := range alerts {
		prices[a.ID] = a.CurrentPrice
	}
	return prices, nil
}

func poolResponse(c *gin.Context, pool *models.LiquidityPool) {
	prices, err := activePrices(c, pool.Service)
	if err != nil {
		respondError(c, err, "Failed to load alert prices")
		return
	}
	c.JSON(http.StatusOK, gin.H{"pool": pool, "summary": liquidity.Summarize(pool, prices)})
}

func HandleGetLiquidity(c *gin.Context) {
	svc, ok := serviceParam(c, c.Param("service"))
	if !ok {
		return
	}
	pool, err := Repo.GetLiquidityPool(c.Request.Context(), svc)
	if err != nil {
		respondError(c, err, "Failed to get liquidity pool")
		return
	}
	poolResponse(c, pool)
}

func HandleSetLiquidity(c *gin.Context) {
	var req setLiquidityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	svc, ok := serviceParam(c, c.Param("service"))
	if !ok {
		return
	}
	ctx := c.Request.Context()
	admin := currentUser(c).Email
	now := Now()

	pool, err := Repo.GetLiquidityPool(ctx, svc)
	switch {
	case errors.Is(err, models.ErrNotFound):
		pool, err = liquidity.NewPool(svc, req.TotalLiquidity, admin, now)
	case err == nil:
		err = liquidity.SetTotal(pool, req.TotalLiquidity, admin, now)
	}
	if err != nil {
		respondError(c, err, "Failed to set liquidity")
		return
	}
	if err := Repo.SaveLiquidityPool(ctx, pool); err != nil {
		respondError(c, err, "Failed to save liquidity pool")
		return
	}
	logger.Get().Info("liquidity pool updated",
		zap.String("service", string(svc)),
		zap.Float64("total", pool.TotalLiquidity),
		zap.String("by", admin))
	poolResponse(c, pool)
}

func HandleAllocateLiquidity(c *gin.Context) {
	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	svc, ok := serviceParam(c, c.Param("service"))
	if !ok {
		return
	}
	alertID, err := bson.ObjectIDFromHex(req.AlertID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert_id"})
		return
	}
	ctx := c.Request.Context()
	alert, err := Repo.GetAlert(ctx, alertID)
	if err != nil {
		respondError(c, err, "Failed to get alert")
		return
	}
	pool, err := Repo.GetLiquidityPool(ctx, svc)
	if err != nil {
		respondError(c, err, "Failed to get liquidity pool")
		return
	}
	d, err := liquidity.Allocate(pool, alert, req.Percentage, Now())
	if err != nil {
		respondError(c, err, "Failed to allocate liquidity")
		return
	}
	if err := Repo.SaveLiquidityPool(ctx, pool); err != nil {
		respondError(c, err, "Failed to save liquidity pool")
		return
	}
	logger.Get().Info("liquidity allocated",
		zap.String("service", string(svc)),
		zap.String("alert_id", alertID.Hex()),
		zap.Float64("percentage", d.Percentage))
	c.JSON(http.StatusCreated, d)
}

func HandleRemoveAllocation(c *gin.Context) {
	svc, ok := serviceParam(c, c.Param("service"))
	if !ok {
		return
	}
	alertID, ok := objectIDParam(c, "alertId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	pool, err := Repo.GetLiquidityPool(ctx, svc)
	if err != nil {
		respondError(c, err, "Failed to get liquidity pool")
		return
	}
	if err := liquidity.Remove(pool, alertID, Now()); err != nil {
		respondError(c, err, "Failed to remove allocation")
		return
	}
	if err := Repo.SaveLiquidityPool(ctx, pool); err != nil {
		respondError(c, err, "Failed to save liquidity pool")
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleLiquiditySummary is the subscriber view of a service pool.
func HandleLiquiditySummary(c *gin.Context) {
	svc, ok := serviceParam(c, c.Param("service"))
	if !ok {
		return
	}
	if !requireAccess(c, currentUser(c), svc) {
		return
	}
	pool, err := Repo.GetLiquidityPool(c.Request.Context(), svc)
	if err != nil {
		respondError(c, err, "Failed to get liquidity pool")
		return
	}
	prices, err := activePrices(c, svc)
	if err != nil {
		respondError(c, err, "Failed to load alert prices")
		return
	}
	c.JSON(http.StatusOK, liquidity.Summarize(pool, prices))
}
