package handlers

import (
	"trading-alerts/api/middleware"

	"github.com/gin-gonic/gin"
)

// Routes mounts the authenticated API under /api. authn must leave the
// caller's claims and account in the context.
func Routes(r gin.IRouter, authn ...gin.HandlerFunc) {
	api := r.Group("/api", authn...)
	{
		api.GET("/me", HandleMe)
		api.PUT("/me/preferences", HandleUpdatePreferences)

		api.GET("/alerts", HandleListAlerts)
		api.GET("/alerts/stream", HandleAlertStream)
		api.GET("/alerts/:id", HandleGetAlert)

		api.GET("/subscriptions", HandleListSubscriptions)
		api.POST("/subscriptions/trial", HandleStartTrial)
		api.POST("/subscriptions/checkout", HandleSubscriptionCheckout)

		api.GET("/notifications", HandleListNotifications)
		api.POST("/notifications/read-all", HandleMarkAllRead)
		api.POST("/notifications/:id/read", HandleMarkRead)

		api.GET("/reports", HandleListReports)
		api.GET("/reports/:id", HandleGetReport)

		api.GET("/trainings", HandleListTrainings)
		api.GET("/trainings/:id", HandleGetTraining)
		api.POST("/trainings/:id/checkout", HandleTrainingCheckout)

		api.GET("/liquidity/:service", HandleLiquiditySummary)
	}

	admin := api.Group("/admin", middleware.RequireAdmin)
	{
		admin.POST("/alerts", HandleCreateAlert)
		admin.PUT("/alerts/:id", HandleUpdateAlert)
		admin.PUT("/alerts/:id/price", HandleUpdateAlertPrice)
		admin.POST("/alerts/:id/close", HandleCloseAlert)
		admin.POST("/alerts/:id/discard", HandleDiscardAlert)
		admin.POST("/alerts/:id/partial-sale", HandlePartialSale)
		admin.DELETE("/alerts/:id", HandleDeleteAlert)

		admin.GET("/users", HandleListUsers)
		admin.PUT("/users/:id/role", HandleSetRole)
		admin.POST("/users/:id/subscriptions", HandleGrantSubscription)
		admin.DELETE("/users/:id/subscriptions", HandleRevokeSubscription)

		admin.POST("/notifications", HandleCreateNotification)

		admin.POST("/reports", HandleCreateReport)
		admin.PUT("/reports/:id", HandleUpdateReport)
		admin.POST("/reports/:id/publish", HandlePublishReport)
		admin.DELETE("/reports/:id", HandleDeleteReport)

		admin.POST("/trainings", HandleCreateTraining)
		admin.PUT("/trainings/:id", HandleUpdateTraining)
		admin.DELETE("/trainings/:id", HandleDeleteTraining)

		admin.GET("/liquidity/:service", HandleGetLiquidity)
		admin.PUT("/liquidity/:service", HandleSetLiquidity)
		admin.POST("/liquidity/:service/allocations", HandleAllocateLiquidity)
		admin.DELETE("/liquidity/:service/allocations/:alertId", HandleRemoveAllocation)
	}
}
