package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"trading-alerts/api/billing"
	"trading-alerts/api/handlers"
	"trading-alerts/api/jobs"
	"trading-alerts/api/logger"
	"trading-alerts/api/metrics"
	"trading-alerts/api/middleware"
	"trading-alerts/api/sse"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (and the job scheduler when JOBS_ENABLED)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())
	cfg := a.cfg

	handlers.Setup(handlers.Deps{
		Repo:     a.store,
		Notifier: a.notifier,
		Hub:      sse.NewHub(),
		Checkout: billing.NewStripeCheckout(cfg.StripeSecretKey),
		Jobs:     a.runner,
		Config:   cfg,
	})

	if cfg.JobsEnabled {
		scheduler, err := jobs.NewScheduler(a.runner, jobs.DefaultSchedule)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
		return err
	}
	router.Use(gin.Recovery(), middleware.RequestID, middleware.AccessLog, metrics.Middleware, middleware.Cors(cfg.FrontendURL))

	router.GET("/healthz", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/internal/dispatcher", middleware.InternalAPIKey(cfg.InternalAPIKey), a.dispatcher.MetricsHandler)
	router.POST("/internal/jobs/:name", middleware.InternalAPIKey(cfg.InternalAPIKey), handlers.HandleRunJob)
	router.POST("/webhook/stripe", middleware.StripeWebhookVerifier(cfg.StripeWebhookSecret), handlers.HandleStripeWebhook)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	handlers.Routes(router,
		limiter.Middleware,
		middleware.Auth(cfg.JWTSecret, cfg.JWTIssuer),
		middleware.Account(a.store, time.Now))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Get().Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Get().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Get().Error("server shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
