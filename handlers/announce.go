package handlers

import (
	"context"
	"errors"
	"strings"

	"trading-alerts/api/liquidity"
	"trading-alerts/api/logger"
	"trading-alerts/api/metrics"
	"trading-alerts/api/models"
	"trading-alerts/api/notify"

	"go.uber.org/zap"
)

// announceAlert fans an alert event out to the mail queue, the service's
// Telegram channel and live dashboards. Failures are logged only; the alert
// change itself is already stored.
func announceAlert(ctx context.Context, a *models.Alert, event models.AlertEvent) {
	metrics.AlertEventsTotal.WithLabelValues(string(event), string(a.Service)).Inc()
	log := logger.Get().With(
		zap.String("alert_id", a.ID.Hex()),
		zap.String("event", string(event)))

	title, lines := notify.AlertMessage(a, event)
	n, err := models.NewNotification(models.NotificationAlert, models.TargetSubscribers, a.Service,
		title, strings.Join(lines, "\n"), Now())
	if err == nil {
		alertID := a.ID
		n.AlertID = &alertID
		n.ActionURL = "/alertas/" + a.ID.Hex()
		if event == models.AlertEventCreated || event == models.AlertEventClosed {
			n.Priority = "high"
		}
		err = Repo.CreateNotification(ctx, n)
	}
	if err != nil {
		log.Error("failed to queue alert notification", zap.Error(err))
	}

	if Notifier != nil && Notifier.BroadcastAlert(a, event) && n != nil && !n.ID.IsZero() {
		if err := Repo.MarkTelegramSent(ctx, n.ID); err != nil {
			log.Warn("failed to flag telegram broadcast", zap.Error(err))
		}
	}

	if Hub != nil {
		delivered := Hub.Publish(event, a)
		log.Debug("alert event streamed", zap.Int("clients", delivered))
	}
}

// syncLiquidity applies fn to the alert's service pool, when one exists.
// fn reports whether it changed the pool.
func syncLiquidity(ctx context.Context, a *models.Alert, fn func(p *models.LiquidityPool) (bool, error)) {
	log := logger.Get().With(zap.String("alert_id", a.ID.Hex()), zap.String("service", string(a.Service)))
	pool, err := Repo.GetLiquidityPool(ctx, a.Service)
	if errors.Is(err, models.ErrNotFound) {
		return
	}
	if err != nil {
		log.Error("failed to load liquidity pool", zap.Error(err))
		return
	}
	changed, err := fn(pool)
	if err != nil {
		log.Error("failed to update liquidity pool", zap.Error(err))
		return
	}
	if !changed {
		return
	}
	if err := Repo.SaveLiquidityPool(ctx, pool); err != nil {
		log.Error("failed to save liquidity pool", zap.Error(err))
	}
}

func liquidityPartialSale(a *models.Alert, pct, price float64) func(p *models.LiquidityPool) (bool, error) {
	return func(p *models.LiquidityPool) (bool, error) {
		d, err := liquidity.PartialSale(p, a.ID, pct, price, Now())
		if err != nil || a.Status != models.AlertClosed {
			return d != nil, err
		}
		// the last sale closed the alert, whatever rounding left goes with it
		closed, err := liquidity.Close(p, a.ID, price, Now())
		return d != nil || closed != nil, err
	}
}

func liquidityClose(a *models.Alert, price float64) func(p *models.LiquidityPool) (bool, error) {
	return func(p *models.LiquidityPool) (bool, error) {
		d, err := liquidity.Close(p, a.ID, price, Now())
		return d != nil, err
	}
}

func liquidityRelease(a *models.Alert) func(p *models.LiquidityPool) (bool, error) {
	return func(p *models.LiquidityPool) (bool, error) {
		return liquidity.Release(p, a.ID, Now()), nil
	}
}
