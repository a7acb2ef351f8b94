package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"trading-alerts/api/liquidity"
	"trading-alerts/api/models"
	"trading-alerts/api/store"
	"trading-alerts/api/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAlertBody() map[string]any {
	return map[string]any{
		"symbol":      "aapl",
		"action":      "BUY",
		"service":     "TraderCall",
		"entry_price": 100,
		"stop_loss":   90,
		"take_profit": 130,
		"analysis":    "ruptura de resistencia",
	}
}

func TestAlertLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(env.user, models.ServiceTraderCall)
	stream := Hub.Register("dash-1", env.user.ID.Hex(), []models.Service{models.ServiceTraderCall}, 8)

	w := env.do(http.MethodPost, "/api/admin/alerts", env.admin.Email, newAlertBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.Alert](t, w)
	assert.Equal(t, "AAPL", created.Symbol)
	assert.Equal(t, models.AlertActive, created.Status)
	base := "/api/admin/alerts/" + created.ID.Hex()

	w = env.do(http.MethodGet, "/api/alerts?service=TraderCall", env.user.Email, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct{ Alerts []models.Alert }](t, w)
	require.Len(t, list.Alerts, 1)

	w = env.do(http.MethodPost, base+"/partial-sale", env.admin.Email, map[string]any{"percentage": 50, "price": 110})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sold := decode[struct{ Alert models.Alert }](t, w)
	assert.Equal(t, 50.0, sold.Alert.Participation)

	w = env.do(http.MethodPost, base+"/discard", env.admin.Email, map[string]any{"reason": "cambio"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodPost, base+"/close", env.admin.Email, map[string]any{"exit_price": 120, "reason": "objetivo"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	closed := decode[models.Alert](t, w)
	assert.Equal(t, models.AlertClosed, closed.Status)
	assert.Equal(t, 15.0, closed.Profit)

	w = env.do(http.MethodPost, base+"/close", env.admin.Email, map[string]any{"exit_price": 125})
	assert.Equal(t, http.StatusConflict, w.Code)

	notes := env.repo.Notifications()
	require.Len(t, notes, 3)
	for _, n := range notes {
		assert.Equal(t, models.TargetSubscribers, n.Target)
		assert.Equal(t, models.ServiceTraderCall, n.Service)
		assert.Equal(t, models.EmailPending, n.EmailStatus)
		require.NotNil(t, n.AlertID)
		assert.Equal(t, created.ID, *n.AlertID)
	}
	assert.Len(t, stream.Messages, 3)
}

func TestAlertAdminRoutesRejectUsers(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(env.user, models.ServiceTraderCall)

	w := env.do(http.MethodPost, "/api/admin/alerts", env.user.Email, newAlertBody())
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/api/admin/alerts", "", newAlertBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListAlertsRequiresSubscription(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, "/api/admin/alerts", env.admin.Email, newAlertBody())
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[models.Alert](t, w)

	w = env.do(http.MethodGet, "/api/alerts", env.user.Email, nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	w = env.do(http.MethodGet, "/api/alerts/"+created.ID.Hex(), env.user.Email, nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	env.subscribe(env.user, models.ServiceSmartMoney)
	w = env.do(http.MethodGet, "/api/alerts?service=TraderCall", env.user.Email, nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	w = env.do(http.MethodGet, "/api/alerts", env.user.Email, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[struct{ Alerts []models.Alert }](t, w).Alerts)

	w = env.do(http.MethodGet, "/api/alerts", env.admin.Email, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[struct{ Alerts []models.Alert }](t, w).Alerts, 1)
}

func TestCreateAlertAllocatesLiquidity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pool, err := liquidity.NewPool(models.ServiceTraderCall, 10000, env.admin.Email, env.now)
	require.NoError(t, err)
	require.NoError(t, env.repo.SaveLiquidityPool(ctx, pool))

	body := newAlertBody()
	body["liquidity_percentage"] = 20
	w := env.do(http.MethodPost, "/api/admin/alerts", env.admin.Email, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.Alert](t, w)

	pool, err = env.repo.GetLiquidityPool(ctx, models.ServiceTraderCall)
	require.NoError(t, err)
	d := pool.Distribution(created.ID)
	require.NotNil(t, d)
	assert.Equal(t, 2000.0, d.AllocatedAmount)
	assert.Equal(t, 20.0, d.Shares)

	w = env.do(http.MethodPost, "/api/admin/alerts/"+created.ID.Hex()+"/close", env.admin.Email, map[string]any{"exit_price": 110})
	require.Equal(t, http.StatusOK, w.Code)
	pool, err = env.repo.GetLiquidityPool(ctx, models.ServiceTraderCall)
	require.NoError(t, err)
	d = pool.Distribution(created.ID)
	assert.False(t, d.IsActive)
	assert.Equal(t, 200.0, d.RealizedProfit)

	body["liquidity_percentage"] = 150
	w = env.do(http.MethodPost, "/api/admin/alerts", env.admin.Email, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	alerts, err := env.repo.ListAlerts(ctx, store.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1, "failed allocation rolls the alert back")
}

func TestPartialSalesCloseLiquidityWithAlert(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pool, err := liquidity.NewPool(models.ServiceTraderCall, 10000, env.admin.Email, env.now)
	require.NoError(t, err)
	require.NoError(t, env.repo.SaveLiquidityPool(ctx, pool))

	body := newAlertBody()
	body["entry_price"], body["stop_loss"], body["take_profit"] = 30, 27, 39
	body["liquidity_percentage"] = 20
	w := env.do(http.MethodPost, "/api/admin/alerts", env.admin.Email, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.Alert](t, w)
	base := "/api/admin/alerts/" + created.ID.Hex()

	for _, pct := range []float64{33.33, 33.33, 33.34} {
		w = env.do(http.MethodPost, base+"/partial-sale", env.admin.Email, map[string]any{"percentage": pct, "price": 33})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	alert, err := env.repo.GetAlert(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.AlertClosed, alert.Status)

	pool, err = env.repo.GetLiquidityPool(ctx, models.ServiceTraderCall)
	require.NoError(t, err)
	d := pool.Distribution(created.ID)
	require.NotNil(t, d)
	assert.False(t, d.IsActive)
	assert.Equal(t, d.Shares, d.SoldShares)
	assert.Equal(t, 0.0, liquidity.AllocatedPercentage(pool))
}

func TestAllocateAfterPartialSaleConflicts(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPut, "/api/admin/liquidity/TraderCall", env.admin.Email, map[string]any{"total_liquidity": 5000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodPost, "/api/admin/alerts", env.admin.Email, newAlertBody())
	require.Equal(t, http.StatusCreated, w.Code)
	alert := decode[models.Alert](t, w)

	w = env.do(http.MethodPost, "/api/admin/alerts/"+alert.ID.Hex()+"/partial-sale", env.admin.Email,
		map[string]any{"percentage": 50, "price": 110})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodPost, "/api/admin/liquidity/TraderCall/allocations", env.admin.Email,
		map[string]any{"alert_id": alert.ID.Hex(), "percentage": 20})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

type poolWriteFails struct {
	*memstore.Store
}

func (poolWriteFails) SaveLiquidityPool(context.Context, *models.LiquidityPool) error {
	return errors.New("write conflict")
}

func TestCreateAlertRollsBackWhenPoolSaveFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pool, err := liquidity.NewPool(models.ServiceTraderCall, 10000, env.admin.Email, env.now)
	require.NoError(t, err)
	require.NoError(t, env.repo.SaveLiquidityPool(ctx, pool))
	Repo = poolWriteFails{env.repo}

	body := newAlertBody()
	body["liquidity_percentage"] = 20
	w := env.do(http.MethodPost, "/api/admin/alerts", env.admin.Email, body)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	alerts, err := env.repo.ListAlerts(ctx, store.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, alerts, "a retry must not leave a duplicate alert behind")
}

func TestListAlertsAcrossServicesIsOnePage(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(env.user, models.ServiceTraderCall)
	env.subscribe(env.user, models.ServiceSmartMoney)

	for i, svc := range []string{"TraderCall", "SmartMoney", "TraderCall", "SmartMoney"} {
		env.now = env.now.Add(time.Minute)
		body := newAlertBody()
		body["service"] = svc
		body["symbol"] = fmt.Sprintf("SYM%d", i)
		w := env.do(http.MethodPost, "/api/admin/alerts", env.admin.Email, body)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := env.do(http.MethodGet, "/api/alerts?limit=3", env.user.Email, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	alerts := decode[struct{ Alerts []models.Alert }](t, w).Alerts
	require.Len(t, alerts, 3)
	assert.Equal(t, []string{"SYM3", "SYM2", "SYM1"}, []string{alerts[0].Symbol, alerts[1].Symbol, alerts[2].Symbol})
}

func TestUpdateAlertPriceStreamsWithoutNotifying(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, "/api/admin/alerts", env.admin.Email, newAlertBody())
	require.Equal(t, http.StatusCreated, w.Code)
	alert := decode[models.Alert](t, w)
	queued := len(env.repo.Notifications())

	client := Hub.Register("dash", env.admin.ID.Hex(), models.Services, 4)
	defer Hub.Unregister("dash")

	path := "/api/admin/alerts/" + alert.ID.Hex() + "/price"
	w = env.do(http.MethodPut, path, env.admin.Email, map[string]any{"price": 104.5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 104.5, decode[models.Alert](t, w).CurrentPrice)
	assert.Len(t, env.repo.Notifications(), queued, "price ticks are not queued for mail")
	assert.Len(t, client.Messages, 1)

	w = env.do(http.MethodPut, path, env.admin.Email, map[string]any{"price": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(http.MethodPut, path, env.user.Email, map[string]any{"price": 105})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
