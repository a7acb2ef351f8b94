package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"trading-alerts/api/billing"
	"trading-alerts/api/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestStartTrialOncePerService(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/subscriptions/trial", env.user.Email, map[string]string{"service": "TraderCall"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sub := decode[models.Subscription](t, w)
	assert.Equal(t, models.SubscriptionTrial, sub.Type)
	assert.True(t, env.now.AddDate(0, 0, 30).Equal(sub.EndDate))

	w = env.do(http.MethodPost, "/api/subscriptions/trial", env.user.Email, map[string]string{"service": "TraderCall"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodPost, "/api/subscriptions/trial", env.user.Email, map[string]string{"service": "Nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/alerts?service=TraderCall", env.user.Email, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	notes := env.repo.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, models.TargetUser, notes[0].Target)
	assert.Equal(t, env.user.ID, *notes[0].TargetUserID)
}

func TestSubscriptionCheckout(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/subscriptions/checkout", env.user.Email, map[string]string{"service": "SmartMoney"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", decode[billing.CheckoutSession](t, w).URL)

	require.Len(t, env.checkout.requests, 1)
	req := env.checkout.requests[0]
	assert.Equal(t, billing.KindSubscription, req.Kind)
	assert.Equal(t, "price_sm", req.PriceID)
	assert.Equal(t, env.user.ID.Hex(), req.UserID)
	assert.Contains(t, req.SuccessURL, "https://app.example.com/suscripciones")
}

func checkoutCompleted(eventID string, u *models.User) string {
	return fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_live_1",
			"object": "checkout.session",
			"customer": "cus_1",
			"subscription": "sub_1",
			"payment_status": "paid",
			"client_reference_id": %q,
			"metadata": {"kind": "subscription", "service": "TraderCall", "user_id": %q}
		}}
	}`, eventID, u.ID.Hex(), u.ID.Hex())
}

func TestStripeWebhookSubscriptionFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.webhook(checkoutCompleted("evt_1", env.user))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	u := env.reload(env.user)
	assert.Equal(t, "cus_1", u.StripeCustomerID)
	require.Len(t, u.Subscriptions, 1)
	assert.Equal(t, models.SubscriptionFull, u.Subscriptions[0].Type)
	assert.Equal(t, "sub_1", u.Subscriptions[0].StripeSubscriptionID)
	firstEnd := u.Subscriptions[0].EndDate
	assert.Equal(t, env.now.AddDate(0, 0, 30), firstEnd)

	// redelivery is acknowledged without extending again
	w = env.webhook(checkoutCompleted("evt_1", env.user))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["duplicate"])
	assert.Equal(t, firstEnd, env.reload(env.user).Subscriptions[0].EndDate)

	env.now = env.now.Add(29 * 24 * time.Hour)
	w = env.webhook(`{
		"id": "evt_2",
		"object": "event",
		"type": "invoice.paid",
		"data": {"object": {
			"id": "in_1",
			"object": "invoice",
			"customer": "cus_1",
			"billing_reason": "subscription_cycle",
			"parent": {"type": "subscription_details", "subscription_details": {"subscription": "sub_1", "metadata": {"service": "TraderCall"}}}
		}}
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, firstEnd.AddDate(0, 0, 30), env.reload(env.user).Subscriptions[0].EndDate)

	w = env.webhook(`{
		"id": "evt_3",
		"object": "event",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_1", "object": "subscription", "customer": "cus_1"}}
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	u = env.reload(env.user)
	assert.False(t, u.HasActiveSubscription(models.ServiceTraderCall, env.now))
}

func TestStripeWebhookIgnoresUnknownUsersAndTypes(t *testing.T) {
	env := newTestEnv(t)
	stranger := &models.User{ID: bson.NewObjectID()}

	w := env.webhook(checkoutCompleted("evt_x", stranger))
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.webhook(`{"id": "evt_y", "object": "event", "type": "customer.created", "data": {"object": {"id": "cus_9", "object": "customer"}}}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.webhook(`{"id": "evt_z", "object": "event", "type": "invoice.paid", "data": {"object": {"id": "in_9", "object": "invoice", "customer": "cus_unknown"}}}`)
	assert.Equal(t, http.StatusOK, w.Code)

	first, err := env.repo.RecordStripeEvent(context.Background(), "evt_x", "checkout.session.completed", env.now)
	require.NoError(t, err)
	assert.False(t, first, "ignored events stay recorded")
}

func TestGrantAndRevokeSubscription(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/admin/users/" + env.user.ID.Hex() + "/subscriptions"

	w := env.do(http.MethodPost, path, env.admin.Email, map[string]any{"service": "SmartMoney", "days": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.reload(env.user).HasActiveSubscription(models.ServiceSmartMoney, env.now))

	w = env.do(http.MethodPost, path, env.user.Email, map[string]any{"service": "SmartMoney"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodDelete, path+"?service=SmartMoney", env.admin.Email, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, env.reload(env.user).HasActiveSubscription(models.ServiceSmartMoney, env.now))

	w = env.do(http.MethodDelete, path+"?service=SmartMoney", env.admin.Email, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
