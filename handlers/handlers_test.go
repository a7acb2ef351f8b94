package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trading-alerts/api/billing"
	"trading-alerts/api/config"
	"trading-alerts/api/middleware"
	"trading-alerts/api/models"
	"trading-alerts/api/sse"
	"trading-alerts/api/store/memstore"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	jwtSecret     = "handlers-test-secret"
	webhookSecret = "whsec_handlers"
)

type fakeCheckout struct {
	requests []billing.CheckoutRequest
}

func (f *fakeCheckout) CreateCheckout(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	f.requests = append(f.requests, req)
	return &billing.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

type testEnv struct {
	t        *testing.T
	repo     *memstore.Store
	engine   *gin.Engine
	checkout *fakeCheckout
	now      time.Time
	admin    *models.User
	user     *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		t:        t,
		repo:     memstore.New(),
		checkout: &fakeCheckout{},
		now:      time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
	}
	Setup(Deps{
		Repo:     env.repo,
		Hub:      sse.NewHub(),
		Checkout: env.checkout,
		Config: &config.Config{
			TrialDays:        30,
			SubscriptionDays: 30,
			FrontendURL:      "https://app.example.com",
			StripePrices:     map[string]string{"TraderCall": "price_tc", "SmartMoney": "price_sm"},
		},
		Now: func() time.Time { return env.now },
	})

	env.admin = env.repo.PutUser(&models.User{
		Email:       "admin@example.com",
		Role:        models.RoleAdmin,
		Preferences: models.NotificationPreferences{Email: true},
	})
	env.user = env.repo.PutUser(&models.User{
		Email:       "ana@example.com",
		Role:        models.RoleUser,
		Preferences: models.NotificationPreferences{Email: true},
	})

	r := gin.New()
	Routes(r, middleware.Auth(jwtSecret, ""), middleware.Account(env.repo, func() time.Time { return Now() }))
	r.POST("/webhook/stripe", middleware.StripeWebhookVerifier(webhookSecret), HandleStripeWebhook)
	r.GET("/healthz", HandleHealth)
	env.engine = r
	return env
}

func (e *testEnv) token(email string) string {
	e.t.Helper()
	claims := models.AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: email,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(e.t, err)
	return s
}

// do sends body as JSON on behalf of the user with email (anonymous when empty).
func (e *testEnv) do(method, path, email string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if email != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(email))
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *testEnv) webhook(payload string) *httptest.ResponseRecorder {
	e.t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(payload), Secret: webhookSecret})
	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

// subscribe gives u a current trial to service.
func (e *testEnv) subscribe(u *models.User, service models.Service) {
	e.t.Helper()
	_, err := u.StartTrial(service, 30, e.now)
	require.NoError(e.t, err)
	e.repo.PutUser(u)
}

func (e *testEnv) reload(u *models.User) *models.User {
	e.t.Helper()
	got, err := e.repo.GetUserByID(context.Background(), u.ID)
	require.NoError(e.t, err)
	return got
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
