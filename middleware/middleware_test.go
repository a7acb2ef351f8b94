package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trading-alerts/api/models"
	"trading-alerts/api/store/memstore"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const secret = "test-secret"

func signToken(t *testing.T, key, issuer, email string) string {
	t.Helper()
	claims := models.AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "sub-1",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: email,
		Name:  "Ana",
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func authEngine(issuer string) *gin.Engine {
	r := gin.New()
	r.GET("/me", Auth(secret, issuer), func(c *gin.Context) {
		claims := c.MustGet(ClaimsKey).(*models.AuthClaims)
		c.String(http.StatusOK, claims.Email)
	})
	return r
}

func TestAuth(t *testing.T) {
	tests := map[string]struct {
		header string
		query  string
		issuer string
		want   int
	}{
		"missing token":    {want: http.StatusUnauthorized},
		"malformed header": {header: "Token abc", want: http.StatusUnauthorized},
		"valid bearer":     {header: "Bearer " + signToken(t, secret, "", "ana@example.com"), want: http.StatusOK},
		"wrong secret":     {header: "Bearer " + signToken(t, "other", "", "ana@example.com"), want: http.StatusUnauthorized},
		"query token":      {query: signToken(t, secret, "", "ana@example.com"), want: http.StatusOK},
		"issuer mismatch":  {header: "Bearer " + signToken(t, secret, "evil", "ana@example.com"), issuer: "web", want: http.StatusUnauthorized},
		"issuer match":     {header: "Bearer " + signToken(t, secret, "web", "ana@example.com"), issuer: "web", want: http.StatusOK},
		"no email claim":   {header: "Bearer " + signToken(t, secret, "", ""), want: http.StatusUnauthorized},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			url := "/me"
			if tc.query != "" {
				url += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			authEngine(tc.issuer).ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestAccountAndRequireAdmin(t *testing.T) {
	repo := memstore.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.PutUser(&models.User{Email: "boss@example.com", Role: models.RoleAdmin})

	r := gin.New()
	r.Use(Auth(secret, ""), Account(repo, func() time.Time { return now }))
	r.GET("/admin", RequireAdmin, func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(email string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, secret, "", email))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, do("boss@example.com"))
	assert.Equal(t, http.StatusForbidden, do("new@example.com"))

	created, err := repo.GetUserByEmail(context.Background(), "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, created.Role)
	assert.Equal(t, now, created.LastLogin)
}

func TestInternalAPIKey(t *testing.T) {
	for name, tc := range map[string]struct {
		configured, sent string
		want             int
	}{
		"match":          {configured: "k", sent: "k", want: http.StatusOK},
		"mismatch":       {configured: "k", sent: "x", want: http.StatusUnauthorized},
		"not configured": {configured: "", sent: "", want: http.StatusUnauthorized},
	} {
		t.Run(name, func(t *testing.T) {
			r := gin.New()
			r.POST("/internal", InternalAPIKey(tc.configured), func(c *gin.Context) { c.Status(http.StatusOK) })
			req := httptest.NewRequest(http.MethodPost, "/internal", nil)
			req.Header.Set("X-API-Key", tc.sent)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(1, 2)
	now := time.Now()
	assert.True(t, l.allow("1.1.1.1", now))
	assert.True(t, l.allow("1.1.1.1", now))
	assert.False(t, l.allow("1.1.1.1", now))
	assert.True(t, l.allow("2.2.2.2", now), "buckets are per client")
	assert.True(t, l.allow("1.1.1.1", now.Add(time.Second)))
}

func TestStripeWebhookVerifier(t *testing.T) {
	const whsec = "whsec_test"
	r := gin.New()
	r.POST("/webhook/stripe", StripeWebhookVerifier(whsec), func(c *gin.Context) {
		event := c.MustGet(StripeEventKey).(stripe.Event)
		c.String(http.StatusOK, string(event.Type))
	})

	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: whsec})

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "invoice.paid", w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
