package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"trading-alerts/api/logger"
	"trading-alerts/api/models"
	"trading-alerts/api/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	ClaimsKey  = "user"
	AccountKey = "account"
)

// Auth verifies the HS256 bearer token issued by the front end. EventSource
// cannot send headers, so a token query parameter is accepted as well.
func Auth(secret, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c.Request)
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid token"})
			return
		}

		claims := &models.AuthClaims{}
		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if issuer != "" {
			opts = append(opts, jwt.WithIssuer(issuer))
		}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		}, opts...)
		if err != nil {
			logger.Get().Debug("rejected bearer token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: " + err.Error()})
			return
		}
		if !token.Valid || claims.Email == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}

	return parts[1]
}

// Account resolves the caller's user document from the verified claims and
// stores it under AccountKey. First-time callers are created.
func Account(users store.Users, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := c.MustGet(ClaimsKey).(*models.AuthClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid user claims"})
			return
		}
		ctx := c.Request.Context()
		user, err := users.GetUserByEmail(ctx, claims.Email)
		if errors.Is(err, models.ErrNotFound) {
			user, err = users.UpsertUserOnLogin(ctx, claims.Email, claims.Name, now())
		}
		if err != nil {
			logger.Get().Error("failed to load account", zap.String("email", claims.Email), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
			return
		}
		c.Set(AccountKey, user)
		c.Next()
	}
}

func RequireAdmin(c *gin.Context) {
	user, ok := c.MustGet(AccountKey).(*models.User)
	if !ok || !user.IsAdmin() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
		return
	}
	c.Next()
}
