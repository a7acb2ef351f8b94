package models

import "github.com/golang-jwt/jwt/v5"

// AuthClaims represents the claims in the bearer JWT issued by the web front end.
type AuthClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
}
