package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims is the claim set shared by access and refresh tokens. The two
// kinds are told apart by their signing key, not by their shape.
type TokenClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}
