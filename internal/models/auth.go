package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token type discriminators carried in the "type" claim
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// AccessClaims is the payload of a short-lived access token
type AccessClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a long-lived refresh token.
// Nonce makes every refresh token unique even when issued in the same second.
type RefreshClaims struct {
	UserID string `json:"userId"`
	Type   string `json:"type"`
	Nonce  string `json:"nonce"`
	jwt.RegisteredClaims
}

// TokenPair is issued on login and refresh. It is never persisted.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
