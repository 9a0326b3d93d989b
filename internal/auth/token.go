package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const refreshNonceBytes = 32

var (
	// ErrSameSecrets is returned when access and refresh tokens would share a key
	ErrSameSecrets = errors.New("access and refresh secrets must differ")
	// ErrEmptySecret is returned when a signing secret is missing
	ErrEmptySecret = errors.New("token signing secret must not be empty")
)

// TokenConfig holds signing keys and lifetimes for issued tokens
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// TokenManager handles JWT token generation and validation.
// Access and refresh tokens are signed with different secrets so a token of
// one kind never verifies as the other.
type TokenManager struct {
	accessSecret       []byte
	refreshSecret      []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	clock              Clock
	random             *RandomTokenProvider
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(cfg TokenConfig, clock Clock, random *RandomTokenProvider) (*TokenManager, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, ErrEmptySecret
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, ErrSameSecrets
	}
	if cfg.AccessExpiry <= 0 {
		cfg.AccessExpiry = 15 * time.Minute
	}
	if cfg.RefreshExpiry <= 0 {
		cfg.RefreshExpiry = 7 * 24 * time.Hour
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if random == nil {
		random = NewRandomTokenProvider(nil)
	}

	return &TokenManager{
		accessSecret:       []byte(cfg.AccessSecret),
		refreshSecret:      []byte(cfg.RefreshSecret),
		accessTokenExpiry:  cfg.AccessExpiry,
		refreshTokenExpiry: cfg.RefreshExpiry,
		clock:              clock,
		random:             random,
	}, nil
}

// AccessTokenExpiry returns the configured access token lifetime
func (tm *TokenManager) AccessTokenExpiry() time.Duration {
	return tm.accessTokenExpiry
}

// IssueAccessToken creates a short-lived access token with JTI
func (tm *TokenManager) IssueAccessToken(userID, email, role string) (string, error) {
	now := tm.clock.Now()

	claims := &models.AccessClaims{
		UserID: userID,
		Email:  email,
		Role:   role,
		Type:   models.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.accessTokenExpiry)),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.accessSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return tokenString, nil
}

// IssueRefreshToken creates a long-lived refresh token carrying a random nonce
func (tm *TokenManager) IssueRefreshToken(userID string) (string, error) {
	now := tm.clock.Now()

	nonce, err := tm.random.Hex(refreshNonceBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate refresh nonce: %w", err)
	}

	claims := &models.RefreshClaims{
		UserID: userID,
		Type:   models.TokenTypeRefresh,
		Nonce:  nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.refreshTokenExpiry)),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return tokenString, nil
}

// IssueTokenPair issues an access token and a refresh token for a user
func (tm *TokenManager) IssueTokenPair(userID, email, role string) (*models.TokenPair, error) {
	accessToken, err := tm.IssueAccessToken(userID, email, role)
	if err != nil {
		return nil, err
	}

	refreshToken, err := tm.IssueRefreshToken(userID)
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// VerifyAccessToken verifies an access token and returns its claims
func (tm *TokenManager) VerifyAccessToken(tokenString string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}
	if err := tm.parse(tokenString, claims, tm.accessSecret); err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeAccess || claims.UserID == "" {
		return nil, models.ErrTokenInvalid
	}
	return claims, nil
}

// VerifyRefreshToken verifies a refresh token and returns its claims
func (tm *TokenManager) VerifyRefreshToken(tokenString string) (*models.RefreshClaims, error) {
	claims := &models.RefreshClaims{}
	if err := tm.parse(tokenString, claims, tm.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeRefresh || claims.UserID == "" {
		return nil, models.ErrTokenInvalid
	}
	return claims, nil
}

func (tm *TokenManager) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", models.ErrTokenInvalid, err)
	}
	if !token.Valid {
		return models.ErrTokenInvalid
	}
	return nil
}

// DecodeUnsafe returns the claims of a token without verifying its signature.
// The result must only be used for inspection. Returns nil when the token
// cannot be parsed.
func DecodeUnsafe(tokenString string) jwt.MapClaims {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil
	}
	return claims
}

// IsExpired reports whether a token is past its expiry. Unparseable tokens and
// tokens without an exp claim count as expired.
func (tm *TokenManager) IsExpired(tokenString string) bool {
	claims := DecodeUnsafe(tokenString)
	if claims == nil {
		return true
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return !tm.clock.Now().Before(exp.Time)
}
