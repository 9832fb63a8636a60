package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/videotube-api/internal/models"
	"github.com/noah-isme/videotube-api/pkg/config"
	appErrors "github.com/noah-isme/videotube-api/pkg/errors"
)

// TokenIssuer signs and parses access and refresh tokens. The two kinds share
// a claim shape and are told apart only by their signing keys.
type TokenIssuer struct {
	accessKey     []byte
	refreshKey    []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	issuer        string
	now           func() time.Time
}

// NewTokenIssuer builds an issuer from the loaded signing configuration.
func NewTokenIssuer(cfg config.JWTConfig) (*TokenIssuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token signing keys must be configured")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh signing keys must differ")
	}
	if cfg.AccessExpiry <= 0 || cfg.RefreshExpiry <= 0 {
		return nil, errors.New("token expiries must be positive")
	}
	return &TokenIssuer{
		accessKey:     []byte(cfg.AccessSecret),
		refreshKey:    []byte(cfg.RefreshSecret),
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		issuer:        cfg.Issuer,
		now:           time.Now,
	}, nil
}

// AccessExpiry returns the lifetime of access tokens.
func (t *TokenIssuer) AccessExpiry() time.Duration { return t.accessExpiry }

// RefreshExpiry returns the lifetime of refresh tokens.
func (t *TokenIssuer) RefreshExpiry() time.Duration { return t.refreshExpiry }

// IssueAccessToken signs a short-lived access token for userID.
func (t *TokenIssuer) IssueAccessToken(userID string) (string, time.Time, error) {
	return t.sign(userID, t.accessKey, t.accessExpiry)
}

// IssueRefreshToken signs a long-lived refresh token for userID.
func (t *TokenIssuer) IssueRefreshToken(userID string) (string, time.Time, error) {
	return t.sign(userID, t.refreshKey, t.refreshExpiry)
}

// IssuePair signs both tokens for userID.
func (t *TokenIssuer) IssuePair(userID string) (*models.TokenPair, error) {
	access, accessExp, err := t.IssueAccessToken(userID)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, refreshExp, err := t.IssueRefreshToken(userID)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &models.TokenPair{
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessTokenExpiresAt:  accessExp,
		RefreshTokenExpiresAt: refreshExp,
	}, nil
}

// ParseAccessToken verifies an access token and returns its claims.
func (t *TokenIssuer) ParseAccessToken(token string) (*models.TokenClaims, error) {
	return t.parse(token, t.accessKey)
}

// ParseRefreshToken verifies a refresh token and returns its claims.
func (t *TokenIssuer) ParseRefreshToken(token string) (*models.TokenClaims, error) {
	return t.parse(token, t.refreshKey)
}

func (t *TokenIssuer) sign(userID string, key []byte, ttl time.Duration) (string, time.Time, error) {
	issuedAt := t.now().UTC()
	expiresAt := issuedAt.Add(ttl)
	claims := &models.TokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    t.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (t *TokenIssuer) parse(tokenString string, key []byte) (*models.TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return nil, invalidToken(err)
	}
	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok || !token.Valid || claims.UserID == "" || claims.UserID != claims.Subject {
		return nil, invalidToken(errors.New("invalid token claims"))
	}
	return claims, nil
}

// invalidToken hides the reason a token was rejected behind one message.
func invalidToken(cause error) error {
	return appErrors.Wrap(cause, appErrors.ErrInvalidToken.Code, appErrors.ErrInvalidToken.Status, appErrors.ErrInvalidToken.Message)
}
