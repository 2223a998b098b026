// Package jwt implements identity.Authenticator with HS256 access tokens
// and opaque, database-backed refresh tokens.
package jwt

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/identity"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "incident-desk"

// Config contains token signing settings.
type Config struct {
	SecretKey            string
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration
}

// Claims is the access token payload.
type Claims struct {
	Role domain.Role `json:"role"`
	gojwt.RegisteredClaims
}

// Authenticator issues and validates tokens.
type Authenticator struct {
	config Config
	secret []byte
	repo   identity.Repository
	now    func() time.Time
}

// NewAuthenticator creates a JWT authenticator.
func NewAuthenticator(cfg Config, repo identity.Repository) *Authenticator {
	if cfg.AccessTokenDuration <= 0 {
		cfg.AccessTokenDuration = 15 * time.Minute
	}
	if cfg.RefreshTokenDuration <= 0 {
		cfg.RefreshTokenDuration = 7 * 24 * time.Hour
	}
	return &Authenticator{
		config: cfg,
		secret: []byte(cfg.SecretKey),
		repo:   repo,
		now:    time.Now,
	}
}

// Type returns the authenticator name.
func (a *Authenticator) Type() string {
	return "jwt"
}

// GenerateTokens signs an access token and stores a new refresh token.
func (a *Authenticator) GenerateTokens(ctx context.Context, user *domain.User) (*identity.TokenPair, error) {
	now := a.now()
	claims := Claims{
		Role: user.Role,
		RegisteredClaims: gojwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   user.ID,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(a.config.AccessTokenDuration)),
		},
	}
	access, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	err = a.repo.SaveRefreshToken(ctx, &domain.RefreshToken{
		UserID:    user.ID,
		Token:     refresh,
		ExpiresAt: now.Add(a.config.RefreshTokenDuration),
	})
	if err != nil {
		return nil, fmt.Errorf("save refresh token: %w", err)
	}

	return &identity.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// ValidateAccessToken verifies signature and expiry and returns the subject and role.
func (a *Authenticator) ValidateAccessToken(_ context.Context, token string) (string, domain.Role, error) {
	parsed, err := gojwt.ParseWithClaims(token, &Claims{}, func(t *gojwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithIssuer(issuer),
		gojwt.WithTimeFunc(a.now),
		gojwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", identity.ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" || !claims.Role.IsValid() {
		return "", "", identity.ErrInvalidToken
	}
	return claims.Subject, claims.Role, nil
}

// RefreshTokens consumes a refresh token and issues a new pair.
func (a *Authenticator) RefreshTokens(ctx context.Context, refreshToken string) (*identity.TokenPair, error) {
	stored, err := a.repo.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return nil, identity.ErrInvalidToken
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}

	if err := a.repo.DeleteRefreshToken(ctx, refreshToken); err != nil {
		return nil, fmt.Errorf("delete refresh token: %w", err)
	}
	if a.now().After(stored.ExpiresAt) {
		return nil, identity.ErrInvalidToken
	}

	user, err := a.repo.GetUserByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, identity.ErrInvalidToken
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user.IsDeleted() {
		return nil, identity.ErrInvalidToken
	}

	return a.GenerateTokens(ctx, user)
}

// RevokeRefreshToken deletes a refresh token. Unknown tokens are ignored.
func (a *Authenticator) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	err := a.repo.DeleteRefreshToken(ctx, refreshToken)
	if err != nil && !errors.Is(err, identity.ErrInvalidToken) {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
