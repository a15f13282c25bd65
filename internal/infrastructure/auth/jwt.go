package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/o2o/erpsync/internal/infrastructure/config"
)

// Scope grants access to a group of API routes
type Scope string

const (
	ScopeAllocate Scope = "numbering:allocate"
	ScopeCounters Scope = "numbering:read"
	ScopeSyncRun  Scope = "sync:run"
	ScopeSyncRead Scope = "sync:read"
	ScopeTunnels  Scope = "tunnel:admin"
)

// AllScopes lists every scope, in the order tokens print them
var AllScopes = []Scope{ScopeAllocate, ScopeCounters, ScopeSyncRun, ScopeSyncRead, ScopeTunnels}

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrMissingSubject   = errors.New("missing subject in claims")
	ErrUnknownScope     = errors.New("unknown scope")
	ErrMissingSecret    = errors.New("jwt secret is not configured")
)

// Claims are the claims carried by an API token. Subject names the calling
// system, for example "frappe-procure".
type Claims struct {
	jwt.RegisteredClaims
	Scopes []Scope `json:"scopes"`
}

// HasScope reports whether the token grants s
func (c *Claims) HasScope(s Scope) bool {
	return slices.Contains(c.Scopes, s)
}

// IssuedToken is a signed token and its expiry
type IssuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	TokenType string    `json:"token_type"`
}

// TokenService signs and validates HS256 API tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService from the auth configuration
func NewTokenService(cfg config.AuthConfig) (*TokenService, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// ParseScopes converts names to scopes. An empty list means every scope.
func ParseScopes(names []string) ([]Scope, error) {
	if len(names) == 0 {
		return slices.Clone(AllScopes), nil
	}
	scopes := make([]Scope, 0, len(names))
	for _, n := range names {
		s := Scope(n)
		if !slices.Contains(AllScopes, s) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownScope, n)
		}
		if !slices.Contains(scopes, s) {
			scopes = append(scopes, s)
		}
	}
	return scopes, nil
}

// Issue signs a token for subject. A non-positive ttl uses the configured one.
func (s *TokenService) Issue(subject string, scopes []Scope, ttl time.Duration) (*IssuedToken, error) {
	if subject == "" {
		return nil, ErrMissingSubject
	}
	for _, sc := range scopes {
		if !slices.Contains(AllScopes, sc) {
			return nil, ErrUnknownScope
		}
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now()
	expires := now.Add(ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.issuer},
			ExpiresAt: jwt.NewNumericDate(expires),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Scopes: scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	return &IssuedToken{Token: signed, ExpiresAt: expires, TokenType: "Bearer"}, nil
}

// Validate parses tokenString and checks signature, lifetime, issuer and subject.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, ErrTokenNotYetValid
		default:
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}
