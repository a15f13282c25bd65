package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o2o/erpsync/internal/infrastructure/config"
)

const testSecret = "test-secret-key-at-least-32-chars"

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	svc, err := NewTokenService(config.AuthConfig{
		Enabled:   true,
		JWTSecret: testSecret,
		Issuer:    "erpsync-test",
		TokenTTL:  time.Hour,
	})
	require.NoError(t, err)
	return svc
}

func TestNewTokenService(t *testing.T) {
	svc := newTestTokenService(t)
	assert.Equal(t, []byte(testSecret), svc.secret)
	assert.Equal(t, "erpsync-test", svc.issuer)
	assert.Equal(t, time.Hour, svc.ttl)

	_, err := NewTokenService(config.AuthConfig{Issuer: "x"})
	assert.ErrorIs(t, err, ErrMissingSecret)

	svc, err = NewTokenService(config.AuthConfig{JWTSecret: testSecret})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, svc.ttl)
}

func TestIssueAndValidate(t *testing.T) {
	svc := newTestTokenService(t)

	issued, err := svc.Issue("frappe-procure", []Scope{ScopeAllocate, ScopeCounters}, 0)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", issued.TokenType)
	assert.Len(t, strings.Split(issued.Token, "."), 3)
	assert.WithinDuration(t, time.Now().Add(time.Hour), issued.ExpiresAt, 5*time.Second)

	claims, err := svc.Validate(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "frappe-procure", claims.Subject)
	assert.Equal(t, "erpsync-test", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, claims.HasScope(ScopeAllocate))
	assert.True(t, claims.HasScope(ScopeCounters))
	assert.False(t, claims.HasScope(ScopeSyncRun))
}

func TestIssue_Validation(t *testing.T) {
	svc := newTestTokenService(t)

	_, err := svc.Issue("", AllScopes, 0)
	assert.ErrorIs(t, err, ErrMissingSubject)

	_, err = svc.Issue("ops", []Scope{"root"}, 0)
	assert.ErrorIs(t, err, ErrUnknownScope)
}

func TestValidate_Expired(t *testing.T) {
	svc := newTestTokenService(t)
	past := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return past }
	issued, err := svc.Issue("ops", AllScopes, time.Minute)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Validate(issued.Token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidate_NotYetValid(t *testing.T) {
	svc := newTestTokenService(t)
	future := time.Now().Add(time.Hour)
	svc.now = func() time.Time { return future }
	issued, err := svc.Issue("ops", AllScopes, 0)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Validate(issued.Token)
	assert.ErrorIs(t, err, ErrTokenNotYetValid)
}

func TestValidate_Rejects(t *testing.T) {
	svc := newTestTokenService(t)
	issued, err := svc.Issue("ops", AllScopes, 0)
	require.NoError(t, err)

	other, err := NewTokenService(config.AuthConfig{JWTSecret: "another-secret-key-at-least-32-chars", Issuer: "erpsync-test"})
	require.NoError(t, err)
	_, err = other.Validate(issued.Token)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	foreign, err := NewTokenService(config.AuthConfig{JWTSecret: testSecret, Issuer: "someone-else"})
	require.NoError(t, err)
	_, err = foreign.Validate(issued.Token)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")

	_, err = svc.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", Issuer: "erpsync-test", Audience: jwt.ClaimStrings{"erpsync-test"}},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Validate(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")
}

func TestValidate_MissingSubject(t *testing.T) {
	svc := newTestTokenService(t)
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "erpsync-test",
			Audience:  jwt.ClaimStrings{"erpsync-test"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = svc.Validate(signed)
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestParseScopes(t *testing.T) {
	all, err := ParseScopes(nil)
	require.NoError(t, err)
	assert.Equal(t, AllScopes, all)

	got, err := ParseScopes([]string{"sync:run", "sync:read", "sync:run"})
	require.NoError(t, err)
	assert.Equal(t, []Scope{ScopeSyncRun, ScopeSyncRead}, got)

	_, err = ParseScopes([]string{"sync:run", "admin"})
	assert.ErrorIs(t, err, ErrUnknownScope)
	assert.Contains(t, err.Error(), `"admin"`)
}
