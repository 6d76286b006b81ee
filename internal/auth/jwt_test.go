// AngelaMos | 2026
// jwt_test.go

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/identity-backend/internal/core"
)

func TestTokenService_AccessRoundTrip(t *testing.T) {
	clock := newTestClock()
	svc := newTestTokenService(t, clock)

	issued, err := svc.IssueAccessToken(Subject{ID: "user-1", Role: "admin"})
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ID)
	assert.Equal(t, baseTime.Add(15*time.Minute), issued.ExpiresAt)

	claims, err := svc.Verify(context.Background(), issued.Token, TokenAccess)
	require.NoError(t, err)

	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, TokenAccess, claims.Type)
	assert.Equal(t, issued.ID, claims.ID)
	assert.True(t, baseTime.Equal(claims.IssuedAt))
	assert.True(t, issued.ExpiresAt.Equal(claims.ExpiresAt))
}

func TestTokenService_TypeMismatchIsInvalid(t *testing.T) {
	clock := newTestClock()
	svc := newTestTokenService(t, clock)
	sub := Subject{ID: "user-1", Role: "user"}

	access, err := svc.IssueAccessToken(sub)
	require.NoError(t, err)
	refresh, err := svc.IssueRefreshToken(sub)
	require.NoError(t, err)
	verify, err := svc.IssueVerificationToken(sub)
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		expected TokenType
	}{
		{"refresh presented as access", refresh.Token, TokenAccess},
		{"access presented as refresh", access.Token, TokenRefresh},
		{"verify presented as refresh", verify.Token, TokenRefresh},
		{"refresh presented as verify", refresh.Token, TokenVerify},
		{"access presented as verify", access.Token, TokenVerify},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(context.Background(), tt.token, tt.expected)
			assert.ErrorIs(t, err, core.ErrTokenInvalid)
			assert.NotErrorIs(t, err, core.ErrTokenExpired)
		})
	}
}

func TestTokenService_ExpiredIsDistinct(t *testing.T) {
	clock := newTestClock()
	svc := newTestTokenService(t, clock)
	sub := Subject{ID: "user-1", Role: "user"}

	access, err := svc.IssueAccessToken(sub)
	require.NoError(t, err)
	refresh, err := svc.IssueRefreshToken(sub)
	require.NoError(t, err)
	verify, err := svc.IssueVerificationToken(sub)
	require.NoError(t, err)

	clock.Advance(15 * time.Minute)
	_, err = svc.Verify(context.Background(), access.Token, TokenAccess)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
	assert.NotErrorIs(t, err, core.ErrTokenInvalid)

	_, err = svc.Verify(context.Background(), refresh.Token, TokenRefresh)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	_, err = svc.Verify(context.Background(), verify.Token, TokenVerify)
	assert.ErrorIs(t, err, core.ErrTokenExpired)

	clock.Advance(7 * 24 * time.Hour)
	_, err = svc.Verify(context.Background(), refresh.Token, TokenRefresh)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestTokenService_MalformedAndTampered(t *testing.T) {
	clock := newTestClock()
	svc := newTestTokenService(t, clock)

	access, err := svc.IssueAccessToken(Subject{ID: "user-1", Role: "user"})
	require.NoError(t, err)

	tampered := []byte(access.Token)
	last := len(tampered) - 2
	if tampered[last] == 'A' {
		tampered[last] = 'B'
	} else {
		tampered[last] = 'A'
	}

	for _, tok := range []string{"", "not-a-jwt", "a.b.c", string(tampered)} {
		_, err := svc.Verify(context.Background(), tok, TokenAccess)
		assert.ErrorIs(t, err, core.ErrTokenInvalid, "token %q", tok)
	}
}

func TestTokenService_ForeignKeyRejected(t *testing.T) {
	clock := newTestClock()
	issuer := newTestTokenService(t, clock)
	verifier := newTestTokenService(t, clock)

	access, err := issuer.IssueAccessToken(Subject{ID: "user-1", Role: "user"})
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), access.Token, TokenAccess)
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestTokenService_IssuerAndAudienceChecked(t *testing.T) {
	clock := newTestClock()
	privatePath, publicPath := writeKeyPair(t)

	cfg := testJWTConfig(privatePath, publicPath)
	verifier, err := NewTokenService(cfg, WithTokenClock(clock.Now))
	require.NoError(t, err)

	otherIssuer := cfg
	otherIssuer.Issuer = "someone-else"
	foreign, err := NewTokenService(otherIssuer, WithTokenClock(clock.Now))
	require.NoError(t, err)

	otherAudience := cfg
	otherAudience.Audience = "another-api"
	stranger, err := NewTokenService(otherAudience, WithTokenClock(clock.Now))
	require.NoError(t, err)

	sub := Subject{ID: "user-1", Role: "user"}

	tok, err := foreign.IssueRefreshToken(sub)
	require.NoError(t, err)
	_, err = verifier.Verify(context.Background(), tok.Token, TokenRefresh)
	assert.ErrorIs(t, err, core.ErrTokenInvalid)

	tok, err = stranger.IssueRefreshToken(sub)
	require.NoError(t, err)
	_, err = verifier.Verify(context.Background(), tok.Token, TokenRefresh)
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestTokenService_VerificationTokenClaims(t *testing.T) {
	clock := newTestClock()
	svc := newTestTokenService(t, clock)

	issued, err := svc.IssueVerificationToken(Subject{ID: "user-9"})
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(24*time.Hour), issued.ExpiresAt)

	claims, err := svc.Verify(context.Background(), issued.Token, TokenVerify)
	require.NoError(t, err)
	assert.Equal(t, "user-9", claims.Subject)
	assert.Equal(t, "verify-email", claims.Purpose)
	assert.Empty(t, claims.Role)
}

func TestTokenService_VerifyAccessToken(t *testing.T) {
	clock := newTestClock()
	svc := newTestTokenService(t, clock)

	issued, err := svc.IssueAccessToken(Subject{ID: "user-1", Role: "user"})
	require.NoError(t, err)

	principal, err := svc.VerifyAccessToken(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", principal.UserID)
	assert.Equal(t, "user", principal.Role)
	assert.Equal(t, issued.ID, principal.TokenID)
	assert.True(t, issued.ExpiresAt.Equal(principal.ExpiresAt))
}

func TestTokenService_JWKSHandler(t *testing.T) {
	svc := newTestTokenService(t, newTestClock())

	rec := httptest.NewRecorder()
	svc.JWKSHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Keys, 1)
	assert.Equal(t, "EC", body.Keys[0]["kty"])
	assert.Equal(t, svc.KeyID(), body.Keys[0]["kid"])
	assert.NotContains(t, body.Keys[0], "d")
}

func TestNewTokenService_Errors(t *testing.T) {
	privatePath, publicPath := writeKeyPair(t)

	cfg := testJWTConfig(filepath.Join(t.TempDir(), "missing.pem"), publicPath)
	_, err := NewTokenService(cfg)
	assert.Error(t, err)

	cfg = testJWTConfig(privatePath, publicPath)
	cfg.RefreshSecret = ""
	_, err = NewTokenService(cfg)
	assert.Error(t, err)
}
