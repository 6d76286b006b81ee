// AngelaMos | 2026
// jwt.go

package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/carterperez-dev/templates/identity-backend/internal/config"
	"github.com/carterperez-dev/templates/identity-backend/internal/core"
	"github.com/carterperez-dev/templates/identity-backend/internal/middleware"
)

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
	TokenVerify  TokenType = "verify"
)

const verifyEmailPurpose = "verify-email"

// Subject is the identity a token is issued for.
type Subject struct {
	ID   string
	Role string
}

type Claims struct {
	Subject   string
	Role      string
	Type      TokenType
	Purpose   string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type IssuedToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// TokenService signs each token type with its own key: access tokens with
// the ES256 key pair published through JWKS, refresh tokens with HS512 and
// verification tokens with HS256 over separate secrets.
type TokenService struct {
	privateKey jwk.Key
	publicKey  jwk.Key
	publicJWKS jwk.Set
	refreshKey []byte
	verifyKey  []byte
	config     config.JWTConfig
	now        func() time.Time
}

type TokenOption func(*TokenService)

func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

func NewTokenService(cfg config.JWTConfig, opts ...TokenOption) (*TokenService, error) {
	privateKeyPEM, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	privateKey, err := jwk.ParseKey(privateKeyPEM, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	if setErr := privateKey.Set(jwk.AlgorithmKey, jwa.ES256()); setErr != nil {
		return nil, fmt.Errorf("set algorithm: %w", setErr)
	}

	keyID := uuid.New().String()[:8]
	if setErr := privateKey.Set(jwk.KeyIDKey, keyID); setErr != nil {
		return nil, fmt.Errorf("set key id: %w", setErr)
	}

	publicKey, err := privateKey.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}

	if setErr := publicKey.Set(jwk.KeyUsageKey, "sig"); setErr != nil {
		return nil, fmt.Errorf("set key usage: %w", setErr)
	}

	publicJWKS := jwk.NewSet()
	if addErr := publicJWKS.AddKey(publicKey); addErr != nil {
		return nil, fmt.Errorf("add key to set: %w", addErr)
	}

	if cfg.RefreshSecret == "" || cfg.VerificationSecret == "" {
		return nil, fmt.Errorf("refresh and verification secrets are required")
	}

	s := &TokenService{
		privateKey: privateKey,
		publicKey:  publicKey,
		publicJWKS: publicJWKS,
		refreshKey: []byte(cfg.RefreshSecret),
		verifyKey:  []byte(cfg.VerificationSecret),
		config:     cfg,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func GenerateKeyPair(privateKeyPath, publicKeyPath string) error {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	jwkPrivate, err := jwk.Import(privateKey)
	if err != nil {
		return fmt.Errorf("import private key: %w", err)
	}

	privatePEM, err := jwk.Pem(jwkPrivate)
	if err != nil {
		return fmt.Errorf("encode private key: %w", err)
	}

	if writeErr := os.WriteFile(privateKeyPath, privatePEM, 0o600); writeErr != nil {
		return fmt.Errorf("write private key: %w", writeErr)
	}

	jwkPublic, err := jwkPrivate.PublicKey()
	if err != nil {
		return fmt.Errorf("derive public key: %w", err)
	}

	publicPEM, err := jwk.Pem(jwkPublic)
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}

	//nolint:gosec // G306: public key is intentionally world-readable
	if writeErr := os.WriteFile(publicKeyPath, publicPEM, 0o644); writeErr != nil {
		return fmt.Errorf("write public key: %w", writeErr)
	}

	return nil
}

func (s *TokenService) IssueAccessToken(sub Subject) (*IssuedToken, error) {
	return s.issue(sub, TokenAccess, s.config.AccessTokenExpire)
}

func (s *TokenService) IssueRefreshToken(sub Subject) (*IssuedToken, error) {
	return s.issue(sub, TokenRefresh, s.config.RefreshTokenExpire)
}

func (s *TokenService) IssueVerificationToken(sub Subject) (*IssuedToken, error) {
	return s.issue(sub, TokenVerify, s.config.VerificationTokenExpire)
}

func (s *TokenService) AccessTTL() time.Duration {
	return s.config.AccessTokenExpire
}

func (s *TokenService) issue(
	sub Subject,
	typ TokenType,
	ttl time.Duration,
) (*IssuedToken, error) {
	now := s.now().Truncate(time.Second)
	jti := uuid.New().String()
	expiresAt := now.Add(ttl)

	builder := jwt.NewBuilder().
		JwtID(jti).
		Issuer(s.config.Issuer).
		Audience([]string{s.config.Audience}).
		Subject(sub.ID).
		IssuedAt(now).
		NotBefore(now).
		Expiration(expiresAt).
		Claim("type", string(typ))

	if typ == TokenVerify {
		builder = builder.Claim("purpose", verifyEmailPurpose)
	} else {
		builder = builder.Claim("role", sub.Role)
	}

	token, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s token: %w", typ, err)
	}

	alg, key := s.signingKey(typ)
	signed, err := jwt.Sign(token, jwt.WithKey(alg, key))
	if err != nil {
		return nil, fmt.Errorf("sign %s token: %w", typ, err)
	}

	return &IssuedToken{
		Token:     string(signed),
		ID:        jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *TokenService) signingKey(typ TokenType) (jwa.SignatureAlgorithm, any) {
	switch typ {
	case TokenRefresh:
		return jwa.HS512(), s.refreshKey
	case TokenVerify:
		return jwa.HS256(), s.verifyKey
	default:
		return jwa.ES256(), s.privateKey
	}
}

func (s *TokenService) verificationKey(typ TokenType) (jwa.SignatureAlgorithm, any) {
	if typ == TokenAccess {
		return jwa.ES256(), s.publicKey
	}
	return s.signingKey(typ)
}

// Verify checks the signature with the key bound to expected, then the
// embedded type, expiry, subject, issuer and audience. An expired token
// always reports ErrTokenExpired; every other failure is ErrTokenInvalid.
func (s *TokenService) Verify(
	ctx context.Context,
	tokenString string,
	expected TokenType,
) (*Claims, error) {
	_, span := core.StartSpan(ctx, "token.verify")
	defer span.End()

	alg, key := s.verificationKey(expected)
	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKey(alg, key),
		jwt.WithValidate(false),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", core.ErrTokenInvalid)
	}

	var tokenType string
	if err := token.Get("type", &tokenType); err != nil ||
		TokenType(tokenType) != expected {
		return nil, fmt.Errorf(
			"verify token: invalid token type: %w",
			core.ErrTokenInvalid,
		)
	}

	expiresAt, ok := token.Expiration()
	if !ok {
		return nil, fmt.Errorf("verify token: missing exp: %w", core.ErrTokenInvalid)
	}
	if !expiresAt.After(s.now()) {
		return nil, fmt.Errorf("verify token: %w", core.ErrTokenExpired)
	}

	subject, ok := token.Subject()
	if !ok || subject == "" {
		return nil, fmt.Errorf(
			"verify token: missing subject: %w",
			core.ErrTokenInvalid,
		)
	}

	if issuer, _ := token.Issuer(); issuer != s.config.Issuer {
		return nil, fmt.Errorf("verify token: issuer mismatch: %w", core.ErrTokenInvalid)
	}

	if audience, _ := token.Audience(); !slices.Contains(audience, s.config.Audience) {
		return nil, fmt.Errorf("verify token: audience mismatch: %w", core.ErrTokenInvalid)
	}

	claims := &Claims{
		Subject:   subject,
		Type:      expected,
		ExpiresAt: expiresAt,
	}
	claims.ID, _ = token.JwtID()
	claims.IssuedAt, _ = token.IssuedAt()

	if expected == TokenVerify {
		if err := token.Get("purpose", &claims.Purpose); err != nil ||
			claims.Purpose != verifyEmailPurpose {
			return nil, fmt.Errorf(
				"verify token: invalid purpose: %w",
				core.ErrTokenInvalid,
			)
		}
		return claims, nil
	}

	if err := token.Get("role", &claims.Role); err != nil || claims.Role == "" {
		return nil, fmt.Errorf(
			"verify token: missing role claim: %w",
			core.ErrTokenInvalid,
		)
	}

	return claims, nil
}

// VerifyAccessToken adapts Verify to the middleware guard.
func (s *TokenService) VerifyAccessToken(
	ctx context.Context,
	tokenString string,
) (*middleware.Principal, error) {
	claims, err := s.Verify(ctx, tokenString, TokenAccess)
	if err != nil {
		return nil, err
	}

	return &middleware.Principal{
		UserID:    claims.Subject,
		Role:      claims.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func (s *TokenService) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")

		if err := json.NewEncoder(w).Encode(s.publicJWKS); err != nil {
			http.Error(
				w,
				"Internal Server Error",
				http.StatusInternalServerError,
			)
			return
		}
	}
}

func (s *TokenService) KeyID() string {
	var kid string
	//nolint:errcheck // key ID always set during NewTokenService
	_ = s.privateKey.Get(jwk.KeyIDKey, &kid)
	return kid
}
