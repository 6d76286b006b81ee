// AngelaMos | 2026
// service.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/templates/identity-backend/internal/core"
	"github.com/carterperez-dev/templates/identity-backend/internal/events"
	"github.com/carterperez-dev/templates/identity-backend/internal/middleware"
)

type UserInfo struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         string
	IsVerified   bool
	VerifiedAt   *time.Time
	CreatedAt    time.Time
}

type CreateUserParams struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         string
	CreatedAt    time.Time
}

type UserProvider interface {
	GetByEmail(ctx context.Context, email string) (*UserInfo, error)
	GetByID(ctx context.Context, id string) (*UserInfo, error)
	Create(ctx context.Context, params CreateUserParams) (*UserInfo, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	MarkVerified(ctx context.Context, userID string, at time.Time) (bool, error)
}

type Notifier interface {
	SendVerification(ctx context.Context, email, token string) error
}

type ServiceDeps struct {
	Repo      Repository
	Tokens    *TokenService
	Users     UserProvider
	Hasher    core.Hasher
	Policy    *PasswordPolicy
	Notifier  Notifier
	Publisher events.Publisher
	Metrics   *core.Metrics
	Logger    *slog.Logger

	// Denylist is nil when access token revocation is disabled.
	Denylist *Denylist

	RequireVerifiedLogin bool
	Clock                func() time.Time
}

type Service struct {
	repo            Repository
	tokens          *TokenService
	users           UserProvider
	hasher          core.Hasher
	policy          *PasswordPolicy
	notifier        Notifier
	publisher       events.Publisher
	metrics         *core.Metrics
	logger          *slog.Logger
	denylist        *Denylist
	requireVerified bool
	now             func() time.Time
}

func NewService(deps ServiceDeps) *Service {
	s := &Service{
		repo:            deps.Repo,
		tokens:          deps.Tokens,
		users:           deps.Users,
		hasher:          deps.Hasher,
		policy:          deps.Policy,
		notifier:        deps.Notifier,
		publisher:       deps.Publisher,
		metrics:         deps.Metrics,
		logger:          deps.Logger,
		denylist:        deps.Denylist,
		requireVerified: deps.RequireVerifiedLogin,
		now:             deps.Clock,
	}

	if s.now == nil {
		s.now = time.Now
	}
	if s.publisher == nil {
		s.publisher = events.NoopPublisher{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s
}

type SignupInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

func (s *Service) Signup(ctx context.Context, in SignupInput) (user *UserInfo, err error) {
	ctx, span := core.StartSpan(ctx, "auth.signup")
	defer func() {
		core.SetSpanError(span, err)
		span.End()
		s.metrics.AuthEvent("signup", outcome(err))
	}()

	email := NormalizeEmail(in.Email)

	if err := s.policy.Validate(in.Password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailAlreadyRegistered
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err = s.users.Create(ctx, CreateUserParams{
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         middleware.RoleUser,
		CreatedAt:    s.now(),
	})
	if err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	span.SetAttributes(attribute.String("user.id", user.ID))

	if err := s.sendVerification(ctx, user); err != nil {
		s.logger.Error("verification delivery failed",
			"user_id", user.ID,
			"error", err,
		)
	}

	s.publish(ctx, events.Event{
		Type:   events.UserRegistered,
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		At:     s.now(),
	})

	return user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (pair *TokenPair, err error) {
	ctx, span := core.StartSpan(ctx, "auth.login")
	defer func() {
		core.SetSpanError(span, err)
		span.End()
		s.metrics.AuthEvent("login", outcome(err))
	}()

	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.hasher.VerifyMissing(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	valid, newHash, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}

	if !valid {
		return nil, ErrInvalidCredentials
	}

	if s.requireVerified && !user.IsVerified {
		return nil, ErrEmailNotVerified
	}

	if newHash != "" {
		if err := s.users.UpdatePassword(ctx, user.ID, newHash); err != nil {
			s.logger.Warn("password rehash failed", "user_id", user.ID, "error", err)
		}
	}

	subject := Subject{ID: user.ID, Role: user.Role}

	access, err := s.tokens.IssueAccessToken(subject)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	refresh, err := s.tokens.IssueRefreshToken(subject)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// Refresh issues a new access token for the refresh token's subject using
// the role currently stored, not the role captured at login.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (access *IssuedToken, err error) {
	ctx, span := core.StartSpan(ctx, "auth.refresh")
	defer func() {
		core.SetSpanError(span, err)
		span.End()
		s.metrics.AuthEvent("refresh", outcome(err))
	}()

	claims, err := s.tokens.Verify(ctx, refreshToken, TokenRefresh)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("refresh: subject gone: %w", core.ErrTokenInvalid)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	access, err = s.tokens.IssueAccessToken(Subject{ID: user.ID, Role: user.Role})
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	return access, nil
}

// VerifyEmail flips the subject to verified. The store update is
// conditional on is_verified=false, so a repeat with a still valid token is
// a no-op success and a user removed by the cleanup sweep reports
// core.ErrNotFound.
func (s *Service) VerifyEmail(ctx context.Context, token string) (user *UserInfo, err error) {
	ctx, span := core.StartSpan(ctx, "auth.verify_email")
	defer func() {
		core.SetSpanError(span, err)
		span.End()
		s.metrics.AuthEvent("verify_email", outcome(err))
	}()

	claims, err := s.tokens.Verify(ctx, token, TokenVerify)
	if err != nil {
		return nil, fmt.Errorf("verify email: %w", err)
	}

	record, err := s.repo.FindByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, s.missingLedgerRow(ctx, claims.Subject)
		}
		return nil, fmt.Errorf("verify email: %w", err)
	}

	if record.UserID != claims.Subject {
		return nil, fmt.Errorf("verify email: subject mismatch: %w", core.ErrTokenInvalid)
	}

	now := s.now()

	changed, err := s.users.MarkVerified(ctx, claims.Subject, now)
	if err != nil {
		return nil, fmt.Errorf("verify email: %w", err)
	}

	if !record.IsUsed {
		if err := s.repo.MarkAsUsed(ctx, record.ID, now); err != nil {
			s.logger.Warn("verification token not marked used",
				"token_id", record.ID,
				"error", err,
			)
		}
	}

	user, err = s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("verify email: %w", err)
	}

	if changed {
		s.publish(ctx, events.Event{
			Type:   events.UserVerified,
			UserID: user.ID,
			Email:  user.Email,
			At:     now,
		})
	}

	return user, nil
}

// missingLedgerRow classifies a signed verification token with no ledger
// row. Ledger rows cascade with their user, so a swept subject reports
// core.ErrNotFound; any other subject holds a token that was never recorded
// or already purged.
func (s *Service) missingLedgerRow(ctx context.Context, subject string) error {
	_, err := s.users.GetByID(ctx, subject)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return fmt.Errorf("verify email: user removed: %w", err)
	case err != nil:
		return fmt.Errorf("verify email: %w", err)
	default:
		return fmt.Errorf("verify email: unknown token: %w", core.ErrTokenInvalid)
	}
}

// ResendVerification sends a fresh token to an unverified account. Unknown
// and already verified addresses succeed silently.
func (s *Service) ResendVerification(ctx context.Context, email string) (err error) {
	ctx, span := core.StartSpan(ctx, "auth.resend_verification")
	defer func() {
		core.SetSpanError(span, err)
		span.End()
		s.metrics.AuthEvent("resend_verification", outcome(err))
	}()

	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get user: %w", err)
	}

	if user.IsVerified {
		return nil
	}

	return s.sendVerification(ctx, user)
}

func (s *Service) Logout(ctx context.Context, principal *middleware.Principal) error {
	if principal == nil {
		return core.ErrUnauthorized
	}

	if s.denylist == nil {
		return nil
	}

	if err := s.denylist.Revoke(ctx, principal.TokenID, principal.ExpiresAt); err != nil {
		return fmt.Errorf("logout: %w: %w", core.ErrUnavailable, err)
	}

	s.metrics.AuthEvent("logout", "success")
	return nil
}

func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	purged, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge verification tokens: %w", err)
	}

	if s.metrics != nil {
		s.metrics.PurgedTokens.Add(float64(purged))
	}

	return purged, nil
}

func (s *Service) AccessTTL() time.Duration {
	return s.tokens.AccessTTL()
}

func (s *Service) sendVerification(ctx context.Context, user *UserInfo) error {
	issued, err := s.tokens.IssueVerificationToken(Subject{ID: user.ID})
	if err != nil {
		return fmt.Errorf("issue verification token: %w", err)
	}

	if err := s.repo.Create(ctx, &VerificationToken{
		ID:        issued.ID,
		UserID:    user.ID,
		ExpiresAt: issued.ExpiresAt,
		CreatedAt: s.now(),
	}); err != nil {
		return fmt.Errorf("record verification token: %w", err)
	}

	if err := s.notifier.SendVerification(ctx, user.Email, issued.Token); err != nil {
		if s.metrics != nil {
			s.metrics.NotifyFailures.Inc()
		}
		s.logger.Error("verification notification failed",
			"user_id", user.ID,
			"error", err,
		)
	}

	return nil
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		if s.metrics != nil {
			s.metrics.PublishFailures.Inc()
		}
		s.logger.Warn("event publish failed",
			"type", ev.Type,
			"user_id", ev.UserID,
			"error", err,
		)
	}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}
