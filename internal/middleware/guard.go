// AngelaMos | 2026
// guard.go

package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carterperez-dev/templates/identity-backend/internal/core"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Principal is the identity resolved from a verified access token. Role
// comes from the token claims, so it may lag a role change by at most one
// access token lifetime.
type Principal struct {
	UserID    string
	Role      string
	TokenID   string
	ExpiresAt time.Time
}

type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*Principal, error)
}

type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type Guard struct {
	verifier TokenVerifier
	denylist RevocationChecker
}

// NewGuard builds a guard; denylist may be nil when revocation is disabled.
func NewGuard(verifier TokenVerifier, denylist RevocationChecker) *Guard {
	return &Guard{verifier: verifier, denylist: denylist}
}

func (g *Guard) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, fmt.Errorf("authenticate: missing token: %w", core.ErrUnauthorized)
	}

	principal, err := g.verifier.VerifyAccessToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w: %w", core.ErrUnauthorized, err)
	}

	if g.denylist != nil && principal.TokenID != "" {
		revoked, err := g.denylist.IsRevoked(ctx, principal.TokenID)
		if err != nil {
			return nil, fmt.Errorf("authenticate: %w: %w", core.ErrUnavailable, err)
		}
		if revoked {
			return nil, fmt.Errorf(
				"authenticate: %w: %w",
				core.ErrUnauthorized,
				core.ErrTokenRevoked,
			)
		}
	}

	return principal, nil
}

func RoleSatisfies(have, want string) bool {
	if have == want {
		return true
	}
	return have == RoleAdmin && want == RoleUser
}

func (p *Principal) RequireRole(role string) error {
	if p == nil {
		return core.ErrUnauthorized
	}
	if !RoleSatisfies(p.Role, role) {
		return fmt.Errorf("require role %q: %w", role, core.ErrForbidden)
	}
	return nil
}

func (p *Principal) RequireSelfOrAdmin(targetUserID string) error {
	if p == nil {
		return core.ErrUnauthorized
	}
	if p.UserID == targetUserID || p.Role == RoleAdmin {
		return nil
	}
	return fmt.Errorf("require self or admin: %w", core.ErrForbidden)
}

func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

func authErrorResponse(err error) *core.AppError {
	if appErr, ok := core.AsAppError(err); ok {
		return appErr
	}

	switch {
	case errors.Is(err, core.ErrUnavailable):
		return core.UnavailableError()
	case errors.Is(err, core.ErrTokenExpired):
		return core.TokenExpiredError()
	case errors.Is(err, core.ErrTokenRevoked):
		return core.TokenRevokedError()
	case errors.Is(err, core.ErrTokenInvalid):
		return core.TokenInvalidError()
	case errors.Is(err, core.ErrForbidden):
		return core.ForbiddenError("")
	default:
		return core.UnauthorizedError("")
	}
}
