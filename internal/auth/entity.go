// AngelaMos | 2026
// entity.go

package auth

import (
	"time"
)

// VerificationToken is the ledger row for an issued email verification
// token, keyed by the token's jti.
type VerificationToken struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	ExpiresAt time.Time  `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
	IsUsed    bool       `db:"is_used"`
	UsedAt    *time.Time `db:"used_at"`
}

func (t *VerificationToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
