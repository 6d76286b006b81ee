// AngelaMos | 2026
// denylist.go

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const denylistPrefix = "denylist:"

// Denylist records revoked access token ids in Redis until the token would
// have expired on its own.
type Denylist struct {
	redis *redis.Client
	now   func() time.Time
}

func NewDenylist(client *redis.Client) *Denylist {
	return &Denylist{redis: client, now: time.Now}
}

func (d *Denylist) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(d.now())
	if ttl <= 0 {
		return nil
	}

	if err := d.redis.Set(ctx, denylistPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("denylist token: %w", err)
	}

	return nil
}

func (d *Denylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := d.redis.Exists(ctx, denylistPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check denylist: %w", err)
	}

	return exists > 0, nil
}
