// AngelaMos | 2026
// ratelimit.go

package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/carterperez-dev/templates/identity-backend/internal/config"
	"github.com/carterperez-dev/templates/identity-backend/internal/core"
)

type RateLimitConfig struct {
	Limit      redis_rate.Limit
	KeyFunc    func(*http.Request) string
	FailOpen   bool
	BypassFunc func(*http.Request) bool
	Logger     *slog.Logger
}

// RateLimiter enforces a GCRA budget in Redis and degrades to an in-process
// token bucket per key when Redis cannot be reached.
type RateLimiter struct {
	limiter  *redis_rate.Limiter
	fallback *localLimiter
	config   RateLimitConfig
}

func NewRateLimiter(rdb *redis.Client, cfg RateLimitConfig) *RateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = KeyByIP
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &RateLimiter{
		limiter:  redis_rate.NewLimiter(rdb),
		fallback: newLocalLimiter(),
		config:   cfg,
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.config.BypassFunc != nil && rl.config.BypassFunc(r) {
			next.ServeHTTP(w, r)
			return
		}

		key := rl.config.KeyFunc(r)
		res, err := rl.allow(r.Context(), key)
		if err != nil {
			if rl.config.FailOpen {
				rl.config.Logger.Warn("rate limiter error, failing open",
					"error", err,
					"key", key,
				)
				next.ServeHTTP(w, r)
				return
			}
			core.JSONError(w, core.UnavailableError())
			return
		}

		setRateLimitHeaders(w, res, rl.config.Limit)

		if res.Allowed == 0 {
			writeRateLimitExceeded(w, res)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(
	ctx context.Context,
	key string,
) (*redis_rate.Result, error) {
	res, err := rl.limiter.Allow(ctx, key, rl.config.Limit)
	if err != nil {
		rl.config.Logger.Debug("redis rate limit unavailable, using local bucket",
			"error", err,
		)
		return rl.fallback.allow(key, rl.config.Limit), nil
	}
	return res, nil
}

// clientIP prefers the hop appended by the nearest proxy, then X-Real-IP,
// then the socket peer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		if ip := strings.TrimSpace(hops[len(hops)-1]); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func KeyByIP(r *http.Request) string {
	return "ratelimit:ip:" + clientIP(r)
}

// KeyByIPAndEndpoint buckets credential endpoints per client address so a
// burst of signups does not drain the login budget.
func KeyByIPAndEndpoint(r *http.Request) string {
	return KeyByIP(r) + ":endpoint:" + normalizeEndpoint(r.URL.Path)
}

// normalizeEndpoint collapses id segments so every user shares one bucket
// per route.
func normalizeEndpoint(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if isIDSegment(seg) {
			segments[i] = "{id}"
		}
	}
	return "/" + strings.Join(segments, "/")
}

func isIDSegment(seg string) bool {
	if len(seg) == 36 && uuid.Validate(seg) == nil {
		return true
	}
	_, err := strconv.ParseUint(seg, 10, 64)
	return err == nil
}

// setRateLimitHeaders emits the legacy X-RateLimit trio plus the combined
// RateLimit and RateLimit-Policy fields.
func setRateLimitHeaders(
	w http.ResponseWriter,
	res *redis_rate.Result,
	limit redis_rate.Limit,
) {
	reset := int64(res.ResetAfter.Round(time.Second) / time.Second)
	window := int64(limit.Period / time.Second)

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit.Rate))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Unix()+reset, 10))
	h.Set("RateLimit", fmt.Sprintf(
		"limit=%d, remaining=%d, reset=%d", limit.Rate, res.Remaining, reset,
	))
	h.Set("RateLimit-Policy", fmt.Sprintf("%d;w=%d", limit.Rate, window))
}

func writeRateLimitExceeded(w http.ResponseWriter, res *redis_rate.Result) {
	retryAfter := max(int(res.RetryAfter.Seconds()), 1)

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	core.JSON(w, http.StatusTooManyRequests, core.Response{
		Success: false,
		Error: &core.ErrorBody{
			Code: "RATE_LIMITED",
			Message: fmt.Sprintf(
				"rate limit exceeded, retry after %d seconds",
				retryAfter,
			),
		},
	})
}

const (
	localPruneInterval = 5 * time.Minute
	localBucketTTL     = 10 * time.Minute
)

// localLimiter is the per-process token bucket used while Redis is
// unreachable. Idle buckets are pruned on access.
type localLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*localBucket
	lastPrune time.Time
	now       func() time.Time
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLocalLimiter() *localLimiter {
	return &localLimiter{
		buckets: make(map[string]*localBucket),
		now:     time.Now,
	}
}

func (l *localLimiter) allow(key string, limit redis_rate.Limit) *redis_rate.Result {
	now := l.now()
	interval := bucketInterval(limit)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{limiter: rate.NewLimiter(rate.Every(interval), limit.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	res := &redis_rate.Result{
		Limit:      limit,
		RetryAfter: -1,
		ResetAfter: interval,
	}

	reservation := b.limiter.ReserveN(now, 1)
	switch delay := reservation.DelayFrom(now); {
	case !reservation.OK():
		res.RetryAfter = interval
	case delay > 0:
		reservation.CancelAt(now)
		res.RetryAfter = delay
	default:
		res.Allowed = 1
	}

	res.Remaining = max(int(b.limiter.TokensAt(now)), 0)
	return res
}

func (l *localLimiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < localPruneInterval {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > localBucketTTL {
			delete(l.buckets, key)
		}
	}
	l.lastPrune = now
}

func (l *localLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func bucketInterval(limit redis_rate.Limit) time.Duration {
	if limit.Rate <= 0 {
		return limit.Period
	}
	return limit.Period / time.Duration(limit.Rate)
}

// GlobalLimit is the per-client budget applied to every route.
func GlobalLimit(cfg config.RateLimitConfig) redis_rate.Limit {
	return windowLimit(cfg.Requests, cfg.Burst, cfg.Window)
}

// AuthLimit is the tighter budget for signup, login and resend.
func AuthLimit(cfg config.RateLimitConfig) redis_rate.Limit {
	return windowLimit(cfg.AuthRequests, cfg.AuthBurst, cfg.Window)
}

func windowLimit(requests, burst int, window time.Duration) redis_rate.Limit {
	if window <= 0 {
		window = time.Minute
	}
	if burst <= 0 {
		burst = requests
	}
	return redis_rate.Limit{
		Rate:   requests,
		Burst:  burst,
		Period: window,
	}
}
