// AngelaMos | 2026
// fakes_test.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/identity-backend/internal/config"
	"github.com/carterperez-dev/templates/identity-backend/internal/core"
	"github.com/carterperez-dev/templates/identity-backend/internal/events"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: baseTime}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testJWTConfig(privatePath, publicPath string) config.JWTConfig {
	return config.JWTConfig{
		PrivateKeyPath:          privatePath,
		PublicKeyPath:           publicPath,
		RefreshSecret:           "refresh-secret-0123456789abcdef0123456789",
		VerificationSecret:      "verify-secret-0123456789abcdef0123456789ab",
		AccessTokenExpire:       15 * time.Minute,
		RefreshTokenExpire:      7 * 24 * time.Hour,
		VerificationTokenExpire: 24 * time.Hour,
		Issuer:                  "identity-backend",
		Audience:                "identity-backend-api",
	}
}

func writeKeyPair(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	privatePath := filepath.Join(dir, "private.pem")
	publicPath := filepath.Join(dir, "public.pem")
	require.NoError(t, GenerateKeyPair(privatePath, publicPath))
	return privatePath, publicPath
}

func newTestTokenService(t *testing.T, clock *testClock) *TokenService {
	t.Helper()
	privatePath, publicPath := writeKeyPair(t)
	svc, err := NewTokenService(
		testJWTConfig(privatePath, publicPath),
		WithTokenClock(clock.Now),
	)
	require.NoError(t, err)
	return svc
}

func fastHasher(t *testing.T) *core.Argon2Hasher {
	t.Helper()
	h, err := core.NewArgon2Hasher(core.ArgonParams{
		Time:    1,
		Memory:  64,
		Threads: 1,
		KeyLen:  16,
	})
	require.NoError(t, err)
	return h
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUsers struct {
	mu       sync.Mutex
	byID     map[string]*UserInfo
	rehashed map[string]string
	err      error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		byID:     make(map[string]*UserInfo),
		rehashed: make(map[string]string),
	}
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.byID {
		if strings.EqualFold(u.Email, email) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("get user: %w", core.ErrNotFound)
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("get user: %w", core.ErrNotFound)
	}
	clone := *u
	return &clone, nil
}

func (f *fakeUsers) Create(_ context.Context, p CreateUserParams) (*UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if strings.EqualFold(u.Email, p.Email) {
			return nil, fmt.Errorf("create user: %w", core.ErrDuplicateKey)
		}
	}
	u := &UserInfo{
		ID:           uuid.NewString(),
		Email:        p.Email,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		PasswordHash: p.PasswordHash,
		Role:         p.Role,
		CreatedAt:    p.CreatedAt,
	}
	f.byID[u.ID] = u
	clone := *u
	return &clone, nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return core.ErrNotFound
	}
	u.PasswordHash = hash
	f.rehashed[userID] = hash
	return nil
}

func (f *fakeUsers) MarkVerified(_ context.Context, userID string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return false, fmt.Errorf("mark verified: %w", core.ErrNotFound)
	}
	if u.IsVerified {
		return false, nil
	}
	u.IsVerified = true
	u.VerifiedAt = &at
	return true, nil
}

func (f *fakeUsers) setRole(id, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].Role = role
}

func (f *fakeUsers) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
}

type fakeLedger struct {
	mu     sync.Mutex
	tokens map[string]*VerificationToken
	marks  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{tokens: make(map[string]*VerificationToken)}
}

func (l *fakeLedger) Create(_ context.Context, token *VerificationToken) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	clone := *token
	l.tokens[token.ID] = &clone
	return nil
}

func (l *fakeLedger) FindByID(_ context.Context, id string) (*VerificationToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	token, ok := l.tokens[id]
	if !ok {
		return nil, fmt.Errorf("find verification token: %w", core.ErrNotFound)
	}
	clone := *token
	return &clone, nil
}

func (l *fakeLedger) MarkAsUsed(_ context.Context, id string, usedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marks++
	if token, ok := l.tokens[id]; ok && !token.IsUsed {
		token.IsUsed = true
		token.UsedAt = &usedAt
	}
	return nil
}

// removeUser drops every row owned by userID, as the users foreign key
// cascade does.
func (l *fakeLedger) removeUser(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, token := range l.tokens {
		if token.UserID == userID {
			delete(l.tokens, id)
		}
	}
}

func (l *fakeLedger) markCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.marks
}

func (l *fakeLedger) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for id, token := range l.tokens {
		if token.ExpiresAt.Before(now) {
			delete(l.tokens, id)
			n++
		}
	}
	return n, nil
}

type sentMessage struct {
	email string
	token string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *fakeNotifier) SendVerification(_ context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{email: email, token: token})
	return nil
}

func (n *fakeNotifier) last() sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[len(n.sent)-1]
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) ofType(typ events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, ev := range p.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

var errNotifierDown = errors.New("smtp down")

type testEnv struct {
	clock     *testClock
	tokens    *TokenService
	users     *fakeUsers
	ledger    *fakeLedger
	notifier  *fakeNotifier
	publisher *fakePublisher
	hasher    *core.Argon2Hasher
	service   *Service
}

type envOption func(*ServiceDeps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		clock:     newTestClock(),
		users:     newFakeUsers(),
		ledger:    newFakeLedger(),
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
		hasher:    fastHasher(t),
	}
	env.tokens = newTestTokenService(t, env.clock)

	deps := ServiceDeps{
		Repo:      env.ledger,
		Tokens:    env.tokens,
		Users:     env.users,
		Hasher:    env.hasher,
		Policy:    strictPolicy(),
		Notifier:  env.notifier,
		Publisher: env.publisher,
		Metrics:   core.NewMetrics("test"),
		Logger:    discardLogger(),
		Clock:     env.clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	env.service = NewService(deps)
	return env
}
