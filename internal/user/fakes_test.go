// AngelaMos | 2026
// fakes_test.go

package user

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/identity-backend/internal/auth"
	"github.com/carterperez-dev/templates/identity-backend/internal/config"
	"github.com/carterperez-dev/templates/identity-backend/internal/core"
	"github.com/carterperez-dev/templates/identity-backend/internal/events"
	"github.com/carterperez-dev/templates/identity-backend/internal/middleware"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return baseTime }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
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

func testPolicy() *auth.PasswordPolicy {
	return auth.NewPasswordPolicy(config.PasswordPolicy{
		MinLength:      8,
		MaxLength:      128,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	})
}

type fakeRepo struct {
	mu        sync.Mutex
	users     map[string]*User
	err       error
	updateErr error
}

func newFakeRepo(users ...*User) *fakeRepo {
	r := &fakeRepo{users: make(map[string]*User)}
	for _, u := range users {
		clone := *u
		r.users[u.ID] = &clone
	}
	return r
}

func (r *fakeRepo) get(id string) *User {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil
	}
	clone := *u
	return &clone
}

func (r *fakeRepo) Create(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return fmt.Errorf("create user: %w", core.ErrDuplicateKey)
		}
	}
	user.UpdatedAt = user.CreatedAt
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("get user: %w", core.ErrNotFound)
	}
	clone := *u
	return &clone, nil
}

func (r *fakeRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("get user by email: %w", core.ErrNotFound)
}

func (r *fakeRepo) Update(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	u, ok := r.users[user.ID]
	if !ok {
		return fmt.Errorf("update user: %w", core.ErrNotFound)
	}
	u.FirstName = user.FirstName
	u.LastName = user.LastName
	u.Role = user.Role
	u.PasswordHash = user.PasswordHash
	u.UpdatedAt = user.UpdatedAt
	return nil
}

func (r *fakeRepo) UpdatePassword(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("update password: %w", core.ErrNotFound)
	}
	u.PasswordHash = hash
	return nil
}

func (r *fakeRepo) MarkVerified(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
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

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return fmt.Errorf("delete user: %w", core.ErrNotFound)
	}
	delete(r.users, id)
	return nil
}

func (r *fakeRepo) List(_ context.Context, params ListUsersParams) ([]User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, 0, r.err
	}
	params.Normalize()

	var matched []User
	for _, u := range r.users {
		if params.Role != "" && u.Role != params.Role {
			continue
		}
		if params.Verified != nil && u.IsVerified != *params.Verified {
			continue
		}
		if params.Search != "" && !strings.Contains(u.Email, params.Search) {
			continue
		}
		matched = append(matched, *u)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Email < matched[j].Email })

	total := len(matched)
	start := min(params.Offset(), total)
	end := min(start+params.PageSize, total)
	return matched[start:end], total, nil
}

func (r *fakeRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) DeleteUnverifiedBefore(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, u := range r.users {
		if len(ids) == limit {
			break
		}
		if !u.IsVerified && u.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(r.users, id)
	}
	return ids, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
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

// stubVerifier resolves bearer tokens from a fixed table.
type stubVerifier map[string]*middleware.Principal

func (s stubVerifier) VerifyAccessToken(_ context.Context, token string) (*middleware.Principal, error) {
	p, ok := s[token]
	if !ok {
		return nil, core.ErrTokenInvalid
	}
	return p, nil
}

func seedUsers() []*User {
	return []*User{
		{
			ID:        "admin-1",
			Email:     "admin@x.com",
			FirstName: "Ada",
			Role:      RoleAdmin,
			CreatedAt: baseTime.Add(-72 * time.Hour),
			UpdatedAt: baseTime.Add(-72 * time.Hour),
		},
		{
			ID:         "user-1",
			Email:      "alice@x.com",
			FirstName:  "Alice",
			Role:       RoleUser,
			IsVerified: true,
			CreatedAt:  baseTime.Add(-48 * time.Hour),
			UpdatedAt:  baseTime.Add(-48 * time.Hour),
		},
		{
			ID:        "user-2",
			Email:     "bob@x.com",
			FirstName: "Bob",
			Role:      RoleUser,
			CreatedAt: baseTime.Add(-24 * time.Hour),
			UpdatedAt: baseTime.Add(-24 * time.Hour),
		},
	}
}

type testEnv struct {
	repo      *fakeRepo
	publisher *fakePublisher
	hasher    *core.Argon2Hasher
	service   *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:      newFakeRepo(seedUsers()...),
		publisher: &fakePublisher{},
		hasher:    fastHasher(t),
	}
	env.service = NewService(
		env.repo,
		env.hasher,
		testPolicy(),
		env.publisher,
		discardLogger(),
		WithClock(fixedClock),
	)
	return env
}
