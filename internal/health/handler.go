// AngelaMos | 2026
// handler.go

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carterperez-dev/templates/identity-backend/internal/config"
)

const checkTimeout = 5 * time.Second

type Checker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exercises the cache beyond a ping.
type CacheChecker interface {
	Checker
	RoundTrip(ctx context.Context) error
}

type Config struct {
	App       config.AppConfig
	DB        Checker
	Cache     CacheChecker
	EmailMode func() string
	Now       func() time.Time
}

type Handler struct {
	app       config.AppConfig
	db        Checker
	cache     CacheChecker
	emailMode func() string
	now       func() time.Time
	ready     atomic.Bool
	shutdown  atomic.Bool
}

func NewHandler(cfg Config) *Handler {
	h := &Handler{
		app:       cfg.App,
		db:        cfg.DB,
		cache:     cfg.Cache,
		emailMode: cfg.EmailMode,
		now:       cfg.Now,
	}
	if h.now == nil {
		h.now = time.Now
	}
	h.ready.Store(true)
	return h
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Info)
	r.Get("/health/db", h.Database)
	r.Get("/health/cache", h.Cache)
	r.Get("/health/full", h.Full)

	r.Get("/healthz", h.Liveness)
	r.Get("/livez", h.Liveness)
	r.Get("/readyz", h.Readiness)
}

func (h *Handler) Info(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.shutdown.Load() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}

	h.writeStatus(w, code, InfoResponse{
		Status:      status,
		Name:        h.app.Name,
		Version:     h.app.Version,
		Environment: h.app.Environment,
		Timestamp:   h.now().UTC(),
	})
}

func (h *Handler) Database(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	h.writeCheck(w, h.checkDatabase(ctx))
}

func (h *Handler) Cache(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	h.writeCheck(w, h.checkCache(ctx))
}

func (h *Handler) Full(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	checks := h.runHealthChecks(ctx)
	status, code := summarize(checks)

	h.writeStatus(w, code, FullResponse{
		Status:    status,
		Name:      h.app.Name,
		Version:   h.app.Version,
		Timestamp: h.now().UTC(),
		Checks:    checks,
		Email:     h.currentEmailMode(),
	})
}

func (h *Handler) Liveness(w http.ResponseWriter, _ *http.Request) {
	if h.shutdown.Load() {
		h.writeStatus(w, http.StatusServiceUnavailable, StatusResponse{
			Status: "shutting_down",
		})
		return
	}

	h.writeStatus(w, http.StatusOK, StatusResponse{
		Status: "ok",
	})
}

func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.shutdown.Load() {
		h.writeStatus(w, http.StatusServiceUnavailable, StatusResponse{
			Status: "shutting_down",
		})
		return
	}

	if !h.ready.Load() {
		h.writeStatus(w, http.StatusServiceUnavailable, StatusResponse{
			Status: "not_ready",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	checks := h.runHealthChecks(ctx)
	status, code := summarize(checks)

	h.writeStatus(w, code, ReadinessResponse{
		Status: status,
		Checks: checks,
	})
}

func summarize(checks []HealthCheck) (string, int) {
	for _, check := range checks {
		if !check.Healthy {
			return "degraded", http.StatusServiceUnavailable
		}
	}
	return "ok", http.StatusOK
}

func (h *Handler) runHealthChecks(ctx context.Context) []HealthCheck {
	var wg sync.WaitGroup
	checks := make([]HealthCheck, 2)

	wg.Add(2)

	go func() {
		defer wg.Done()
		checks[0] = h.checkDatabase(ctx)
	}()

	go func() {
		defer wg.Done()
		checks[1] = h.checkCache(ctx)
	}()

	wg.Wait()
	return checks
}

func (h *Handler) checkDatabase(ctx context.Context) HealthCheck {
	if h.db == nil {
		return HealthCheck{Name: "database", Message: "database checker not configured"}
	}
	return probe(ctx, "database", h.db.Ping)
}

func (h *Handler) checkCache(ctx context.Context) HealthCheck {
	if h.cache == nil {
		return HealthCheck{Name: "cache", Message: "cache checker not configured"}
	}
	return probe(ctx, "cache", h.cache.RoundTrip)
}

func probe(ctx context.Context, name string, fn func(context.Context) error) HealthCheck {
	check := HealthCheck{Name: name, Healthy: true}

	start := time.Now()
	err := fn(ctx)
	check.Latency = time.Since(start).String()

	if err != nil {
		check.Healthy = false
		check.Message = "probe failed"
	}

	return check
}

func (h *Handler) currentEmailMode() string {
	if h.emailMode == nil {
		return "disabled"
	}
	return h.emailMode()
}

func (h *Handler) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *Handler) SetShutdown(shutdown bool) {
	h.shutdown.Store(shutdown)
}

func (h *Handler) writeCheck(w http.ResponseWriter, check HealthCheck) {
	status, code := summarize([]HealthCheck{check})
	h.writeStatus(w, code, CheckResponse{Status: status, HealthCheck: check})
}

func (h *Handler) writeStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	//nolint:errcheck // best-effort response
	_ = json.NewEncoder(w).Encode(data)
}

type StatusResponse struct {
	Status string `json:"status"`
}

type InfoResponse struct {
	Status      string    `json:"status"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
}

type ReadinessResponse struct {
	Status string        `json:"status"`
	Checks []HealthCheck `json:"checks"`
}

type FullResponse struct {
	Status    string        `json:"status"`
	Name      string        `json:"name"`
	Version   string        `json:"version"`
	Timestamp time.Time     `json:"timestamp"`
	Checks    []HealthCheck `json:"checks"`
	Email     string        `json:"email"`
}

type CheckResponse struct {
	Status string `json:"status"`
	HealthCheck
}

type HealthCheck struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}
