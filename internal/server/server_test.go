// AngelaMos | 2026
// server_test.go

package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/identity-backend/internal/config"
)

type flag struct{ down atomic.Bool }

func (f *flag) SetShutdown(shutdown bool) { f.down.Store(shutdown) }

func TestAddress(t *testing.T) {
	assert.Equal(t, "0.0.0.0:8080", Address(config.ServerConfig{Host: "0.0.0.0", Port: 8080}))
	assert.Equal(t, "[::1]:9000", Address(config.ServerConfig{Host: "::1", Port: 9000}))
}

func TestServeAndShutdown(t *testing.T) {
	health := &flag{}
	srv := New(Config{
		ServerConfig: config.ServerConfig{
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			ShutdownTimeout: time.Second,
		},
		HealthHandler: health,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	srv.Router().Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "pong", string(body))

	require.NoError(t, srv.Shutdown(t.Context(), 10*time.Millisecond))
	assert.True(t, health.down.Load())
	assert.NoError(t, <-served)
}
