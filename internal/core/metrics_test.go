// AngelaMos | 2026
// metrics_test.go

package core

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveSweep(t *testing.T) {
	m := NewMetrics("identity")

	m.ObserveSweep(3, 10*time.Millisecond, nil)
	m.ObserveSweep(0, time.Millisecond, errors.New("db down"))

	assert.InDelta(t, 3, testutil.ToFloat64(m.SweptUsers), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SweepFailures), 0)
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AuthEvent("login", "success")
		m.ObserveSweep(1, time.Second, nil)
	})
}

func TestMetrics_HandlerExposesText(t *testing.T) {
	m := NewMetrics("identity")
	m.AuthEvent("signup", "success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `identity_auth_events_total{event="signup",outcome="success"} 1`)
}
