package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/mef/pkg/logging"
	"github.com/Ramsey-B/mef/pkg/metrics"
	"github.com/Ramsey-B/mef/pkg/routes"
	"github.com/Ramsey-B/mef/pkg/routes/health"
)

func newServer(t *testing.T, checker *health.Checker) *echo.Echo {
	t.Helper()
	e, err := routes.New("mef-test", checker, logging.Discard())
	require.NoError(t, err)
	return e
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, health.HealthStatus) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var status health.HealthStatus
	if path != "/metrics" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	}
	return rec, status
}

func TestHealth(t *testing.T) {
	checker := health.NewChecker("test")
	e := newServer(t, checker)

	rec, status := get(t, e, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, health.StatusHealthy, status.Status)
	assert.Equal(t, "test", status.Version)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		storeErr   error
		wantCode   int
		wantStatus map[string]string
	}{
		{
			name:       "starting",
			ready:      false,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: map[string]string{"startup": health.StatusUnhealthy, "store": health.StatusHealthy},
		},
		{
			name:       "ready",
			ready:      true,
			wantCode:   http.StatusOK,
			wantStatus: map[string]string{"store": health.StatusHealthy},
		},
		{
			name:       "store down",
			ready:      true,
			storeErr:   errors.New("connection refused"),
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: map[string]string{"store": health.StatusUnhealthy},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := health.NewChecker("test")
			checker.Register("store", func(context.Context) error { return tt.storeErr })
			checker.SetReady(tt.ready)
			e := newServer(t, checker)

			rec, status := get(t, e, "/ready")
			assert.Equal(t, tt.wantCode, rec.Code)
			require.Len(t, status.Checks, len(tt.wantStatus))
			for name, want := range tt.wantStatus {
				assert.Equal(t, want, status.Checks[name].Status, name)
			}
			if tt.storeErr != nil {
				assert.Equal(t, "connection refused", status.Checks["store"].Message)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	metrics.RecordAction("gnd", "agents", "CREATE")
	e := newServer(t, health.NewChecker("test"))

	rec, _ := get(t, e, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mef_records_actions_total")
}

func TestUnknownRoute(t *testing.T) {
	e := newServer(t, health.NewChecker("test"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServersKeepTheirOwnChecker(t *testing.T) {
	first := newServer(t, health.NewChecker("v1"))
	second := newServer(t, health.NewChecker("v2"))

	_, status := get(t, first, "/health")
	assert.Equal(t, "v1", status.Version)
	_, status = get(t, second, "/health")
	assert.Equal(t, "v2", status.Version)
}
