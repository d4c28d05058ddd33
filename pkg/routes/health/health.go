// Package health serves the ops routes: liveness, readiness and metrics.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// CheckTimeout bounds each dependency ping.
const CheckTimeout = 5 * time.Second

// Check pings one dependency.
type Check func(ctx context.Context) error

// Checker handles health check endpoints
type Checker struct {
	version   string
	startTime time.Time
	ready     atomic.Bool

	mu     sync.RWMutex
	checks map[string]Check
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		version:   version,
		startTime: time.Now(),
		checks:    map[string]Check{},
	}
}

// Register adds a dependency check run by /ready.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// SetReady sets the readiness state
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// RegisterRoutes registers the ops endpoints. The handlers resolve the
// Checker from the request's dependency container.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", health)
	e.GET("/ready", ready)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func requireChecker(c echo.Context) (*Checker, error) {
	_, checker, err := ectoinject.GetContext[*Checker](c.Request().Context())
	if err != nil || checker == nil {
		return nil, httperror.NewHTTPError(http.StatusServiceUnavailable, "health checker unavailable")
	}
	return checker, nil
}

func health(c echo.Context) error {
	checker, err := requireChecker(c)
	if err != nil {
		return err
	}
	return checker.Health(c)
}

func ready(c echo.Context) error {
	checker, err := requireChecker(c)
	if err != nil {
		return err
	}
	return checker.Ready(c)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	Checks     map[string]*CheckResult `json:"checks,omitempty"`
	ReportedAt time.Time               `json:"reported_at"`
}

// CheckResult represents an individual check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Health reports that the process is up.
func (c *Checker) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &HealthStatus{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		ReportedAt: time.Now(),
	})
}

// Ready pings every registered dependency. It answers 503 until SetReady(true)
// and whenever a dependency fails.
func (c *Checker) Ready(ctx echo.Context) error {
	status := &HealthStatus{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     c.run(ctx.Request().Context()),
		ReportedAt: time.Now(),
	}
	if !c.ready.Load() {
		status.Status = StatusUnhealthy
		status.Checks["startup"] = &CheckResult{Status: StatusUnhealthy, Message: "service is still starting up"}
	}
	for _, check := range status.Checks {
		if check.Status == StatusUnhealthy {
			status.Status = StatusUnhealthy
		}
	}

	httpStatus := http.StatusOK
	if status.Status == StatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return ctx.JSON(httpStatus, status)
}

func (c *Checker) run(ctx context.Context) map[string]*CheckResult {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]*CheckResult, len(names))
	for _, name := range names {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, CheckTimeout)
		err := checks[name](checkCtx)
		cancel()
		if err != nil {
			results[name] = &CheckResult{Status: StatusUnhealthy, Message: err.Error()}
			continue
		}
		results[name] = &CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
	}
	return results
}
