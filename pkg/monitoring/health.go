package monitoring

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult represents the result of an individual health check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthCheck is a function that performs a health check.
type HealthCheck func() CheckResult

// DetailFunc supplies a live value included verbatim in the health payload
// (pool sizes, tracked operation counts).
type DetailFunc func() interface{}

// HealthStatus is the health endpoint payload.
type HealthStatus struct {
	OK        bool                   `json:"ok"`
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp string                 `json:"ts"`
	UptimeSec int64                  `json:"uptimeSec"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthChecker manages and executes health checks.
type HealthChecker struct {
	service string
	version string
	started time.Time
	checks  map[string]HealthCheck
	details map[string]DetailFunc
}

// NewHealthChecker creates a new health checker instance.
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		started: time.Now(),
		checks:  make(map[string]HealthCheck),
		details: make(map[string]DetailFunc),
	}
}

// AddCheck adds a health check to the checker.
func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.checks[name] = check
}

// AddDetail registers a live detail value reported on every health probe.
func (hc *HealthChecker) AddDetail(name string, fn DetailFunc) {
	hc.details[name] = fn
}

// CheckHealth runs all health checks and returns the overall status.
func (hc *HealthChecker) CheckHealth() HealthStatus {
	status := HealthStatus{
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		UptimeSec: int64(time.Since(hc.started).Seconds()),
		Checks:    make(map[string]CheckResult),
		Details:   make(map[string]interface{}),
	}

	anyUnhealthy := false
	anyDegraded := false
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		result := hc.checks[name]()
		status.Checks[name] = result
		switch result.Status {
		case StatusHealthy:
		case StatusDegraded:
			anyDegraded = true
		default:
			anyUnhealthy = true
		}
	}

	for name, fn := range hc.details {
		status.Details[name] = fn()
	}

	switch {
	case anyUnhealthy:
		status.Status = StatusUnhealthy
	case anyDegraded:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}
	status.OK = status.Status != StatusUnhealthy

	return status
}

// Handler returns a gin handler for the health check endpoint.
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth()
		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, health)
	}
}

// FileHealthCheck verifies that a readable file or directory exists at path.
func FileHealthCheck(stat func() error) HealthCheck {
	return func() CheckResult {
		start := time.Now()
		err := stat()
		if err != nil {
			return CheckResult{
				Status:  StatusDegraded,
				Message: err.Error(),
				Latency: time.Since(start).String(),
			}
		}
		return CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
	}
}
