package health

import (
	"context"
	"errors"
	"time"

	"github.com/Ayash-Bera/arena/internal/database"
	"github.com/Ayash-Bera/arena/internal/queue"
	"github.com/sirupsen/logrus"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusDisabled  = "disabled"
)

// ErrDisabled marks a dependency that is not configured.
var ErrDisabled = errors.New("not configured")

// Check probes one dependency. A failing critical check makes the service
// unhealthy; any other failure only degrades it.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// HealthChecker manages health checks for all services
type HealthChecker struct {
	checks  []Check
	timeout time.Duration
	logger  *logrus.Logger
}

func NewHealthChecker(logger *logrus.Logger, checks ...Check) *HealthChecker {
	return &HealthChecker{checks: checks, timeout: 3 * time.Second, logger: logger}
}

// StandardChecks covers the database (critical), Redis and the extraction queue.
func StandardChecks(dbManager *database.Manager, q queue.Queue) []Check {
	checks := []Check{
		{Name: "database", Critical: true, Probe: dbManager.PingDatabase},
		{Name: "redis", Probe: func(ctx context.Context) error {
			err := dbManager.PingRedis(ctx)
			if errors.Is(err, database.ErrRedisDisabled) {
				return ErrDisabled
			}
			return err
		}},
	}
	if q != nil {
		checks = append(checks, Check{Name: "queue", Probe: q.Health})
	} else {
		checks = append(checks, Check{Name: "queue", Probe: func(context.Context) error { return ErrDisabled }})
	}
	return checks
}

// ServiceHealth represents the health status of a service
type ServiceHealth struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	ResponseTime int    `json:"response_time_ms"`
	Error        string `json:"error,omitempty"`
	LastChecked  string `json:"last_checked"`
}

// OverallHealth represents the overall system health
type OverallHealth struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
	Uptime   string          `json:"uptime"`
}

func (h *HealthChecker) run(ctx context.Context, check Check) ServiceHealth {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := check.Probe(ctx)
	responseTime := int(time.Since(start).Milliseconds())

	status := StatusHealthy
	errorMsg := ""
	switch {
	case errors.Is(err, ErrDisabled):
		status = StatusDisabled
	case err != nil:
		status = StatusUnhealthy
		errorMsg = err.Error()
		h.logger.WithError(err).WithField("service", check.Name).Error("Health check failed")
	}

	return ServiceHealth{
		Name:         check.Name,
		Status:       status,
		ResponseTime: responseTime,
		Error:        errorMsg,
		LastChecked:  time.Now().Format(time.RFC3339),
	}
}

// CheckAll performs health checks on all services
func (h *HealthChecker) CheckAll(ctx context.Context) OverallHealth {
	services := make([]ServiceHealth, 0, len(h.checks))
	overallStatus := StatusHealthy

	for _, check := range h.checks {
		service := h.run(ctx, check)
		services = append(services, service)

		if service.Status != StatusUnhealthy {
			continue
		}
		if check.Critical {
			overallStatus = StatusUnhealthy
		} else if overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return OverallHealth{
		Status:   overallStatus,
		Services: services,
		Uptime:   h.getUptime(),
	}
}

var startTime = time.Now()

func (h *HealthChecker) getUptime() string {
	uptime := time.Since(startTime)
	return uptime.String()
}
