package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/health"
	"github.com/ignite/outreach-analytics/internal/pkg/httputil"
)

// HealthChecker serves the probe endpoints from the health monitor.
type HealthChecker struct {
	monitor   *health.Monitor
	startTime time.Time
}

// NewHealthChecker creates a new HealthChecker.
func NewHealthChecker(monitor *health.Monitor) *HealthChecker {
	return &HealthChecker{monitor: monitor, startTime: time.Now()}
}

// HandleHealth returns the aggregated health snapshot. Always 200; the
// status field conveys health. Use /health/ready for probes that need
// HTTP 503 on failure.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, hc.monitor.Snapshot())
}

// HandleLiveness always returns 200 while the process is running.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness returns 503 while the layer is unhealthy.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	snap := hc.monitor.Snapshot()
	ready := snap.Status != domain.Unhealthy
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]interface{}{
		"ready":  ready,
		"status": snap.Status,
		"cache":  snap.Cache,
	})
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
