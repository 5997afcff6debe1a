package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check result
type HealthCheck struct {
	Name        string            `json:"name"`
	Status      HealthStatus      `json:"status"`
	Message     string            `json:"message"`
	LastChecked time.Time         `json:"last_checked"`
	Duration    time.Duration     `json:"duration"`
	Details     map[string]string `json:"details,omitempty"`
}

type CheckFunc func(ctx context.Context) HealthCheck

// Monitor serves health and metrics endpoints
type Monitor struct {
	collector *Collector
	mu        sync.RWMutex
	checks    map[string]CheckFunc
}

func NewMonitor(collector *Collector) *Monitor {
	return &Monitor{collector: collector, checks: map[string]CheckFunc{}}
}

// RegisterHealthCheck registers a health check function
func (m *Monitor) RegisterHealthCheck(name string, fn CheckFunc) {
	m.mu.Lock()
	m.checks[name] = fn
	m.mu.Unlock()
}

// Check runs every registered check and returns the overall status.
func (m *Monitor) Check(ctx context.Context) (HealthStatus, []HealthCheck) {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	overall := HealthStatusHealthy
	checks := make([]HealthCheck, 0, len(names))
	for _, name := range names {
		m.mu.RLock()
		fn := m.checks[name]
		m.mu.RUnlock()

		start := time.Now()
		check := fn(ctx)
		check.Name = name
		check.Duration = time.Since(start)
		check.LastChecked = time.Now()
		checks = append(checks, check)

		switch check.Status {
		case HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		}
	}
	return overall, checks
}

// HealthHandler reports 503 unless every check is healthy
func (m *Monitor) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	status, checks := m.Check(ctx)

	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
		"checks":    checks,
	}

	w.Header().Set("Content-Type", "application/json")
	if status != HealthStatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(response)
}

// MetricsHandler provides Prometheus-style metrics
func (m *Monitor) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	typed := map[string]bool{}
	for _, metric := range m.collector.GetMetrics() {
		labelStr := ""
		if len(metric.Labels) > 0 {
			pairs := make([]string, 0, len(metric.Labels))
			for k, v := range metric.Labels {
				pairs = append(pairs, fmt.Sprintf(`%s="%s"`, k, v))
			}
			sort.Strings(pairs)
			labelStr = "{" + strings.Join(pairs, ",") + "}"
		}
		name, promType := metric.Name, "counter"
		switch metric.Type {
		case Gauge:
			promType = "gauge"
		case Timer:
			// timers hold a millisecond total and an observation count
			name, promType = metric.Name+"_"+metric.Unit, "summary"
		}
		if !typed[name] {
			fmt.Fprintf(w, "# TYPE %s %s\n", name, promType)
			typed[name] = true
		}
		if metric.Type == Timer {
			fmt.Fprintf(w, "%s_sum%s %g\n", name, labelStr, metric.Value)
			fmt.Fprintf(w, "%s_count%s %d\n", name, labelStr, metric.Count)
			continue
		}
		fmt.Fprintf(w, "%s%s %g\n", name, labelStr, metric.Value)
	}
}

// APIMetricsHandler provides JSON metrics API
func (m *Monitor) APIMetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.collector.GetMetrics())
}

// PingCheck adapts a reachability probe into a health check.
func PingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) HealthCheck {
		if err := ping(ctx); err != nil {
			return HealthCheck{Status: HealthStatusUnhealthy, Message: err.Error()}
		}
		return HealthCheck{Status: HealthStatusHealthy, Message: "reachable"}
	}
}

// DefaultHealthChecks returns a set of default health checks
func DefaultHealthChecks() map[string]CheckFunc {
	return map[string]CheckFunc{
		"memory": func(context.Context) HealthCheck {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			heapMB := float64(m.HeapAlloc) / (1024 * 1024)
			status := HealthStatusHealthy
			message := fmt.Sprintf("Heap memory: %.2f MB", heapMB)

			if heapMB > 512 {
				status = HealthStatusDegraded
				message = fmt.Sprintf("High memory usage: %.2f MB", heapMB)
			}

			return HealthCheck{
				Status:  status,
				Message: message,
				Details: map[string]string{
					"heap_mb":    fmt.Sprintf("%.2f", heapMB),
					"goroutines": fmt.Sprintf("%d", runtime.NumGoroutine()),
				},
			}
		},
	}
}
