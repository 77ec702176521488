package monitoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

var errCheckFailed = errors.New("check failed")

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) (bool, error)

type healthCheck struct {
	name     string
	check    CheckFunc
	timeout  time.Duration
	critical bool
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Critical  bool   `json:"critical"`
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// HealthChecker runs registered checks concurrently. A failing critical check
// makes the bridge unhealthy and not ready; other failures only degrade it.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []healthCheck
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

func (h *HealthChecker) AddCheck(name string, check CheckFunc, timeout time.Duration, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, healthCheck{name: name, check: check, timeout: timeout, critical: critical})
}

// AddRedisCheck adds a non-critical ping; the run store degrades without it.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, timeout, false)
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	return h.run(ctx, false)
}

// IsReady runs only the critical checks.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.run(ctx, true).Status != StatusUnhealthy
}

func (h *HealthChecker) run(ctx context.Context, criticalOnly bool) HealthStatus {
	h.mu.RLock()
	checks := make([]healthCheck, 0, len(h.checks))
	for _, c := range h.checks {
		if !criticalOnly || c.critical {
			checks = append(checks, c)
		}
	}
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c healthCheck) {
			defer wg.Done()
			results[i] = runCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, c := range checks {
		r := results[i]
		status.Checks[c.name] = r
		if r.Status == StatusHealthy {
			continue
		}
		if c.critical {
			status.Status = StatusUnhealthy
		} else if status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}
	return status
}

func runCheck(ctx context.Context, c healthCheck) CheckResult {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	ok, err := c.check(ctx)
	result := CheckResult{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
		Critical:  c.critical,
	}
	if err == nil && !ok {
		err = errCheckFailed
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}
