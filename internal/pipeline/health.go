package pipeline

import (
	"slices"
	"sync"
	"time"
)

// HealthStatus represents the health state of the archive pipeline.
type HealthStatus string

const (
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusStopped   HealthStatus = "STOPPED"

	// DefaultUnhealthyThreshold is the number of consecutive failed passes
	// before the pipeline is considered unhealthy.
	DefaultUnhealthyThreshold = 5

	// DefaultDegradedLatencyThreshold is the P95 pass latency above which
	// the pipeline is considered degraded.
	DefaultDegradedLatencyThreshold = 30 * time.Second

	latencyWindowSize = 10
)

// Health tracks indexing pass outcomes for one chain.
type Health struct {
	mu                       sync.RWMutex
	chain                    string
	status                   HealthStatus
	indexerState             string
	lastMax                  uint32
	consecutiveFailures      int
	lastSuccessAt            *time.Time
	lastFailureAt            *time.Time
	lastError                string
	unhealthyThreshold       int
	recentLatencies          []time.Duration
	degradedLatencyThreshold time.Duration
}

func NewHealth(chain string, unhealthyThreshold int) *Health {
	if unhealthyThreshold <= 0 {
		unhealthyThreshold = DefaultUnhealthyThreshold
	}
	return &Health{
		chain:                    chain,
		status:                   HealthStatusUnknown,
		unhealthyThreshold:       unhealthyThreshold,
		recentLatencies:          make([]time.Duration, 0, latencyWindowSize),
		degradedLatencyThreshold: DefaultDegradedLatencyThreshold,
	}
}

func (h *Health) SetStatus(status HealthStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = status
}

// SetProgress records the indexer's state and high-water mark.
func (h *Health) SetProgress(state string, lastMax uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.indexerState = state
	h.lastMax = lastMax
}

// RecordSuccess records a successful pass and reports whether it ended an
// unhealthy streak.
func (h *Health) RecordSuccess(elapsed time.Duration) (recovered bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	recovered = h.status == HealthStatusUnhealthy
	h.consecutiveFailures = 0
	h.lastSuccessAt = &now
	h.lastError = ""
	h.recordLatency(elapsed)
	if h.status == HealthStatusStopped {
		return false
	}
	if h.isLatencyDegraded() {
		h.status = HealthStatusDegraded
	} else {
		h.status = HealthStatusHealthy
	}
	return recovered
}

// RecordFailure records a failed pass. It returns true if the pipeline
// became unhealthy on this call.
func (h *Health) RecordFailure(err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.consecutiveFailures++
	h.lastFailureAt = &now
	if err != nil {
		h.lastError = err.Error()
	}
	if h.status == HealthStatusStopped {
		return false
	}
	if h.consecutiveFailures >= h.unhealthyThreshold && h.status != HealthStatusUnhealthy {
		h.status = HealthStatusUnhealthy
		return true
	}
	return false
}

// Must be called with mu held.
func (h *Health) recordLatency(d time.Duration) {
	if len(h.recentLatencies) >= latencyWindowSize {
		h.recentLatencies = h.recentLatencies[1:]
	}
	h.recentLatencies = append(h.recentLatencies, d)
}

// Must be called with mu held.
func (h *Health) isLatencyDegraded() bool {
	if len(h.recentLatencies) < 2 {
		return false
	}
	return h.percentileLatency(95) > h.degradedLatencyThreshold
}

// Must be called with mu held.
func (h *Health) percentileLatency(pct int) time.Duration {
	n := len(h.recentLatencies)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(h.recentLatencies)
	slices.Sort(sorted)
	idx := (pct*n - 1) / 100
	idx = max(0, min(idx, n-1))
	return sorted[idx]
}

// Healthy reports whether the pipeline should pass liveness checks.
func (h *Health) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status != HealthStatusUnhealthy && h.status != HealthStatusStopped
}

func (h *Health) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthSnapshot{
		Chain:               h.chain,
		Status:              string(h.status),
		IndexerState:        h.indexerState,
		LastMax:             h.lastMax,
		ConsecutiveFailures: h.consecutiveFailures,
		LastSuccessAt:       h.lastSuccessAt,
		LastFailureAt:       h.lastFailureAt,
		LastError:           h.lastError,
	}
}

// HealthSnapshot is a point-in-time view of pipeline health (JSON-safe).
type HealthSnapshot struct {
	Chain               string     `json:"chain"`
	Status              string     `json:"status"`
	IndexerState        string     `json:"indexer_state,omitempty"`
	LastMax             uint32     `json:"last_max"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}
