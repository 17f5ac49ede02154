package domain

import (
	"fmt"
	"time"
)

// Endpoint identifies one market-data server by host and port.
// Endpoints are immutable once created; quarantine never removes them.
type Endpoint struct {
	Host string
	Port int
}

// Key returns the canonical "host:port" identity of the endpoint.
func (e Endpoint) Key() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// HealthStatus describes the selection state of a pooled endpoint.
type HealthStatus int

const (
	// StatusHealthy means the endpoint is eligible for round-robin selection.
	StatusHealthy HealthStatus = iota
	// StatusLimited means the endpoint exceeded its request-rate threshold
	// within the current rate window and is skipped until a new window starts.
	StatusLimited
	// StatusFailed means the endpoint crossed the failure threshold and is
	// quarantined until its recovery timestamp passes.
	StatusFailed
)

// String returns the lowercase status name.
func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusLimited:
		return "limited"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ResponseTimeWindow is the number of most-recent samples kept per endpoint.
const ResponseTimeWindow = 10

// EndpointHealth is the per-endpoint bookkeeping record owned by the pool.
// Invariant: FailureCount >= max(0, UseCount - SuccessCount) after every
// reconciliation; failures reported outside the acquisition scope are folded
// in before statistics are published.
type EndpointHealth struct {
	Endpoint     Endpoint
	Status       HealthStatus
	UseCount     int64
	SuccessCount int64
	FailureCount int64
	LastUsed     time.Time
	LastFailed   time.Time

	// ResponseTimes is a bounded ring of the most recent samples,
	// capacity ResponseTimeWindow.
	ResponseTimes []time.Duration
	AvgResponse   time.Duration

	// RecoverAt is the quarantine expiry; zero unless Status is StatusFailed.
	RecoverAt time.Time
}

// RecordSample appends a response-time sample, evicting the oldest beyond the
// window, and recomputes the rolling average.
func (h *EndpointHealth) RecordSample(d time.Duration) {
	h.ResponseTimes = append(h.ResponseTimes, d)
	if len(h.ResponseTimes) > ResponseTimeWindow {
		h.ResponseTimes = h.ResponseTimes[len(h.ResponseTimes)-ResponseTimeWindow:]
	}
	var total time.Duration
	for _, s := range h.ResponseTimes {
		total += s
	}
	h.AvgResponse = total / time.Duration(len(h.ResponseTimes))
}

// Reconcile folds unaccounted acquisitions into the failure tally so that the
// accounting invariant holds even when a failure was reported after the
// connection left the pool's own scope. Uses still in flight are not folded;
// their outcome arrives on release.
func (h *EndpointHealth) Reconcile(inflight int64) {
	if drift := h.UseCount - h.SuccessCount - h.FailureCount - inflight; drift > 0 {
		h.FailureCount += drift
	}
}

// ProbeResult is the outcome of one TCP availability probe.
type ProbeResult struct {
	Endpoint     Endpoint
	Available    bool
	ResponseTime time.Duration
}

// ServerRecord is the persisted registry row for one endpoint.
// Corresponds to the server_registry table.
type ServerRecord struct {
	Host         string
	Port         int
	Status       string // "active" or "inactive"
	ResponseTime time.Duration
	Location     string
	Source       string // "builtin", "remote", "probe"
	Priority     int    // lower is preferred
	UpdatedAt    time.Time
}

// Key returns the "host:port" identity of the record.
func (r ServerRecord) Key() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
