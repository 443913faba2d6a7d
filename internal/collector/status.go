package collector

import (
	"sync"
	"time"

	"falconeye/internal/models"
)

// StatusTracker holds the process-wide collector status. The collector is
// the single writer; readers take a defensive copy under the same mutex and
// release it before serializing.
type StatusTracker struct {
	mu     sync.Mutex
	status models.CollectorStatus
}

// NewStatusTracker initializes the tracker from the canonical server-name
// list resolved at startup.
func NewStatusTracker(serverNames []string) *StatusTracker {
	names := make([]string, len(serverNames))
	copy(names, serverNames)
	return &StatusTracker{status: models.CollectorStatus{
		ConfiguredCount: len(names),
		ServerNames:     names,
		UpdatedAt:       time.Now().UTC(),
	}}
}

// StartCycle records a new cycle start and resets the per-cycle counters.
func (t *StatusTracker) StartCycle(start time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LastCycleStart = start
	t.status.Processed = 0
	t.status.Failed = 0
	t.status.UpdatedAt = time.Now().UTC()
}

// CompleteCycle atomically replaces the cycle outcome fields.
func (t *StatusTracker) CompleteCycle(end time.Time, processed, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LastCycleEnd = end
	t.status.LastCycleTime = end.Sub(t.status.LastCycleStart)
	t.status.Processed = processed
	t.status.Failed = failed
	t.status.UpdatedAt = time.Now().UTC()
}

// Snapshot returns a copy safe to hand to slow consumers.
func (t *StatusTracker) Snapshot() models.CollectorStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.status
	s.ServerNames = make([]string, len(t.status.ServerNames))
	copy(s.ServerNames, t.status.ServerNames)
	return s
}

// ServerNames returns the canonical known-server-name list, used by the
// alert evaluator to expand wildcard rules.
func (t *StatusTracker) ServerNames() []string {
	return t.Snapshot().ServerNames
}
