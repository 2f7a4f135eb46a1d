package metrics

import (
	"sync"
	"sync/atomic"
)

// automationStats holds process-local counters for the automation engine.
// Kept simple/thread-safe for use from the engine and the metrics endpoint.
type automationStats struct {
	triggers uint64
	mu       sync.Mutex
	runs     map[string]uint64 // by terminal status
	skips    map[string]uint64 // by reason
}

var as automationStats

// IncTrigger counts one ProcessTrigger invocation.
func IncTrigger() {
	atomic.AddUint64(&as.triggers, 1)
}

// IncAutomationRun counts a finished run by its terminal status.
func IncAutomationRun(status string) {
	as.mu.Lock()
	if as.runs == nil {
		as.runs = make(map[string]uint64)
	}
	as.runs[status]++
	as.mu.Unlock()
}

// IncAutomationSkip counts a candidate automation filtered out for reason.
func IncAutomationSkip(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	as.mu.Lock()
	if as.skips == nil {
		as.skips = make(map[string]uint64)
	}
	as.skips[reason]++
	as.mu.Unlock()
}

// AutomationSnapshot is a point-in-time copy of the counters.
type AutomationSnapshot struct {
	Triggers uint64            `json:"triggers"`
	Runs     map[string]uint64 `json:"runs"`
	Skips    map[string]uint64 `json:"skips"`
}

// Snapshot returns a copy of the current counters.
func Snapshot() AutomationSnapshot {
	snap := AutomationSnapshot{Triggers: atomic.LoadUint64(&as.triggers)}
	as.mu.Lock()
	defer as.mu.Unlock()
	snap.Runs = make(map[string]uint64, len(as.runs))
	for k, v := range as.runs {
		snap.Runs[k] = v
	}
	snap.Skips = make(map[string]uint64, len(as.skips))
	for k, v := range as.skips {
		snap.Skips[k] = v
	}
	return snap
}

// reset is for tests.
func reset() {
	atomic.StoreUint64(&as.triggers, 0)
	as.mu.Lock()
	as.runs = nil
	as.skips = nil
	as.mu.Unlock()
}
