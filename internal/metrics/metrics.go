package metrics

import (
	"sync"
	"sync/atomic"
)

// engineStats holds counters for workflow engine activity.
// Kept simple/thread-safe for use from services and exposition.
type engineStats struct {
	rulesEvaluated      uint64
	rulesMatched        uint64
	actionsExecuted     uint64
	actionsFailed       uint64
	notificationsFailed uint64
	eventsTimedOut      uint64
}

var eng engineStats

func IncRulesEvaluated() { atomic.AddUint64(&eng.rulesEvaluated, 1) }

func IncRulesMatched() { atomic.AddUint64(&eng.rulesMatched, 1) }

func IncActionsExecuted() { atomic.AddUint64(&eng.actionsExecuted, 1) }

func IncActionsFailed() { atomic.AddUint64(&eng.actionsFailed, 1) }

func IncNotificationsFailed() { atomic.AddUint64(&eng.notificationsFailed, 1) }

func IncEventsTimedOut() { atomic.AddUint64(&eng.eventsTimedOut, 1) }

// EngineSnapshot returns a copy of the engine counters.
func EngineSnapshot() map[string]uint64 {
	return map[string]uint64{
		"rules_evaluated":      atomic.LoadUint64(&eng.rulesEvaluated),
		"rules_matched":        atomic.LoadUint64(&eng.rulesMatched),
		"actions_executed":     atomic.LoadUint64(&eng.actionsExecuted),
		"actions_failed":       atomic.LoadUint64(&eng.actionsFailed),
		"notifications_failed": atomic.LoadUint64(&eng.notificationsFailed),
		"events_timed_out":     atomic.LoadUint64(&eng.eventsTimedOut),
	}
}

// rateLimitStats holds counters for rate limit drops (HTTP 429).
type rateLimitStats struct {
	total    uint64
	mu       sync.Mutex
	byPrefix map[string]uint64
}

var rl rateLimitStats

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	atomic.AddUint64(&rl.total, 1)
	rl.mu.Lock()
	if rl.byPrefix == nil {
		rl.byPrefix = make(map[string]uint64)
	}
	rl.byPrefix[prefix]++
	rl.mu.Unlock()
}

// RateLimitSnapshot returns a copy of the current counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&rl.total)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	by = make(map[string]uint64, len(rl.byPrefix))
	for k, v := range rl.byPrefix {
		by[k] = v
	}
	return total, by
}
