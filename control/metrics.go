// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for system-level monitoring.
// Counters are lock-free after first use; gauges live in a guarded map.

package control

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-tcp/api"
)

// Ensure compile-time interface compliance.
var _ api.Metrics = (*MetricsRegistry)(nil)

// MetricsRegistry holds counters and gauges.
type MetricsRegistry struct {
	counters sync.Map // string -> *atomic.Int64

	mu      sync.RWMutex
	gauges  map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		gauges: make(map[string]any),
	}
}

// Add increments counter key by delta.
func (mr *MetricsRegistry) Add(key string, delta int64) {
	v, ok := mr.counters.Load(key)
	if !ok {
		v, _ = mr.counters.LoadOrStore(key, new(atomic.Int64))
	}
	v.(*atomic.Int64).Add(delta)
}

// Counter returns the value of counter key.
func (mr *MetricsRegistry) Counter(key string) int64 {
	if v, ok := mr.counters.Load(key); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// Set sets or updates a gauge.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.gauges[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// GetSnapshot returns counters and gauges together.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	out := make(map[string]any, len(mr.gauges))
	for k, v := range mr.gauges {
		out[k] = v
	}
	mr.mu.RUnlock()
	mr.counters.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// Updated returns when a gauge was last set.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}
