// File: api/control.go
// Package api defines Control interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Control manages dynamic config and runtime metrics.
type Control interface {
	GetConfig() map[string]any
	SetConfig(cfg map[string]any) error
	Stats() map[string]any
	OnReload(fn func())
	RegisterDebugProbe(name string, fn func() any)
}

// Metrics receives counter updates from runtime components.
type Metrics interface {
	Add(key string, delta int64)
}

// NopMetrics discards every update.
type NopMetrics struct{}

// Add implements Metrics.
func (NopMetrics) Add(string, int64) {}
