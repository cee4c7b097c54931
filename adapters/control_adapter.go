// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control interface using control package primitives.

package adapters

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/control"
)

// Ensure compile-time interface compliance.
var (
	_ api.Control = (*ControlAdapter)(nil)
	_ api.Metrics = (*ControlAdapter)(nil)
)

type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
}

// NewControlAdapter wires a config store, metrics registry and probe set.
// The "log_level" key is applied to the global zerolog level on reload.
func NewControlAdapter(log zerolog.Logger) *ControlAdapter {
	adapter := &ControlAdapter{
		config:  control.NewConfigStore(),
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
	}
	control.RegisterPlatformProbes(adapter.debug)
	control.WatchLogLevel(adapter.config, log)
	return adapter
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

// SetConfig merges cfg into the store. A log level that zerolog cannot
// parse rejects the whole update.
func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	if v, ok := cfg["log_level"]; ok {
		if _, err := zerolog.ParseLevel(fmt.Sprint(v)); err != nil {
			return fmt.Errorf("%w: log_level: %v", api.ErrInvalidArgument, err)
		}
	}
	c.config.SetConfig(cfg)
	return nil
}

func (c *ControlAdapter) Stats() map[string]any {
	stats := c.metrics.GetSnapshot()
	debugStats := c.debug.DumpState()
	combined := make(map[string]any, len(stats)+len(debugStats))
	for k, v := range stats {
		combined[k] = v
	}
	for k, v := range debugStats {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) OnReload(fn func()) {
	c.config.OnReload(fn)
}

// Add implements api.Metrics.
func (c *ControlAdapter) Add(key string, delta int64) {
	c.metrics.Add(key, delta)
}

func (c *ControlAdapter) SetMetric(key string, value any) {
	c.metrics.Set(key, value)
}

// Metrics returns the underlying registry.
func (c *ControlAdapter) Metrics() *control.MetricsRegistry {
	return c.metrics
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}
