package adapters_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-tcp/adapters"
	"github.com/momentics/hioload-tcp/api"
)

func TestControlAdapterBasic(t *testing.T) {
	ctrl := adapters.NewControlAdapter(zerolog.Nop())
	assert.Empty(t, ctrl.GetConfig())

	called := 0
	ctrl.OnReload(func() { called++ })
	require.NoError(t, ctrl.SetConfig(map[string]any{"k": 1}))
	assert.Equal(t, 1, ctrl.GetConfig()["k"])
	assert.Equal(t, 1, called)
}

func TestControlAdapterRejectsBadLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	ctrl := adapters.NewControlAdapter(zerolog.Nop())
	err := ctrl.SetConfig(map[string]any{"log_level": "chatty"})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, ok := ctrl.GetConfig()["log_level"]
	assert.False(t, ok)

	require.NoError(t, ctrl.SetConfig(map[string]any{"log_level": "error"}))
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())
}

func TestControlAdapterStats(t *testing.T) {
	ctrl := adapters.NewControlAdapter(zerolog.Nop())
	var m api.Metrics = ctrl
	m.Add("accepts", 2)
	m.Add("accepts", 1)
	ctrl.SetMetric("conns", 4)
	ctrl.RegisterDebugProbe("pool", func() any { return "ok" })

	stats := ctrl.Stats()
	assert.EqualValues(t, 3, stats["accepts"])
	assert.Equal(t, 4, stats["conns"])
	assert.Equal(t, "ok", stats["debug.pool"])
	assert.Contains(t, stats, "debug.platform.cpus")
	assert.EqualValues(t, 3, ctrl.Metrics().Counter("accepts"))
}
