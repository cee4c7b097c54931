// File: control/file.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// File configuration of a runtime. Every section maps onto the Config of
// one component; zero values take that component's defaults.

package control

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// Duration is a time.Duration written as "500ms", "30s" and so on.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the file configuration of a runtime.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Loop     LoopConfig     `toml:"loop"`
	Executor ExecutorConfig `toml:"executor"`
	TCP      TCPConfig      `toml:"tcp"`
	Listener ListenerConfig `toml:"listener"`
}

type LogConfig struct {
	Level   string `toml:"level"`
	Console bool   `toml:"console"`
}

type LoopConfig struct {
	TickInterval Duration `toml:"tick_interval"`
	BatchSize    int      `toml:"batch_size"`
}

type ExecutorConfig struct {
	Workers    int `toml:"workers"`
	QueueDepth int `toml:"queue_depth"`
}

type TCPConfig struct {
	SendBuffer     int      `toml:"send_buffer"`
	RecvWindow     int      `toml:"recv_window"`
	ReadBufferSize int      `toml:"read_buffer_size"`
	WriteQueue     int      `toml:"write_queue"`
	MaxHandles     int      `toml:"max_handles"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	CloseTimeout   Duration `toml:"close_timeout"`
}

type ListenerConfig struct {
	Addr          string   `toml:"addr"`
	Port          int      `toml:"port"`
	Backlog       int      `toml:"backlog"`
	NoDelay       bool     `toml:"no_delay"`
	CleanInterval Duration `toml:"clean_interval"`
	AcceptRate    float64  `toml:"accept_rate"`
	AcceptBurst   int      `toml:"accept_burst"`
	RxTimeout     Duration `toml:"rx_timeout"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Log:      LogConfig{Level: "info", Console: true},
		Loop:     LoopConfig{TickInterval: Duration{500 * time.Millisecond}, BatchSize: 64},
		Executor: ExecutorConfig{QueueDepth: 1024},
		TCP: TCPConfig{
			SendBuffer:     5744,
			RecvWindow:     5744,
			ReadBufferSize: 2048,
			WriteQueue:     16,
			ConnectTimeout: Duration{10 * time.Second},
			CloseTimeout:   Duration{5 * time.Second},
		},
		Listener: ListenerConfig{
			Addr:          "0.0.0.0",
			Port:          7000,
			Backlog:       128,
			CleanInterval: Duration{30 * time.Second},
			AcceptBurst:   1,
		},
	}
}

// LoadFile reads a TOML file over the defaults and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("control: load %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("control: load %s: unknown key %q", path, undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("control: load %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects impossible values and reports all of them at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Loop.BatchSize < 0 {
		errs = append(errs, errors.New("loop.batch_size must not be negative"))
	}
	if c.Executor.Workers < 0 || c.Executor.QueueDepth < 0 {
		errs = append(errs, errors.New("executor sizes must not be negative"))
	}
	if c.TCP.SendBuffer < 0 || c.TCP.RecvWindow < 0 || c.TCP.ReadBufferSize < 0 ||
		c.TCP.WriteQueue < 0 || c.TCP.MaxHandles < 0 {
		errs = append(errs, errors.New("tcp sizes must not be negative"))
	}
	if _, err := netip.ParseAddr(c.Listener.Addr); err != nil {
		errs = append(errs, fmt.Errorf("listener.addr: %w", err))
	}
	if c.Listener.Port < 0 || c.Listener.Port > 65535 {
		errs = append(errs, fmt.Errorf("listener.port %d out of range", c.Listener.Port))
	}
	if c.Listener.AcceptRate < 0 || c.Listener.AcceptBurst < 0 {
		errs = append(errs, errors.New("listener accept limits must not be negative"))
	}
	if c.Listener.RxTimeout.Duration < 0 {
		errs = append(errs, errors.New("listener.rx_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// ListenAddr returns the listener address and port.
func (c *Config) ListenAddr() netip.AddrPort {
	addr, err := netip.ParseAddr(c.Listener.Addr)
	if err != nil {
		addr = netip.IPv4Unspecified()
	}
	return netip.AddrPortFrom(addr, uint16(c.Listener.Port))
}

// Flatten exposes the configuration as dotted keys for a ConfigStore.
func (c *Config) Flatten() map[string]any {
	return map[string]any{
		"log_level":               c.Log.Level,
		"loop.tick_interval":      c.Loop.TickInterval.String(),
		"loop.batch_size":         c.Loop.BatchSize,
		"executor.workers":        c.Executor.Workers,
		"executor.queue_depth":    c.Executor.QueueDepth,
		"tcp.send_buffer":         c.TCP.SendBuffer,
		"tcp.recv_window":         c.TCP.RecvWindow,
		"tcp.max_handles":         c.TCP.MaxHandles,
		"tcp.connect_timeout":     c.TCP.ConnectTimeout.String(),
		"listener.addr":           c.ListenAddr().String(),
		"listener.no_delay":       c.Listener.NoDelay,
		"listener.clean_interval": c.Listener.CleanInterval.String(),
		"listener.accept_rate":    c.Listener.AcceptRate,
		"listener.rx_timeout":     c.Listener.RxTimeout.String(),
	}
}
