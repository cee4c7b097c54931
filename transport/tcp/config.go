// File: transport/tcp/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import "time"

// Config tunes a Stack.
type Config struct {
	// SendBuffer is the per-handle send buffer in bytes (queued plus in flight).
	SendBuffer int
	// RecvWindow is the per-handle receive window: delivered bytes that may
	// remain unacknowledged before reads stop.
	RecvWindow int
	// ReadBufferSize is the size of pooled receive buffers.
	ReadBufferSize int
	// WriteQueue bounds flushes handed to the writer goroutine.
	WriteQueue int
	// MaxHandles limits live handles, 0 means unlimited.
	MaxHandles int
	// ConnectTimeout bounds outgoing dials, 0 means the OS default.
	ConnectTimeout time.Duration
	// CloseTimeout bounds how long a graceful close may spend flushing.
	CloseTimeout time.Duration
	// DefaultMSS is reported when the platform cannot query the socket.
	DefaultMSS int
}

// DefaultConfig mirrors the buffer sizes of a small embedded stack: four
// 1436-byte segments of send buffer and receive window.
func DefaultConfig() *Config {
	return &Config{
		SendBuffer:     5744,
		RecvWindow:     5744,
		ReadBufferSize: 2048,
		WriteQueue:     16,
		ConnectTimeout: 10 * time.Second,
		CloseTimeout:   5 * time.Second,
		DefaultMSS:     1460,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.RecvWindow <= 0 {
		c.RecvWindow = d.RecvWindow
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteQueue <= 0 {
		c.WriteQueue = d.WriteQueue
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	if c.DefaultMSS <= 0 {
		c.DefaultMSS = d.DefaultMSS
	}
	if c.MaxHandles < 0 {
		c.MaxHandles = 0
	}
}
