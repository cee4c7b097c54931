// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components that own goroutines or
// transport handles.
type GracefulShutdown interface {
	// Shutdown stops internal services and releases every resource.
	// Returns an error on failure.
	Shutdown() error
}
