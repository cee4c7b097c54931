// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration, metrics and debug introspection layer.
//
// Provides concurrent-safe state handling primitives including:
//   - TOML file configuration with validation and defaults
//   - A key/value config store with reload observers
//   - Atomic counters fed by the connection engine
//   - Debug probe registration and state export
package control
