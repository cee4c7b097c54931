// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the serialized owner context that a transport stack
// runs on: a single goroutine executing posted functions in order, a
// synchronous Call primitive for marshaling work onto it, and periodic ticks.
package reactor
