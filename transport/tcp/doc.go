// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp implements the transport stack on top of the operating system's
// TCP sockets. All connection-control state lives on one reactor.Loop; reader,
// writer and dialer goroutines only perform blocking socket I/O and post their
// results back to the loop, where the raw hooks fire.
package tcp
