//go:build !linux
// +build !linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"errors"
	"net"
	"syscall"
)

var errNoSockopt = errors.New("tcp: socket option not supported on this platform")

func listenControl(_, _ string, _ syscall.RawConn) error { return nil }

func segmentSize(*net.TCPConn) (int, error) { return 0, errNoSockopt }
