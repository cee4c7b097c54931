// File: transport/tcp/errors.go
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/momentics/hioload-tcp/api"
)

// codeOf maps a socket error onto the raw transport code reported to hooks.
func codeOf(err error) api.ErrorCode {
	var ne net.Error
	switch {
	case err == nil:
		return api.ErrCodeOK
	case errors.Is(err, net.ErrClosed):
		return api.ErrCodeClosed
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return api.ErrCodeReset
	case errors.Is(err, syscall.ECONNABORTED), errors.Is(err, syscall.EPIPE), errors.Is(err, context.Canceled):
		return api.ErrCodeAborted
	case errors.Is(err, syscall.EADDRINUSE):
		return api.ErrCodeInUse
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return api.ErrCodeRoute
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return api.ErrCodeTimeout
	default:
		return api.ErrCodeConn
	}
}
