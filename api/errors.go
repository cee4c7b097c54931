// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-tcp.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrResourceExhausted    = errors.New("resource exhausted")
	ErrAllocationFailed     = errors.New("handle allocation failed")
	ErrAlreadyConnected     = errors.New("connection already established")
	ErrBindFailed           = errors.New("bind failed")
	ErrListenFailed         = errors.New("listen failed")
	ErrNameResolutionFailed = errors.New("name resolution failed")
	ErrNotActive            = errors.New("connection is not active")
	ErrLoopClosed           = errors.New("transport loop is closed")
	ErrInvalidArgument      = errors.New("invalid argument")
)

// ErrorCode is a raw transport status code. It is surfaced verbatim to
// error handlers through TransportError.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeMem
	ErrCodeBuf
	ErrCodeTimeout
	ErrCodeRoute
	ErrCodeInProgress
	ErrCodeValue
	ErrCodeWouldBlock
	ErrCodeInUse
	ErrCodeAlready
	ErrCodeIsConn
	ErrCodeConn
	ErrCodeIf
	ErrCodeAborted
	ErrCodeReset
	ErrCodeClosed
	ErrCodeArg
)

var errCodeNames = [...]string{
	ErrCodeOK:         "ok",
	ErrCodeMem:        "out of memory",
	ErrCodeBuf:        "buffer error",
	ErrCodeTimeout:    "timeout",
	ErrCodeRoute:      "routing problem",
	ErrCodeInProgress: "operation in progress",
	ErrCodeValue:      "illegal value",
	ErrCodeWouldBlock: "operation would block",
	ErrCodeInUse:      "address in use",
	ErrCodeAlready:    "already connecting",
	ErrCodeIsConn:     "already connected",
	ErrCodeConn:       "not connected",
	ErrCodeIf:         "low-level netif error",
	ErrCodeAborted:    "connection aborted",
	ErrCodeReset:      "connection reset",
	ErrCodeClosed:     "connection closed",
	ErrCodeArg:        "illegal argument",
}

func (c ErrorCode) String() string {
	if c >= 0 && int(c) < len(errCodeNames) {
		return errCodeNames[c]
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Err converts the code into an error, nil for ErrCodeOK.
func (c ErrorCode) Err() error {
	if c == ErrCodeOK {
		return nil
	}
	return &TransportError{Code: c}
}

// TransportError reports a raw transport failure.
type TransportError struct {
	Code ErrorCode
	Err  error // underlying cause, may be nil
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport: " + e.Code.String()
	}
	return fmt.Sprintf("transport: %s: %v", e.Code, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the transport code carried by err. Errors that are not
// transport errors map to ErrCodeArg; nil maps to ErrCodeOK.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrCodeArg
}
