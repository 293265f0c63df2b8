// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies connection-teardown errors for the proxy's
// CONNECT tunnel, distinguishing normal disconnects from genuine
// failures worth logging.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection termination:
// EOF, closed connection, broken pipe, or connection reset. A CONNECT tunnel
// that closes the whole connection rather than half-closing it produces
// ECONNRESET and EPIPE instead of EOF on the surviving side. All four are
// expected and should not be logged as errors.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
