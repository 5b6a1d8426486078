// Copyright (C) 2019-2025, Drift Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig reports malformed constructor arguments: a value of the wrong
	// type for a connection, credentials, or metadata rewriter. It is returned
	// synchronously from NewStub and never from a shape method.
	ErrConfig = errors.New("rpc: invalid configuration")

	// ErrConnClosed reports that the connection could not produce a call
	// handle, typically because it has been shut down.
	ErrConnClosed = errors.New("rpc: connection is shut down")

	// ErrOperationDone is returned by Operation.Run after the operation has
	// already been run once. Deferred operations are at-most-once triggers.
	ErrOperationDone = errors.New("rpc: operation already run")
)

func configErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func connErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConnClosed, fmt.Sprintf(format, args...))
}
