// Copyright (C) 2019-2025, Drift Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"sync"

	"google.golang.org/grpc/metadata"
)

// Conn is an open connection to one RPC destination. It hands out call
// handles; the handles do the actual data transfer. Implementations must be
// safe for use by concurrent calls; the dispatcher treats a Conn as shared
// and read-only once built.
type Conn interface {
	// NewCall obtains a handle for one call of the named method. The context
	// carries the call's absolute deadline and outgoing metadata; the handle
	// is bound to it for its whole lifetime. NewCall fails if the connection
	// is shut down. Obtaining a handle may open network resources but must
	// not transmit any request payload.
	NewCall(ctx context.Context, method string) (CallHandle, error)

	// Close tears the connection down. In-flight calls fail.
	Close() error
}

// CallHandle exposes the call engine's primitive operations for a single
// call. The dispatcher only sequences these; flow control, framing, and
// status delivery belong to the engine behind the handle.
type CallHandle interface {
	// Send transmits one request payload, blocking while the transport
	// exerts backpressure.
	Send(msg []byte) error

	// Recv blocks for the next response payload. It returns io.EOF when the
	// server ends the stream with an OK status, and the terminal status
	// error otherwise.
	Recv() ([]byte, error)

	// CloseSend signals that no further requests will be sent (half-close).
	CloseSend() error

	// Header blocks until the server's initial metadata is available.
	Header() (metadata.MD, error)

	// Trailer returns the server's trailing metadata. Only valid after the
	// call has terminated.
	Trailer() metadata.MD
}

// Transport types
const (
	TransportGRPC    = "grpc"    // gRPC, default
	TransportJSONRPC = "jsonrpc" // JSON-RPC 2.0 over HTTP, unary only
)

// DefaultTransport is the transport used when none is selected.
const DefaultTransport = TransportGRPC

type connectFunc func(host string, o *dialOptions) (Conn, error)

var (
	transportsMu sync.RWMutex
	transports   = map[string]connectFunc{
		TransportGRPC: connectGRPC,
	}
)

// registerTransport registers a named transport. Registering an existing
// name replaces it.
func registerTransport(name string, connect connectFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[name] = connect
}

// AvailableTransports returns the list of registered transport names.
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	return result
}

// HasTransport reports whether a transport name is registered.
func HasTransport(name string) bool {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	_, ok := transports[name]
	return ok
}

func lookupTransport(name string) (connectFunc, bool) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	connect, ok := transports[name]
	return connect, ok
}
