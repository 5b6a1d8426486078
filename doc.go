// Copyright (C) 2019-2025, Drift Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rpc is a client-side RPC dispatcher: one entry point that turns a
// logical method invocation (method name, payloads, marshal/unmarshal
// functions, deadline, metadata) into one of the four canonical interaction
// shapes (unary, client-streaming, server-streaming, and bidirectional
// streaming) over a pluggable connection.
//
// gRPC is the default transport; a unary-only JSON-RPC 2.0 transport is also
// registered. The dispatcher owns none of the wire mechanics: framing, flow
// control, and status delivery belong to the connection's call engine, and
// serialization belongs to the caller-supplied marshal/unmarshal functions.
//
// # Usage
//
// Build one Stub per destination and issue calls through it:
//
//	stub, err := rpc.NewStub("localhost:9000",
//	    rpc.WithDefaultTimeout(5*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stub.Close()
//
//	// Unary call with JSON payloads.
//	resp, err := stub.Unary(ctx, "/orders.Orders/Get",
//	    &GetOrder{ID: 7},
//	    rpc.JSONMarshal,
//	    rpc.JSONUnmarshal(func() interface{} { return new(Order) }),
//	)
//
//	// Server-streaming: pull responses lazily.
//	stream, err := stub.ServerStream(ctx, "/orders.Orders/Watch",
//	    &WatchOrders{}, rpc.JSONMarshal, decodeOrder, nil)
//	for {
//	    msg, err := stream.Recv()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
//
// Every shape has a deferred counterpart (UnaryOp, ClientStreamOp, ...)
// returning an Operation: the call is fully bound but nothing moves until
// Run is invoked, and Run returns exactly what the immediate call would
// have. Run is at-most-once.
//
// # Metadata
//
// Outgoing metadata is a metadata.MD per call (WithMetadata). A stub-wide
// rewriter (WithMetadataRewrite) is invoked once per call with a private
// copy of that metadata; its return value is what goes on the wire.
//
// # Deadlines
//
// Every call carries a deadline: the per-call WithTimeout, else the stub
// default. The absolute deadline is computed from the clock at call
// creation. NoTimeout disables it. Deadline expiry surfaces as a status
// error with codes.DeadlineExceeded on that call only.
//
// # Errors
//
// Construction problems are ErrConfig, a shut-down connection is
// ErrConnClosed, and RPC-terminal failures are status errors; use
// status.FromError. Errors from a caller-supplied request iterator or
// response callback propagate unchanged. Nothing is swallowed or logged
// internally.
//
// # Architecture
//
//   - stub.go: Stub construction and the four dispatch shapes
//   - call.go: call factory, per-call state machine, deferred Operation
//   - conn.go: Conn/CallHandle boundary and the transport registry
//   - dial.go: connection provisioning (pre-built, or host + credentials)
//   - grpc.go: gRPC-backed connection (default)
//   - jsonrpc.go: JSON-RPC over HTTP connection (unary only)
//   - codec.go: marshal/unmarshal helpers and the raw byte codec
//   - metadata.go: per-call metadata rewriting
//
// Application code should depend only on Stub and the Conn interface,
// making transport selection a deployment decision rather than a code
// change.
package rpc
