// Copyright (C) 2019-2025, Drift Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc/metadata"
)

// NoTimeout disables the deadline for a call (or for a whole stub when used
// as the default). Any negative duration works; this is the canonical value.
const NoTimeout = time.Duration(-1)

// CallState describes where a call is in its lifetime. There are no
// transitions out of Completed or Failed.
type CallState int32

const (
	// StateCreated: the call handle is obtained but no data has moved.
	StateCreated CallState = iota
	// StateActive: data transfer has begun.
	StateActive
	// StateCompleted: terminal response and OK status received.
	StateCompleted
	// StateFailed: deadline exceeded, transport error, or non-OK status.
	StateFailed
)

func (s CallState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// callInvocation is the per-call working state. One is built fresh for every
// RPC and discarded when the call terminates; it owns nothing that outlives
// the call.
type callInvocation struct {
	method    string
	marshal   MarshalFunc
	unmarshal UnmarshalFunc
	deadline  time.Time // zero when the call has no deadline
	handle    CallHandle
	cancel    context.CancelFunc

	mu      sync.Mutex
	state   CallState
	sendErr error // request-sequence consumption error, surfaced on receive
}

// newCall is the call factory. It converts the relative timeout into an
// absolute deadline using the stub's clock at the moment of the call (not at
// stub construction), computes the effective metadata, and obtains the
// transport handle. Obtaining the handle may open network resources, but no
// request payload is transmitted until a shape executor drives the call.
func (s *Stub) newCall(ctx context.Context, method string, marshal MarshalFunc, unmarshal UnmarshalFunc, o *callOptions) (*callInvocation, error) {
	timeout := o.timeout
	if timeout == 0 {
		timeout = s.timeout
	}

	md := effectiveMetadata(s.rewrite, o.md)
	if len(md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}

	var deadline time.Time
	var cancel context.CancelFunc
	if timeout > 0 {
		deadline = s.now().Add(timeout)
		ctx, cancel = context.WithDeadline(ctx, deadline)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	handle, err := s.conn.NewCall(ctx, method)
	if err != nil {
		cancel()
		return nil, err
	}

	return &callInvocation{
		method:    method,
		marshal:   marshal,
		unmarshal: unmarshal,
		deadline:  deadline,
		handle:    handle,
		cancel:    cancel,
	}, nil
}

func (inv *callInvocation) start() {
	inv.mu.Lock()
	if inv.state == StateCreated {
		inv.state = StateActive
	}
	inv.mu.Unlock()
}

// finish moves the call to its terminal state and releases the call
// context. Later finishes are no-ops, so the first terminal outcome wins.
func (inv *callInvocation) finish(err error) {
	inv.mu.Lock()
	if inv.state == StateCompleted || inv.state == StateFailed {
		inv.mu.Unlock()
		return
	}
	if err != nil {
		inv.state = StateFailed
	} else {
		inv.state = StateCompleted
	}
	inv.mu.Unlock()
	inv.cancel()
}

func (inv *callInvocation) currentState() CallState {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state
}

func (inv *callInvocation) setSendErr(err error) {
	inv.mu.Lock()
	if inv.sendErr == nil {
		inv.sendErr = err
	}
	inv.mu.Unlock()
}

func (inv *callInvocation) takeSendErr() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.sendErr
}

// Operation is a fully configured but not-yet-executed RPC. It decouples
// "the call exists" from "the call has been driven": the status and metadata
// views work as the underlying call progresses, whether or not Run has been
// invoked yet.
type Operation struct {
	inv  *callInvocation
	exec func() (interface{}, error)

	mu  sync.Mutex
	ran bool
}

func deferOperation(inv *callInvocation, exec func() (interface{}, error)) *Operation {
	return &Operation{inv: inv, exec: exec}
}

// Run performs the captured invocation and returns exactly what the
// immediate-mode call would have returned: the response value for unary and
// client-streaming shapes, a *ResponseStream for streaming responses, or nil
// when a per-response callback was captured. Run is at-most-once; a second
// call returns ErrOperationDone without touching the wire.
func (op *Operation) Run() (interface{}, error) {
	op.mu.Lock()
	if op.ran {
		op.mu.Unlock()
		return nil, ErrOperationDone
	}
	op.ran = true
	op.mu.Unlock()
	return op.exec()
}

// Header blocks until the server's initial metadata is available.
func (op *Operation) Header() (metadata.MD, error) {
	return op.inv.handle.Header()
}

// Trailer returns the trailing metadata. Only valid once the call has
// terminated.
func (op *Operation) Trailer() metadata.MD {
	return op.inv.handle.Trailer()
}

// State reports the call's current lifecycle state.
func (op *Operation) State() CallState {
	return op.inv.currentState()
}

// Deadline returns the call's absolute deadline. ok is false when the call
// has no deadline.
func (op *Operation) Deadline() (deadline time.Time, ok bool) {
	return op.inv.deadline, !op.inv.deadline.IsZero()
}
