// Copyright (C) 2019-2025, Drift Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"io"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// fakeConn is an in-memory Conn whose server side is a script run in its
// own goroutine per call. It counts the client's sends and receives so
// tests can pin down exactly when data moves.
type fakeConn struct {
	serve func(*fakeCall)

	mu     sync.Mutex
	closed bool
	calls  []*fakeCall
}

func newFakeConn(serve func(*fakeCall)) *fakeConn {
	return &fakeConn{serve: serve}
}

func (f *fakeConn) NewCall(ctx context.Context, method string) (CallHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, connErrorf("fake: connection closed")
	}
	md, _ := metadata.FromOutgoingContext(ctx)
	c := &fakeCall{
		ctx:    ctx,
		method: method,
		md:     md,
		reqCh:  make(chan []byte, 64),
		respCh: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	f.calls = append(f.calls, c)
	if f.serve != nil {
		go f.serve(c)
	}
	return c, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) lastCall() *fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeCall struct {
	ctx    context.Context
	method string
	md     metadata.MD

	reqCh  chan []byte
	respCh chan []byte
	done   chan struct{} // closed by end(); termErr is set before

	mu         sync.Mutex
	sent       int
	received   int
	halfClosed bool
	termErr    error
	header     metadata.MD
	trailer    metadata.MD
}

// Client side of the handle.

func (c *fakeCall) Send(msg []byte) error {
	if err := c.ctx.Err(); err != nil {
		return status.FromContextError(err).Err()
	}
	c.mu.Lock()
	if c.halfClosed {
		c.mu.Unlock()
		return status.Error(codes.Internal, "fake: send after half-close")
	}
	c.sent++
	c.mu.Unlock()
	select {
	case c.reqCh <- msg:
		return nil
	case <-c.done:
		// stream already terminated; real status comes from Recv
		return io.EOF
	case <-c.ctx.Done():
		return status.FromContextError(c.ctx.Err()).Err()
	}
}

func (c *fakeCall) Recv() ([]byte, error) {
	c.mu.Lock()
	c.received++
	c.mu.Unlock()
	select {
	case msg := <-c.respCh:
		return msg, nil
	case <-c.done:
		// drain replies queued before the call ended
		select {
		case msg := <-c.respCh:
			return msg, nil
		default:
		}
		c.mu.Lock()
		err := c.termErr
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-c.ctx.Done():
		return nil, status.FromContextError(c.ctx.Err()).Err()
	}
}

func (c *fakeCall) CloseSend() error {
	c.mu.Lock()
	if !c.halfClosed {
		c.halfClosed = true
		close(c.reqCh)
	}
	c.mu.Unlock()
	return nil
}

func (c *fakeCall) Header() (metadata.MD, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header, nil
}

func (c *fakeCall) Trailer() metadata.MD {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trailer
}

func (c *fakeCall) counts() (sent, received int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent, c.received
}

// Server side of the script.

func (c *fakeCall) recvReq() ([]byte, bool) {
	msg, ok := <-c.reqCh
	return msg, ok
}

func (c *fakeCall) reply(msg []byte) {
	c.respCh <- msg
}

func (c *fakeCall) setTrailer(md metadata.MD) {
	c.mu.Lock()
	c.trailer = md
	c.mu.Unlock()
}

func (c *fakeCall) end(err error) {
	c.mu.Lock()
	c.termErr = err
	c.mu.Unlock()
	close(c.done)
}

// Canned server scripts.

func echoServer(c *fakeCall) {
	for {
		msg, ok := c.recvReq()
		if !ok {
			c.end(nil)
			return
		}
		c.reply(msg)
	}
}

func silentServer(c *fakeCall) {
	<-c.ctx.Done()
}

func failingServer(err error) func(*fakeCall) {
	return func(c *fakeCall) {
		for {
			if _, ok := c.recvReq(); !ok {
				break
			}
		}
		c.end(err)
	}
}

// fakeStub builds a stub over a fake conn with deadlines disabled, which
// keeps tests about shape semantics free of timing.
func fakeStub(conn Conn, opts ...StubOption) *Stub {
	opts = append([]StubOption{WithConn(conn), WithDefaultTimeout(NoTimeout)}, opts...)
	s, err := NewStub("fake-host", opts...)
	if err != nil {
		panic(err)
	}
	return s
}
