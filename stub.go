// Copyright (C) 2019-2025, Drift Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"io"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// DefaultTimeout is the stub-wide call timeout used when none is configured.
const DefaultTimeout = 30 * time.Second

// Stub is the per-destination entry point. Build one per target and issue
// RPC calls through it; it is immutable after construction and safe for
// concurrent use. The connection behind it is shared read-only by all calls.
type Stub struct {
	host     string
	conn     Conn
	ownsConn bool
	timeout  time.Duration
	rewrite  MetadataFunc
	now      func() time.Time
}

type stubOptions struct {
	prebuilt   interface{}
	creds      interface{}
	dial       dialOptions
	timeout    time.Duration
	rewrite    MetadataFunc
	rewriteSet bool
	now        func() time.Time
}

// StubOption configures a Stub.
type StubOption func(*stubOptions)

// WithConn supplies a pre-built connection: either a Conn or a
// *grpc.ClientConn. The caller keeps ownership and the stub merely
// references it; Stub.Close will not close it. When set, host, credentials,
// transport, and dial params are ignored. Any other type fails NewStub with
// ErrConfig.
func WithConn(conn interface{}) StubOption {
	return func(o *stubOptions) { o.prebuilt = conn }
}

// WithCredentials supplies transport credentials for the stub's own
// connection. The value must be a credentials.TransportCredentials; anything
// else fails NewStub with ErrConfig. Absent credentials mean an
// unauthenticated connection.
func WithCredentials(creds interface{}) StubOption {
	return func(o *stubOptions) { o.creds = creds }
}

// WithTransport selects a registered transport by name. Default is gRPC.
func WithTransport(name string) StubOption {
	return func(o *stubOptions) { o.dial.transport = name }
}

// WithDialParams passes free-form connection parameters through to the
// underlying gRPC dial.
func WithDialParams(params ...grpc.DialOption) StubOption {
	return func(o *stubOptions) { o.dial.params = append(o.dial.params, params...) }
}

// WithHTTPHeaders sets extra HTTP headers sent with every request on the
// JSON-RPC transport. Other transports ignore them.
func WithHTTPHeaders(h http.Header) StubOption {
	return func(o *stubOptions) { o.dial.headers = h }
}

// WithDefaultTimeout sets the stub-wide call timeout. It must be positive,
// or NoTimeout to disable deadlines by default.
func WithDefaultTimeout(d time.Duration) StubOption {
	return func(o *stubOptions) { o.timeout = d }
}

// WithMetadataRewrite installs a rewriter applied to the outgoing metadata
// of every call. A nil rewriter fails NewStub with ErrConfig.
func WithMetadataRewrite(fn MetadataFunc) StubOption {
	return func(o *stubOptions) {
		o.rewrite = fn
		o.rewriteSet = true
	}
}

// withClock overrides the clock used for deadline computation.
func withClock(now func() time.Time) StubOption {
	return func(o *stubOptions) { o.now = now }
}

// NewStub builds a stub for host. Configuration problems surface here as
// ErrConfig; nothing is retried. Building the stub's own connection does not
// wait for connectivity; establishment happens on first use.
func NewStub(host string, opts ...StubOption) (*Stub, error) {
	o := &stubOptions{
		dial:    dialOptions{transport: DefaultTransport},
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.rewriteSet && o.rewrite == nil {
		return nil, configErrorf("metadata rewriter is nil")
	}
	if o.timeout == 0 {
		return nil, configErrorf("default timeout must be positive or NoTimeout")
	}

	conn, owned, err := resolveConn(o.prebuilt, host, o.creds, &o.dial)
	if err != nil {
		return nil, err
	}

	return &Stub{
		host:     host,
		conn:     conn,
		ownsConn: owned,
		timeout:  o.timeout,
		rewrite:  o.rewrite,
		now:      o.now,
	}, nil
}

// Target returns the destination the stub was built for.
func (s *Stub) Target() string { return s.host }

// Close releases the stub's connection if the stub owns it. Connections
// supplied via WithConn stay open; they belong to the caller.
func (s *Stub) Close() error {
	if s.ownsConn {
		return s.conn.Close()
	}
	return nil
}

type callOptions struct {
	timeout time.Duration
	md      metadata.MD
}

// CallOption configures a single call.
type CallOption func(*callOptions)

// WithTimeout overrides the stub's default timeout for one call. Zero means
// "use the default"; NoTimeout disables the deadline.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithMetadata sets the outgoing metadata for one call. The dispatcher works
// on a copy; the caller's map is never modified or retained.
func WithMetadata(md metadata.MD) CallOption {
	return func(o *callOptions) { o.md = md }
}

// RequestIterator is a lazily produced sequence of request objects. It
// returns io.EOF when the sequence is exhausted; any other error abandons
// the call and is surfaced to the caller unchanged.
type RequestIterator func() (interface{}, error)

// Requests builds a RequestIterator over a fixed set of items.
func Requests(items ...interface{}) RequestIterator {
	i := 0
	return func() (interface{}, error) {
		if i >= len(items) {
			return nil, io.EOF
		}
		item := items[i]
		i++
		return item, nil
	}
}

// ResponseFunc consumes one response as it arrives. Returning a non-nil
// error abandons the call and surfaces that error to the caller unchanged.
type ResponseFunc func(resp interface{}) error

// prepare is the preamble shared by all four shapes: resolve per-call
// options and build the invocation through the call factory.
func (s *Stub) prepare(ctx context.Context, method string, marshal MarshalFunc, unmarshal UnmarshalFunc, opts []CallOption) (*callInvocation, error) {
	o := &callOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return s.newCall(ctx, method, marshal, unmarshal, o)
}

// Unary issues a single-request single-response call and blocks until the
// response or a terminal error.
func (s *Stub) Unary(ctx context.Context, method string, req interface{}, marshal MarshalFunc, unmarshal UnmarshalFunc, opts ...CallOption) (interface{}, error) {
	inv, err := s.prepare(ctx, method, marshal, unmarshal, opts)
	if err != nil {
		return nil, err
	}
	return inv.unary(req)
}

// UnaryOp is the deferred form of Unary: nothing is transferred until the
// returned operation's Run is invoked.
func (s *Stub) UnaryOp(ctx context.Context, method string, req interface{}, marshal MarshalFunc, unmarshal UnmarshalFunc, opts ...CallOption) (*Operation, error) {
	inv, err := s.prepare(ctx, method, marshal, unmarshal, opts)
	if err != nil {
		return nil, err
	}
	return deferOperation(inv, func() (interface{}, error) {
		return inv.unary(req)
	}), nil
}

// ClientStream consumes the entire request sequence, sending each item as
// the transport accepts it, then blocks for the single response the server
// sends once the stream is exhausted.
func (s *Stub) ClientStream(ctx context.Context, method string, reqs RequestIterator, marshal MarshalFunc, unmarshal UnmarshalFunc, opts ...CallOption) (interface{}, error) {
	inv, err := s.prepare(ctx, method, marshal, unmarshal, opts)
	if err != nil {
		return nil, err
	}
	return inv.clientStream(reqs)
}

// ClientStreamOp is the deferred form of ClientStream.
func (s *Stub) ClientStreamOp(ctx context.Context, method string, reqs RequestIterator, marshal MarshalFunc, unmarshal UnmarshalFunc, opts ...CallOption) (*Operation, error) {
	inv, err := s.prepare(ctx, method, marshal, unmarshal, opts)
	if err != nil {
		return nil, err
	}
	return deferOperation(inv, func() (interface{}, error) {
		return inv.clientStream(reqs)
	}), nil
}

// ServerStream sends one request and returns a lazy, single-pass sequence of
// responses. With a non-nil callback it instead drains the stream inline,
// delivering each response in arrival order, and returns no stream.
func (s *Stub) ServerStream(ctx context.Context, method string, req interface{}, marshal MarshalFunc, unmarshal UnmarshalFunc, each ResponseFunc, opts ...CallOption) (*ResponseStream, error) {
	inv, err := s.prepare(ctx, method, marshal, unmarshal, opts)
	if err != nil {
		return nil, err
	}
	return inv.serverStream(req, each)
}

// ServerStreamOp is the deferred form of ServerStream.
func (s *Stub) ServerStreamOp(ctx context.Context, method string, req interface{}, marshal MarshalFunc, unmarshal UnmarshalFunc, each ResponseFunc, opts ...CallOption) (*Operation, error) {
	inv, err := s.prepare(ctx, method, marshal, unmarshal, opts)
	if err != nil {
		return nil, err
	}
	return deferOperation(inv, func() (interface{}, error) {
		return streamResult(inv.serverStream(req, each))
	}), nil
}

// BidiStream interleaves sends and receives: the request sequence is drained
// under its own flow control while the caller pulls responses from the
// returned stream (or the callback drains them inline). The sequence must
// end, via io.EOF, for the call to half-close; a sequence that never ends
// while the caller drains responses will block indefinitely.
func (s *Stub) BidiStream(ctx context.Context, method string, reqs RequestIterator, marshal MarshalFunc, unmarshal UnmarshalFunc, each ResponseFunc, opts ...CallOption) (*ResponseStream, error) {
	inv, err := s.prepare(ctx, method, marshal, unmarshal, opts)
	if err != nil {
		return nil, err
	}
	return inv.bidiStream(reqs, each)
}

// BidiStreamOp is the deferred form of BidiStream.
func (s *Stub) BidiStreamOp(ctx context.Context, method string, reqs RequestIterator, marshal MarshalFunc, unmarshal UnmarshalFunc, each ResponseFunc, opts ...CallOption) (*Operation, error) {
	inv, err := s.prepare(ctx, method, marshal, unmarshal, opts)
	if err != nil {
		return nil, err
	}
	return deferOperation(inv, func() (interface{}, error) {
		return streamResult(inv.bidiStream(reqs, each))
	}), nil
}

// streamResult keeps a nil *ResponseStream from turning into a non-nil
// interface value when a deferred streaming call runs in callback mode.
func streamResult(rs *ResponseStream, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	if rs == nil {
		return nil, nil
	}
	return rs, nil
}

// unary: one send, half-close, one receive, then confirm end-of-stream.
func (inv *callInvocation) unary(req interface{}) (interface{}, error) {
	payload, err := inv.marshal(req)
	if err != nil {
		inv.finish(err)
		return nil, err
	}
	inv.start()
	if err := inv.handle.Send(payload); err != nil && err != io.EOF {
		// A Send error of io.EOF means the stream already terminated; the
		// real status comes out of Recv below.
		inv.finish(err)
		return nil, err
	}
	if err := inv.handle.CloseSend(); err != nil {
		inv.finish(err)
		return nil, err
	}
	return inv.recvSingle()
}

// clientStream: drain the request sequence on the calling goroutine, then
// half-close and wait for the single response.
func (inv *callInvocation) clientStream(reqs RequestIterator) (interface{}, error) {
	inv.start()
	for {
		req, err := reqs()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Consumption error from the caller's sequence: abandon the
			// call and propagate the error unchanged.
			inv.finish(err)
			return nil, err
		}
		payload, err := inv.marshal(req)
		if err != nil {
			inv.finish(err)
			return nil, err
		}
		if err := inv.handle.Send(payload); err != nil {
			if err == io.EOF {
				break
			}
			inv.finish(err)
			return nil, err
		}
	}
	if err := inv.handle.CloseSend(); err != nil {
		inv.finish(err)
		return nil, err
	}
	return inv.recvSingle()
}

// recvSingle receives exactly one response and verifies the server then
// ends the stream cleanly.
func (inv *callInvocation) recvSingle() (interface{}, error) {
	data, err := inv.handle.Recv()
	if err != nil {
		if err == io.EOF {
			err = status.Error(codes.Internal, "server closed stream without a response")
		}
		inv.finish(err)
		return nil, err
	}
	resp, err := inv.unmarshal(data)
	if err != nil {
		inv.finish(err)
		return nil, err
	}
	switch _, err := inv.handle.Recv(); err {
	case io.EOF:
	case nil:
		err = status.Error(codes.Internal, "server sent extra response for non-streaming call")
		inv.finish(err)
		return nil, err
	default:
		inv.finish(err)
		return nil, err
	}
	inv.finish(nil)
	return resp, nil
}

func (inv *callInvocation) serverStream(req interface{}, each ResponseFunc) (*ResponseStream, error) {
	payload, err := inv.marshal(req)
	if err != nil {
		inv.finish(err)
		return nil, err
	}
	inv.start()
	if err := inv.handle.Send(payload); err != nil && err != io.EOF {
		inv.finish(err)
		return nil, err
	}
	if err := inv.handle.CloseSend(); err != nil {
		inv.finish(err)
		return nil, err
	}
	rs := &ResponseStream{inv: inv}
	if each != nil {
		return nil, rs.drain(each)
	}
	return rs, nil
}

func (inv *callInvocation) bidiStream(reqs RequestIterator, each ResponseFunc) (*ResponseStream, error) {
	inv.start()
	go inv.pumpRequests(reqs)
	rs := &ResponseStream{inv: inv}
	if each != nil {
		return nil, rs.drain(each)
	}
	return rs, nil
}

// pumpRequests drains the request sequence for a bidi call, half-closing
// when it ends. A consumption or marshal error is recorded on the
// invocation and the call abandoned; the receive side surfaces it.
func (inv *callInvocation) pumpRequests(reqs RequestIterator) {
	for {
		req, err := reqs()
		if err == io.EOF {
			break
		}
		if err != nil {
			inv.setSendErr(err)
			inv.finish(err)
			return
		}
		payload, err := inv.marshal(req)
		if err != nil {
			inv.setSendErr(err)
			inv.finish(err)
			return
		}
		if err := inv.handle.Send(payload); err != nil {
			// Stream terminated under us; the receive side gets the status.
			return
		}
	}
	_ = inv.handle.CloseSend()
}

// ResponseStream is a lazy, single-pass, forward-only view of a streaming
// call's responses. It is exhausted when Recv returns io.EOF; a non-OK
// terminal status surfaces from the Recv that observes it.
type ResponseStream struct {
	inv *callInvocation
}

// Recv blocks for the next response. io.EOF means the server ended the
// stream cleanly.
func (rs *ResponseStream) Recv() (interface{}, error) {
	if err := rs.inv.takeSendErr(); err != nil {
		rs.inv.finish(err)
		return nil, err
	}
	data, err := rs.inv.handle.Recv()
	if err != nil {
		if err == io.EOF {
			rs.inv.finish(nil)
			return nil, io.EOF
		}
		// A recorded send-side error is the root cause; the transport error
		// here is just its echo.
		if serr := rs.inv.takeSendErr(); serr != nil {
			rs.inv.finish(serr)
			return nil, serr
		}
		rs.inv.finish(err)
		return nil, err
	}
	resp, err := rs.inv.unmarshal(data)
	if err != nil {
		rs.inv.finish(err)
		return nil, err
	}
	return resp, nil
}

// Header blocks until the server's initial metadata is available.
func (rs *ResponseStream) Header() (metadata.MD, error) {
	return rs.inv.handle.Header()
}

// Trailer returns the trailing metadata. Only valid after the stream has
// terminated.
func (rs *ResponseStream) Trailer() metadata.MD {
	return rs.inv.handle.Trailer()
}

func (rs *ResponseStream) drain(each ResponseFunc) error {
	for {
		resp, err := rs.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := each(resp); err != nil {
			rs.inv.finish(err)
			return err
		}
	}
}
