// Copyright (C) 2019-2025, Drift Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	json2 "github.com/gorilla/rpc/v2/json2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func init() {
	registerTransport(TransportJSONRPC, connectJSONRPC)
}

const (
	maxRetries    = 3
	retryBaseWait = 500 * time.Millisecond
)

// connectJSONRPC builds a JSON-RPC 2.0 over HTTP connection. The transport
// is unary-only: streaming shapes fail with codes.Unimplemented.
func connectJSONRPC(host string, o *dialOptions) (Conn, error) {
	if o.creds != nil {
		return nil, configErrorf("jsonrpc transport does not take transport credentials")
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	endpoint, err := url.Parse(host)
	if err != nil {
		return nil, configErrorf("bad jsonrpc endpoint %q: %v", host, err)
	}
	return &httpConn{endpoint: endpoint, headers: o.headers}, nil
}

type httpConn struct {
	endpoint *url.URL
	headers  http.Header
	closed   atomic.Bool
}

func (c *httpConn) NewCall(ctx context.Context, method string) (CallHandle, error) {
	if c.closed.Load() {
		return nil, connErrorf("jsonrpc: connection closed")
	}
	return &httpCall{conn: c, ctx: ctx, method: method}, nil
}

func (c *httpConn) Close() error {
	c.closed.Store(true)
	return nil
}

// httpCall maps the call-handle protocol onto one HTTP round trip: Send
// buffers the single request payload, the first Recv performs the POST and
// yields the result bytes, the second Recv reports end-of-stream.
type httpCall struct {
	conn    *httpConn
	ctx     context.Context
	method  string
	payload []byte
	sent    bool
	done    bool
	header  metadata.MD
}

func (h *httpCall) Send(msg []byte) error {
	if h.sent {
		return status.Error(codes.Unimplemented, "jsonrpc: streaming calls not supported")
	}
	h.payload = msg
	h.sent = true
	return nil
}

func (h *httpCall) CloseSend() error { return nil }

func (h *httpCall) Recv() ([]byte, error) {
	if h.done {
		return nil, io.EOF
	}
	h.done = true
	data, header, err := h.conn.roundTrip(h.ctx, h.method, h.payload)
	if err != nil {
		return nil, err
	}
	h.header = header
	return data, nil
}

func (h *httpCall) Header() (metadata.MD, error) {
	return h.header, nil
}

func (h *httpCall) Trailer() metadata.MD { return nil }

// roundTrip posts one JSON-RPC request, retrying transient failures with
// exponential backoff. Each attempt uses a fresh request (the body buffer is
// consumed) and a fresh HTTP client to avoid connection-reuse EOF issues.
func (c *httpConn) roundTrip(ctx context.Context, method string, payload []byte) ([]byte, metadata.MD, error) {
	var params interface{}
	if len(payload) > 0 {
		params = json.RawMessage(payload)
	}
	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return nil, nil, fmt.Errorf("jsonrpc: encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			wait := retryBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, nil, status.FromContextError(ctx.Err()).Err()
			case <-time.After(wait):
			}
		}

		request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(body))
		if err != nil {
			return nil, nil, fmt.Errorf("jsonrpc: build request: %w", err)
		}
		for k, vs := range c.headers {
			request.Header[k] = vs
		}
		request.Header.Set("Content-Type", "application/json")

		resp, err := newHTTPClient().Do(request)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, status.FromContextError(ctx.Err()).Err()
			}
			lastErr = err
			if isRetryableError(err) {
				continue
			}
			return nil, nil, fmt.Errorf("jsonrpc: request failed: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			cleanlyCloseBody(resp.Body)
			return nil, nil, status.Errorf(codes.Unavailable, "jsonrpc: status code %d", resp.StatusCode)
		}

		var result json.RawMessage
		if err := json2.DecodeClientResponse(resp.Body, &result); err != nil {
			cleanlyCloseBody(resp.Body)
			return nil, nil, statusFromJSONRPC(err)
		}
		cleanlyCloseBody(resp.Body)
		return result, headerMetadata(resp.Header), nil
	}

	return nil, nil, status.Errorf(codes.Unavailable, "jsonrpc: request failed after %d retries: %v", maxRetries, lastErr)
}

// newHTTPClient creates a fresh HTTP client with connection reuse disabled,
// avoiding EOF errors that pooled connections produce under process churn.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// cleanlyCloseBody drains and closes a response body to prevent HTTP/2
// GOAWAY errors caused by closing bodies with unread data.
func cleanlyCloseBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

// isRetryableError checks if an error is transient and worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	if errors.Is(err, io.EOF) || strings.Contains(errStr, "EOF") {
		return true
	}
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe")
}

// statusFromJSONRPC maps a JSON-RPC error object onto the status taxonomy.
func statusFromJSONRPC(err error) error {
	var jerr *json2.Error
	if errors.As(err, &jerr) {
		code := codes.Unknown
		switch jerr.Code {
		case json2.E_NO_METHOD:
			code = codes.Unimplemented
		case json2.E_PARSE, json2.E_INVALID_REQ, json2.E_BAD_PARAMS:
			code = codes.InvalidArgument
		case json2.E_INTERNAL, json2.E_SERVER:
			code = codes.Internal
		}
		return status.Errorf(code, "jsonrpc: %s", jerr.Message)
	}
	return fmt.Errorf("jsonrpc: decode response: %w", err)
}

func headerMetadata(h http.Header) metadata.MD {
	md := metadata.MD{}
	for k, vs := range h {
		md.Append(k, vs...)
	}
	return md
}
