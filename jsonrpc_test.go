// Copyright (C) 2019-2025, Drift Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

type jsonrpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     uint64          `json:"id"`
}

func writeJSONRPCResult(w http.ResponseWriter, id uint64, result interface{}) {
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"result":  result,
		"id":      id,
	})
}

func writeJSONRPCError(w http.ResponseWriter, id uint64, code int, message string) {
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   map[string]interface{}{"code": code, "message": message},
		"id":      id,
	})
}

func newArithServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("X-Backend", "arith-1")
		switch req.Method {
		case "Arith.Add":
			var args struct{ A, B int }
			require.NoError(t, json.Unmarshal(req.Params, &args))
			writeJSONRPCResult(w, req.ID, map[string]int{"Sum": args.A + args.B})
		default:
			writeJSONRPCError(w, req.ID, -32601, fmt.Sprintf("unknown method %q", req.Method))
		}
	}))
}

func newJSONRPCStub(t *testing.T, url string) *Stub {
	t.Helper()
	stub, err := NewStub(url, WithTransport(TransportJSONRPC))
	require.NoError(t, err)
	return stub
}

type sumReply struct{ Sum int }

func TestJSONRPCUnary(t *testing.T) {
	srv := newArithServer(t)
	defer srv.Close()

	stub := newJSONRPCStub(t, srv.URL)
	defer stub.Close()

	resp, err := stub.Unary(context.Background(), "Arith.Add",
		struct{ A, B int }{A: 2, B: 3},
		JSONMarshal,
		JSONUnmarshal(func() interface{} { return new(sumReply) }),
	)
	require.NoError(t, err)
	require.Equal(t, &sumReply{Sum: 5}, resp)
}

func TestJSONRPCMethodNotFound(t *testing.T) {
	srv := newArithServer(t)
	defer srv.Close()

	stub := newJSONRPCStub(t, srv.URL)
	defer stub.Close()

	_, err := stub.Unary(context.Background(), "Arith.Divide",
		struct{ A, B int }{A: 6, B: 2},
		JSONMarshal,
		JSONUnmarshal(func() interface{} { return new(sumReply) }),
	)
	require.Error(t, err)
	require.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestJSONRPCStreamingUnsupported(t *testing.T) {
	srv := newArithServer(t)
	defer srv.Close()

	stub := newJSONRPCStub(t, srv.URL)
	defer stub.Close()

	_, err := stub.ClientStream(context.Background(), "Arith.Add",
		Requests(struct{ A, B int }{1, 2}, struct{ A, B int }{3, 4}),
		JSONMarshal,
		JSONUnmarshal(func() interface{} { return new(sumReply) }),
	)
	require.Error(t, err)
	require.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestJSONRPCServerStreamSingleResponse(t *testing.T) {
	srv := newArithServer(t)
	defer srv.Close()

	stub := newJSONRPCStub(t, srv.URL)
	defer stub.Close()

	stream, err := stub.ServerStream(context.Background(), "Arith.Add",
		struct{ A, B int }{A: 4, B: 4},
		JSONMarshal,
		JSONUnmarshal(func() interface{} { return new(sumReply) }),
		nil,
	)
	require.NoError(t, err)

	resp, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, &sumReply{Sum: 8}, resp)

	_, err = stream.Recv()
	require.Equal(t, io.EOF, err)

	header, err := stream.Header()
	require.NoError(t, err)
	require.Equal(t, []string{"arith-1"}, header.Get("x-backend"))
}

func TestJSONRPCHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer srv.Close()

	stub := newJSONRPCStub(t, srv.URL)
	defer stub.Close()

	_, err := stub.Unary(context.Background(), "Arith.Add",
		struct{ A, B int }{1, 1}, JSONMarshal,
		JSONUnmarshal(func() interface{} { return new(sumReply) }))
	require.Error(t, err)
	require.Equal(t, codes.Unavailable, status.Code(err))
}

func TestJSONRPCRejectsCredentials(t *testing.T) {
	_, err := NewStub("localhost:0",
		WithTransport(TransportJSONRPC),
		WithCredentials(insecure.NewCredentials()))
	require.ErrorIs(t, err, ErrConfig)
}

func TestIsRetryableError(t *testing.T) {
	require.False(t, isRetryableError(nil))
	require.True(t, isRetryableError(io.EOF))
	require.True(t, isRetryableError(errors.New("read tcp: connection reset by peer")))
	require.True(t, isRetryableError(errors.New("dial tcp: connection refused")))
	require.False(t, isRetryableError(errors.New("certificate expired")))
}
