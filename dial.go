// Copyright (C) 2019-2025, Drift Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

type dialOptions struct {
	transport string
	creds     credentials.TransportCredentials
	params    []grpc.DialOption
	headers   http.Header
}

// resolveConn produces the stub's connection. A pre-built connection, when
// supplied, always wins: it is returned as-is and host, credentials, and
// connection parameters are ignored. Otherwise a fresh connection to host is
// built by the selected transport; the stub owns that one and closes it.
func resolveConn(prebuilt interface{}, host string, rawCreds interface{}, o *dialOptions) (conn Conn, owned bool, err error) {
	if prebuilt != nil {
		switch c := prebuilt.(type) {
		case Conn:
			return c, false, nil
		case *grpc.ClientConn:
			return &grpcConn{cc: c}, false, nil
		default:
			return nil, false, configErrorf("not a connection: %T", prebuilt)
		}
	}

	if rawCreds != nil {
		creds, ok := rawCreds.(credentials.TransportCredentials)
		if !ok {
			return nil, false, configErrorf("not transport credentials: %T", rawCreds)
		}
		o.creds = creds
	}

	connect, ok := lookupTransport(o.transport)
	if !ok {
		return nil, false, configErrorf("unknown transport %q", o.transport)
	}
	conn, err = connect(host, o)
	if err != nil {
		return nil, false, err
	}
	return conn, true, nil
}
