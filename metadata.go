// Copyright (C) 2019-2025, Drift Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"google.golang.org/grpc/metadata"
)

// MetadataFunc rewrites the outgoing metadata of a call. It is invoked once
// per call with a private copy of the caller's metadata; whatever it returns
// is what goes on the wire. The function must not assume any call ordering;
// if it keeps internal state, guarding that state is its own business.
type MetadataFunc func(md metadata.MD) metadata.MD

// effectiveMetadata computes the metadata for one call. Both branches hand
// out a copy so neither the rewriter nor the transport can reach back into
// the caller's map.
func effectiveMetadata(rewrite MetadataFunc, md metadata.MD) metadata.MD {
	if rewrite == nil {
		return md.Copy()
	}
	return rewrite(md.Copy())
}
