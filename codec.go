// Copyright (C) 2019-2025, Drift Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"encoding/json"
	"fmt"
)

// MarshalFunc turns a request object into wire bytes. Serialization is the
// caller's business; the dispatcher treats these functions as opaque.
type MarshalFunc func(v interface{}) ([]byte, error)

// UnmarshalFunc turns wire bytes back into a response object.
type UnmarshalFunc func(data []byte) (interface{}, error)

// JSONMarshal is a MarshalFunc backed by encoding/json.
func JSONMarshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// JSONUnmarshal builds an UnmarshalFunc that decodes into a fresh value
// produced by newValue. The decoded value is returned, not filled in place,
// so callers get e.g. a *MyResponse back from every Recv.
func JSONUnmarshal(newValue func() interface{}) UnmarshalFunc {
	return func(data []byte) (interface{}, error) {
		v := newValue()
		if err := json.Unmarshal(data, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// BinaryMarshal passes byte slices through unchanged (for pre-encoded data).
func BinaryMarshal(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	}
	return nil, fmt.Errorf("binary marshal: %T is not a byte slice", v)
}

// BinaryUnmarshal passes response bytes through unchanged.
func BinaryUnmarshal(data []byte) (interface{}, error) {
	return data, nil
}

// rawCodec is a grpc codec that moves payloads as raw bytes, so the caller's
// marshal/unmarshal functions own serialization end to end.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("raw codec: cannot marshal %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: cannot unmarshal into %T", v)
	}
	*b = data
	return nil
}

func (rawCodec) Name() string { return "driftlabs.raw" }
