// Package rpc defines the wire surfaces of the lock manager: the peer
// Raft service, the client-facing lock service and the inter-region
// service. Messages are plain structs framed by a JSON codec registered
// with gRPC, with hand-written service descriptors; the transport keeps
// gRPC's connection management, deadlines and status codes.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype all lockd services speak. Clients
// must dial with grpc.CallContentSubtype(CodecName); servers pick the codec
// up from the registry automatically.
const CodecName = "lockd-json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements encoding.Codec over encoding/json.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal %T: %w", v, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: unmarshal into %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return CodecName
}
