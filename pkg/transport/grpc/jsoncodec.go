package grpc

import (
    "encoding/json"

    "google.golang.org/grpc/encoding"
)

// jsonCodec is a gRPC codec for JSON payloads, used so Disco's hand-written
// service descriptors never need protobuf codegen — the wire encoding
// itself is out of scope (spec.md §1 treats it as an opaque schema).
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)   { return json.Marshal(v) }
func (jsonCodec) Unmarshal(b []byte, v interface{}) error { return json.Unmarshal(b, v) }
func (jsonCodec) Name() string                            { return "json" }

func init() {
    encoding.RegisterCodec(jsonCodec{})
}
