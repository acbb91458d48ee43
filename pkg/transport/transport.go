// Package transport defines Disco's RPC surface contracts, independent of
// the wire transport that implements them (pkg/transport/grpc).
package transport

// Transport abstracts the local bind/advertise address of a transport
// implementation.
type Transport interface {
    Addr() string
}

// NodeAddr identifies a cluster member by id and RPC address.
type NodeAddr struct {
    ID   string `json:"id"`
    Addr string `json:"addr"`
}
