package grpc

// RaftService is named in spec.md §4.1/§6 alongside ManagementService and
// AppService as one of the three logical services Transport exposes, but
// this package does not register a serviceDesc for it: pkg/raftnode wires
// hashicorp/raft directly onto raft.NewTCPTransport, which speaks raft's
// own length-prefixed wire format rather than a gRPC stream. Routing peer
// vote/append/install-snapshot traffic through this same mTLS gRPC
// transport and ConnManager would be possible (the request/response shapes
// are internal to hashicorp/raft and not something Disco's own code would
// hand-roll), but spec.md §1 treats the RPC wire encoding as opaque, and
// the teacher's own stack gives hashicorp/raft its own transport rather
// than tunneling it through gRPC — so RaftService here is a named
// placeholder for that alternative wiring, not a default path. See
// DESIGN.md.
