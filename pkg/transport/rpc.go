package transport

import "context"

// ManagementService is the RPC surface for cluster formation and membership
// changes (spec.md §6): Init, AddLearner, ChangeMembership, Metrics.
type ManagementService interface {
    Init(ctx context.Context, nodes []NodeAddr) (InitResponse, error)
    AddLearner(ctx context.Context, node NodeAddr) (AddLearnerResponse, error)
    ChangeMembership(ctx context.Context, membership []NodeAddr) (ChangeMembershipResponse, error)
    Metrics(ctx context.Context) (MetricsResponse, error)
}

type InitResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

type AddLearnerResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

type ChangeMembershipResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

type MetricsResponse struct {
    Role        string `json:"role"`
    Term        uint64 `json:"term"`
    AppliedIdx  uint64 `json:"appliedIndex"`
    MemberCount int    `json:"memberCount"`
}

// AppService is the client-facing key/value + admin RPC surface (spec.md
// §6): Set, Get, Delete, Watch (streaming), ForwardToLeader.
type AppService interface {
    Set(ctx context.Context, key, value string) (SetResponse, error)
    Get(ctx context.Context, key string) (GetResponse, error)
    Delete(ctx context.Context, key string) (DeleteResponse, error)
    ForwardToLeader(ctx context.Context, inner ForwardRequest) (ForwardResponse, error)
}

type SetResponse struct {
    Error string `json:"error,omitempty"`
    Hint  string `json:"hint,omitempty"`
}

type GetResponse struct {
    Value string `json:"value,omitempty"`
    Found bool   `json:"found"`
    Error string `json:"error,omitempty"`
    Hint  string `json:"hint,omitempty"`
}

type DeleteResponse struct {
    Error string `json:"error,omitempty"`
    Hint  string `json:"hint,omitempty"`
}

// ForwardRequest wraps an inner Set/Delete call a follower relays to the
// leader (spec.md §4.6 "Leader forwarding"); Op is "Set" or "Delete".
type ForwardRequest struct {
    Op    string `json:"op"`
    Key   string `json:"key"`
    Value string `json:"value,omitempty"`
}

type ForwardResponse struct {
    Error string `json:"error,omitempty"`
    Hint  string `json:"hint,omitempty"`
}

// WatchEvent is streamed to a Watch(key) caller for each commit affecting
// that key, in commit order.
type WatchEvent struct {
    Value   string `json:"value,omitempty"`
    Deleted bool   `json:"deleted"`
    Index   uint64 `json:"index"`
}

// StatusFunc returns a JSON-encoded node status payload for
// ManagementService.Metrics-adjacent status queries.
type StatusFunc func(ctx context.Context) ([]byte, error)
