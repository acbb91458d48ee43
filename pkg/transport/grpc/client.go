package grpc

import (
    "context"
    "crypto/tls"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"

    "github.com/jeffmoss/disco/pkg/transport"
)

// Client is Disco's gRPC-backed ManagementService + AppService client, one
// cached connection per peer via ConnManager (spec.md §4.1).
type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config
    cm      *ConnManager
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 {
        timeout = 3 * time.Second
    }
    return &Client{timeout: timeout}
}

func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
    // base 100ms, cap 5s, jitter ±25% per spec.md §4.1's reconnection policy.
    bo := backoff.DefaultConfig
    bo.BaseDelay = 100 * time.Millisecond
    bo.MaxDelay = 5 * time.Second
    bo.Jitter = 0.25

    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: bo, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithBlock(),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.DialContext(ctx, target, opts...)
}

func (c *Client) getConn(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
    if c.cm == nil {
        c.cm = NewConnManager(30*time.Second, c.dialCtx)
    }
    return c.cm.Get(ctx, addr)
}

// --- ManagementService ---

func (c *Client) Init(ctx context.Context, addr string, nodes []transport.NodeAddr) (transport.InitResponse, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    var resp transport.InitResponse
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil {
        return resp, err
    }
    defer rel()
    err = cc.Invoke(cctx, "/disco.v1.Management/Init", &initRequest{Nodes: nodes}, &resp)
    return resp, err
}

func (c *Client) AddLearner(ctx context.Context, addr string, node transport.NodeAddr) (transport.AddLearnerResponse, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    var resp transport.AddLearnerResponse
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil {
        return resp, err
    }
    defer rel()
    err = cc.Invoke(cctx, "/disco.v1.Management/AddLearner", &node, &resp)
    return resp, err
}

func (c *Client) ChangeMembership(ctx context.Context, addr string, membership []transport.NodeAddr) (transport.ChangeMembershipResponse, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    var resp transport.ChangeMembershipResponse
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil {
        return resp, err
    }
    defer rel()
    err = cc.Invoke(cctx, "/disco.v1.Management/ChangeMembership", &changeMembershipRequest{Membership: membership}, &resp)
    return resp, err
}

func (c *Client) Metrics(ctx context.Context, addr string) (transport.MetricsResponse, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    var resp transport.MetricsResponse
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil {
        return resp, err
    }
    defer rel()
    err = cc.Invoke(cctx, "/disco.v1.Management/Metrics", &empty{}, &resp)
    return resp, err
}

// --- AppService ---

func (c *Client) Set(ctx context.Context, addr, key, value string) (transport.SetResponse, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    var resp transport.SetResponse
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil {
        return resp, err
    }
    defer rel()
    err = cc.Invoke(cctx, "/disco.v1.App/Set", &setRequest{Key: key, Value: value}, &resp)
    return resp, err
}

func (c *Client) Get(ctx context.Context, addr, key string) (transport.GetResponse, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    var resp transport.GetResponse
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil {
        return resp, err
    }
    defer rel()
    err = cc.Invoke(cctx, "/disco.v1.App/Get", &getRequest{Key: key}, &resp)
    return resp, err
}

func (c *Client) Delete(ctx context.Context, addr, key string) (transport.DeleteResponse, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    var resp transport.DeleteResponse
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil {
        return resp, err
    }
    defer rel()
    err = cc.Invoke(cctx, "/disco.v1.App/Delete", &deleteRequest{Key: key}, &resp)
    return resp, err
}

func (c *Client) ForwardToLeader(ctx context.Context, addr string, req transport.ForwardRequest) (transport.ForwardResponse, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    var resp transport.ForwardResponse
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil {
        return resp, err
    }
    defer rel()
    err = cc.Invoke(cctx, "/disco.v1.App/ForwardToLeader", &req, &resp)
    return resp, err
}

// Watch opens a server-streamed Watch(key) call, invoking onEvent for each
// event in commit order until ctx is done or the stream ends.
func (c *Client) Watch(ctx context.Context, addr, key string, onEvent func(transport.WatchEvent)) error {
    cc, rel, err := c.getConn(ctx, addr)
    if err != nil {
        return err
    }
    defer rel()

    desc := &grpc.StreamDesc{StreamName: "Watch", ServerStreams: true}
    stream, err := cc.NewStream(ctx, desc, "/disco.v1.App/Watch")
    if err != nil {
        return err
    }
    if err := stream.SendMsg(&watchRequest{Key: key}); err != nil {
        return err
    }
    if err := stream.CloseSend(); err != nil {
        return err
    }
    for {
        var ev transport.WatchEvent
        if err := stream.RecvMsg(&ev); err != nil {
            return err
        }
        onEvent(ev)
    }
}
