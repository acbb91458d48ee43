// Package grpc implements Disco's Transport component: mTLS gRPC with
// hand-written grpc.ServiceDescs and a JSON codec instead of protobuf
// codegen (the wire encoding is out of scope per spec.md §1), generalizing
// the teacher's pkg/transport/grpc from a single Management service to
// Disco's ManagementService + AppService (spec.md §6).
package grpc

import (
    "context"
    "crypto/tls"
    "net"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/jeffmoss/disco/pkg/observability/tracing"
    "github.com/jeffmoss/disco/pkg/transport"
)

// Server hosts Disco's ManagementService and AppService over one mTLS
// listener.
type Server struct {
    bind   string
    lis    net.Listener
    srv    *grpc.Server
    tlsCfg *tls.Config
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

func (s *Server) Addr() string { return s.bind }

type empty struct{}

// Handlers bundles the callbacks the daemon injects to fulfil RPCs,
// keeping pkg/transport/grpc free of a dependency on pkg/raftnode.
type Handlers struct {
    Init             func(ctx context.Context, nodes []transport.NodeAddr) (transport.InitResponse, error)
    AddLearner       func(ctx context.Context, node transport.NodeAddr) (transport.AddLearnerResponse, error)
    ChangeMembership func(ctx context.Context, membership []transport.NodeAddr) (transport.ChangeMembershipResponse, error)
    Metrics          func(ctx context.Context) (transport.MetricsResponse, error)

    Set             func(ctx context.Context, key, value string) (transport.SetResponse, error)
    Get             func(ctx context.Context, key string) (transport.GetResponse, error)
    Delete          func(ctx context.Context, key string) (transport.DeleteResponse, error)
    ForwardToLeader func(ctx context.Context, req transport.ForwardRequest) (transport.ForwardResponse, error)
    Watch           func(ctx context.Context, key string, send func(transport.WatchEvent) error) error
}

func (s *Server) Start(ctx context.Context, h Handlers) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil {
        return err
    }
    s.lis = lis

    opts := []grpc.ServerOption{
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil {
        opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg)))
    }
    srv := grpc.NewServer(opts...)
    s.srv = srv

    healthSrv := health.NewServer()
    healthpb.RegisterHealthServer(srv, healthSrv)

    srv.RegisterService(&_Management_serviceDesc, &managementImpl{h: h})
    srv.RegisterService(&_App_serviceDesc, &appImpl{h: h})

    go func() {
        <-ctx.Done()
        ch := make(chan struct{})
        go func() { srv.GracefulStop(); close(ch) }()
        select {
        case <-ch:
        case <-time.After(2 * time.Second):
            srv.Stop()
        }
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil {
        return nil
    }
    ch := make(chan struct{})
    go func() { s.srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        s.srv.Stop()
    }
    s.srv = nil
    if s.lis != nil {
        _ = s.lis.Close()
        s.lis = nil
    }
    return nil
}

// --- ManagementService ---

type managementServer interface {
    Init(ctx context.Context, in *initRequest) (*transport.InitResponse, error)
    AddLearner(ctx context.Context, in *transport.NodeAddr) (*transport.AddLearnerResponse, error)
    ChangeMembership(ctx context.Context, in *changeMembershipRequest) (*transport.ChangeMembershipResponse, error)
    Metrics(ctx context.Context, in *empty) (*transport.MetricsResponse, error)
}

type initRequest struct {
    Nodes []transport.NodeAddr `json:"nodes"`
}
type changeMembershipRequest struct {
    Membership []transport.NodeAddr `json:"membership"`
}

type managementImpl struct{ h Handlers }

func (m *managementImpl) Init(ctx context.Context, in *initRequest) (*transport.InitResponse, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.management.Init")
    defer end()
    resp, err := m.h.Init(ctx, in.Nodes)
    if err != nil {
        return &transport.InitResponse{Error: err.Error()}, nil
    }
    return &resp, nil
}

func (m *managementImpl) AddLearner(ctx context.Context, in *transport.NodeAddr) (*transport.AddLearnerResponse, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.management.AddLearner")
    defer end()
    resp, err := m.h.AddLearner(ctx, *in)
    if err != nil {
        return &transport.AddLearnerResponse{Error: err.Error()}, nil
    }
    return &resp, nil
}

func (m *managementImpl) ChangeMembership(ctx context.Context, in *changeMembershipRequest) (*transport.ChangeMembershipResponse, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.management.ChangeMembership")
    defer end()
    resp, err := m.h.ChangeMembership(ctx, in.Membership)
    if err != nil {
        return &transport.ChangeMembershipResponse{Error: err.Error()}, nil
    }
    return &resp, nil
}

func (m *managementImpl) Metrics(ctx context.Context, _ *empty) (*transport.MetricsResponse, error) {
    resp, err := m.h.Metrics(ctx)
    if err != nil {
        return &transport.MetricsResponse{}, err
    }
    return &resp, nil
}

var _Management_serviceDesc = grpc.ServiceDesc{
    ServiceName: "disco.v1.Management",
    HandlerType: (*managementServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "Init", Handler: _Management_Init_Handler},
        {MethodName: "AddLearner", Handler: _Management_AddLearner_Handler},
        {MethodName: "ChangeMembership", Handler: _Management_ChangeMembership_Handler},
        {MethodName: "Metrics", Handler: _Management_Metrics_Handler},
    },
}

func _Management_Init_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(initRequest)
    if err := dec(in); err != nil {
        return nil, err
    }
    if interceptor == nil {
        return srv.(managementServer).Init(ctx, in)
    }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.v1.Management/Init"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).Init(ctx, req.(*initRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func _Management_AddLearner_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.NodeAddr)
    if err := dec(in); err != nil {
        return nil, err
    }
    if interceptor == nil {
        return srv.(managementServer).AddLearner(ctx, in)
    }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.v1.Management/AddLearner"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).AddLearner(ctx, req.(*transport.NodeAddr))
    }
    return interceptor(ctx, in, info, handler)
}

func _Management_ChangeMembership_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(changeMembershipRequest)
    if err := dec(in); err != nil {
        return nil, err
    }
    if interceptor == nil {
        return srv.(managementServer).ChangeMembership(ctx, in)
    }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.v1.Management/ChangeMembership"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).ChangeMembership(ctx, req.(*changeMembershipRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func _Management_Metrics_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(empty)
    if err := dec(in); err != nil {
        return nil, err
    }
    if interceptor == nil {
        return srv.(managementServer).Metrics(ctx, in)
    }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.v1.Management/Metrics"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).Metrics(ctx, req.(*empty))
    }
    return interceptor(ctx, in, info, handler)
}

// --- AppService ---

type setRequest struct {
    Key   string `json:"key"`
    Value string `json:"value"`
}
type getRequest struct {
    Key string `json:"key"`
}
type deleteRequest struct {
    Key string `json:"key"`
}
type watchRequest struct {
    Key string `json:"key"`
}

type appServer interface {
    Set(ctx context.Context, in *setRequest) (*transport.SetResponse, error)
    Get(ctx context.Context, in *getRequest) (*transport.GetResponse, error)
    Delete(ctx context.Context, in *deleteRequest) (*transport.DeleteResponse, error)
    ForwardToLeader(ctx context.Context, in *transport.ForwardRequest) (*transport.ForwardResponse, error)
    Watch(*watchRequest, App_WatchServer) error
}

type App_WatchServer interface {
    Send(*transport.WatchEvent) error
    grpc.ServerStream
}

type appImpl struct{ h Handlers }

func (a *appImpl) Set(ctx context.Context, in *setRequest) (*transport.SetResponse, error) {
    resp, err := a.h.Set(ctx, in.Key, in.Value)
    if err != nil && resp.Error == "" {
        resp.Error = err.Error()
    }
    return &resp, nil
}

func (a *appImpl) Get(ctx context.Context, in *getRequest) (*transport.GetResponse, error) {
    resp, err := a.h.Get(ctx, in.Key)
    if err != nil && resp.Error == "" {
        resp.Error = err.Error()
    }
    return &resp, nil
}

func (a *appImpl) Delete(ctx context.Context, in *deleteRequest) (*transport.DeleteResponse, error) {
    resp, err := a.h.Delete(ctx, in.Key)
    if err != nil && resp.Error == "" {
        resp.Error = err.Error()
    }
    return &resp, nil
}

func (a *appImpl) ForwardToLeader(ctx context.Context, in *transport.ForwardRequest) (*transport.ForwardResponse, error) {
    resp, err := a.h.ForwardToLeader(ctx, *in)
    if err != nil && resp.Error == "" {
        resp.Error = err.Error()
    }
    return &resp, nil
}

func (a *appImpl) Watch(in *watchRequest, stream App_WatchServer) error {
    if a.h.Watch == nil {
        return nil
    }
    return a.h.Watch(stream.Context(), in.Key, func(ev transport.WatchEvent) error {
        return stream.Send(&ev)
    })
}

var _App_serviceDesc = grpc.ServiceDesc{
    ServiceName: "disco.v1.App",
    HandlerType: (*appServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "Set", Handler: _App_Set_Handler},
        {MethodName: "Get", Handler: _App_Get_Handler},
        {MethodName: "Delete", Handler: _App_Delete_Handler},
        {MethodName: "ForwardToLeader", Handler: _App_ForwardToLeader_Handler},
    },
    Streams: []grpc.StreamDesc{{
        StreamName:    "Watch",
        ServerStreams: true,
        Handler:       _App_Watch_Handler,
    }},
}

func _App_Set_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(setRequest)
    if err := dec(in); err != nil {
        return nil, err
    }
    if interceptor == nil {
        return srv.(appServer).Set(ctx, in)
    }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.v1.App/Set"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(appServer).Set(ctx, req.(*setRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func _App_Get_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(getRequest)
    if err := dec(in); err != nil {
        return nil, err
    }
    if interceptor == nil {
        return srv.(appServer).Get(ctx, in)
    }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.v1.App/Get"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(appServer).Get(ctx, req.(*getRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func _App_Delete_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(deleteRequest)
    if err := dec(in); err != nil {
        return nil, err
    }
    if interceptor == nil {
        return srv.(appServer).Delete(ctx, in)
    }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.v1.App/Delete"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(appServer).Delete(ctx, req.(*deleteRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func _App_ForwardToLeader_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.ForwardRequest)
    if err := dec(in); err != nil {
        return nil, err
    }
    if interceptor == nil {
        return srv.(appServer).ForwardToLeader(ctx, in)
    }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.v1.App/ForwardToLeader"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(appServer).ForwardToLeader(ctx, req.(*transport.ForwardRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func _App_Watch_Handler(srv interface{}, stream grpc.ServerStream) error {
    m := new(watchRequest)
    if err := stream.RecvMsg(m); err != nil {
        return err
    }
    return srv.(appServer).Watch(m, &appWatchServer{stream})
}

type appWatchServer struct{ grpc.ServerStream }

func (x *appWatchServer) Send(m *transport.WatchEvent) error { return x.ServerStream.SendMsg(m) }

var _ appServer = (*appImpl)(nil)
var _ managementServer = (*managementImpl)(nil)
