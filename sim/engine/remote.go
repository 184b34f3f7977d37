package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/cachesim/cachesim/sim/collector"
	"github.com/cachesim/cachesim/sim/internal/value"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service hosting an engine.
const ServiceName = "cachesim.engine.v1.Engine"

const runMethod = "/" + ServiceName + "/Run"

// Remote reaches an engine hosted by Serve on another process or machine.
// Requests and responses are google.protobuf.Struct messages:
//
//	request:  {config: {...}, collectors: [...], seed: "<decimal int64>"}
//	response: {metrics: {...}} or {error: "..."}
//
// Struct numbers are doubles, so integer config leaves reach the engine as
// floats and the seed travels as a string.
type Remote struct {
	conn grpc.ClientConnInterface
	cc   *grpc.ClientConn
}

// Dial connects to an engine server at addr over plaintext gRPC.
func Dial(addr string, opts ...grpc.DialOption) (*Remote, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating engine client for %s: %w", addr, err)
	}
	return &Remote{conn: cc, cc: cc}, nil
}

// NewRemote wraps an existing connection.
func NewRemote(conn grpc.ClientConnInterface) *Remote {
	return &Remote{conn: conn}
}

// Close releases the connection opened by Dial.
func (r *Remote) Close() error {
	if r.cc == nil {
		return nil
	}
	return r.cc.Close()
}

// Run implements Engine.
func (r *Remote) Run(ctx context.Context, config map[string]any, collectors collector.Set, seed int64) (map[string]any, error) {
	names := collectors.Names()
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	cfg, err := value.NormalizeMap(config)
	if err != nil {
		return nil, &EngineError{Engine: "remote", Err: err}
	}
	req, err := structpb.NewStruct(map[string]any{
		"config":     cfg,
		"collectors": list,
		"seed":       strconv.FormatInt(seed, 10),
	})
	if err != nil {
		return nil, &EngineError{Engine: "remote", Err: fmt.Errorf("encoding request: %w", err)}
	}

	resp := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, runMethod, req, resp); err != nil {
		if st, ok := status.FromError(err); ok {
			return nil, &EngineError{Engine: "remote", Err: fmt.Errorf("%s: %s", st.Code(), st.Message())}
		}
		return nil, &EngineError{Engine: "remote", Err: err}
	}
	out := resp.AsMap()
	if msg, ok := out["error"].(string); ok && msg != "" {
		return nil, &EngineError{Engine: "remote", Err: errors.New(msg)}
	}
	metrics, ok := out["metrics"].(map[string]any)
	if !ok {
		return nil, &EngineError{Engine: "remote", Err: errors.New("response has neither metrics nor error")}
	}
	return metrics, nil
}

// Server hosts an Engine over gRPC.
type Server struct {
	engine   Engine
	registry *collector.Registry
}

// NewServer returns a server that resolves collector names against registry
// (the built-in registry when nil) and runs replicas on e.
func NewServer(e Engine, registry *collector.Registry) *Server {
	if registry == nil {
		registry = collector.DefaultRegistry()
	}
	return &Server{engine: e, registry: registry}
}

// Register attaches the engine service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&engineServiceDesc, s)
}

// RunStruct handles one Run call. Engine failures are reported in the
// response body; gRPC errors are reserved for malformed requests.
func (s *Server) RunStruct(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	in := req.AsMap()
	config, _ := in["config"].(map[string]any)
	if config == nil {
		return nil, status.Error(codes.InvalidArgument, "config is required")
	}
	var names []string
	for _, n := range asList(in["collectors"]) {
		name, ok := n.(string)
		if !ok {
			return nil, status.Error(codes.InvalidArgument, "collectors must be strings")
		}
		names = append(names, name)
	}
	set, err := s.registry.Resolve(names)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	seedStr, _ := in["seed"].(string)
	seed, err := strconv.ParseInt(seedStr, 10, 64)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "seed %q: %v", seedStr, err)
	}

	metrics, err := Invoke(ctx, s.engine, config, set, seed)
	if err != nil {
		logrus.Warnf("engine server: replica with seed %d failed: %v", seed, err)
		return structpb.NewStruct(map[string]any{"error": err.Error()})
	}
	norm, err := value.NormalizeMap(metrics)
	if err != nil {
		return structpb.NewStruct(map[string]any{"error": fmt.Sprintf("metrics: %v", err)})
	}
	resp, err := structpb.NewStruct(map[string]any{"metrics": norm})
	if err != nil {
		return structpb.NewStruct(map[string]any{"error": fmt.Sprintf("metrics: %v", err)})
	}
	return resp, nil
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

// Serve hosts e on lis until ctx is cancelled, then stops gracefully.
func Serve(ctx context.Context, lis net.Listener, e Engine, registry *collector.Registry) error {
	gs := grpc.NewServer()
	NewServer(e, registry).Register(gs)

	errCh := make(chan error, 1)
	go func() { errCh <- gs.Serve(lis) }()
	logrus.Infof("engine server listening on %s", lis.Addr())

	select {
	case <-ctx.Done():
		gs.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

type engineServer interface {
	RunStruct(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(engineServer).RunStruct(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: runMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(engineServer).RunStruct(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var engineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*engineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cachesim/engine/v1/engine.proto",
}
