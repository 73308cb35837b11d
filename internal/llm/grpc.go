package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The sidecar protocol uses well-known types so no generated stubs are needed:
// requests are a Struct and every response or stream chunk is a StringValue.
const (
	gatewayServiceName = "skills.llm.v1.Gateway"
	completeMethod     = "/" + gatewayServiceName + "/Complete"
	streamMethod       = "/" + gatewayServiceName + "/Stream"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

var gatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: gatewayServiceName,
	HandlerType: (*Gateway)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Complete", Handler: completeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Stream", Handler: streamHandler, ServerStreams: true},
	},
	Metadata: "skills/llm/v1/gateway.proto",
}

// RegisterGatewayServer exposes backend on s so other processes can reach it
// through a GRPCGateway.
func RegisterGatewayServer(s grpc.ServiceRegistrar, backend Gateway) {
	s.RegisterService(&gatewayServiceDesc, backend)
}

func completeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		r, err := requestFromStruct(req.(*structpb.Struct))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		text, err := srv.(Gateway).Complete(ctx, r)
		if err != nil {
			return nil, toStatus(err)
		}
		return wrapperspb.String(text), nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: completeMethod}
	return interceptor(ctx, in, info, handler)
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	r, err := requestFromStruct(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	for chunk, err := range srv.(Gateway).Stream(stream.Context(), r) {
		if err != nil {
			return toStatus(err)
		}
		if err := stream.SendMsg(wrapperspb.String(chunk)); err != nil {
			return err
		}
	}
	return nil
}

// GRPCGateway forwards requests to a gateway sidecar.
type GRPCGateway struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// NewGRPCGateway connects to the sidecar at addr and waits until the
// connection is ready. Extra dial options are applied after the defaults.
func NewGRPCGateway(addr string, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCGateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		return nil, fmt.Errorf("%w: sidecar address is required", ErrNotConfigured)
	}

	kacp := keepalive.ClientParameters{
		Time:                2 * time.Minute,
		Timeout:             10 * time.Second,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create client for gateway sidecar at %s: %w", addr, err)
	}

	// Fail fast on a bad sidecar address instead of on the first turn.
	connectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("gateway sidecar at %s not ready: %w", addr, err)
	}

	logger.Info("Connected to gateway sidecar", "address", addr)
	return &GRPCGateway{conn: conn, addr: addr, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Name returns "grpc".
func (g *GRPCGateway) Name() string { return "grpc" }

// Close closes the connection.
func (g *GRPCGateway) Close() error {
	if g.conn == nil {
		return nil
	}
	if err := g.conn.Close(); err != nil {
		return fmt.Errorf("close gRPC connection: %w", err)
	}
	return nil
}

// Complete performs a unary call to the sidecar.
func (g *GRPCGateway) Complete(ctx context.Context, req Request) (string, error) {
	in, err := requestToStruct(req)
	if err != nil {
		return "", err
	}
	out := new(wrapperspb.StringValue)
	if err := g.conn.Invoke(ctx, completeMethod, in, out); err != nil {
		return "", fromStatus(err)
	}
	if out.GetValue() == "" {
		return "", ErrEmptyResponse
	}
	return out.GetValue(), nil
}

// Stream opens a server-streaming call and yields chunks until the sidecar
// closes the stream.
func (g *GRPCGateway) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		in, err := requestToStruct(req)
		if err != nil {
			yield("", err)
			return
		}

		stream, err := g.conn.NewStream(ctx, &gatewayServiceDesc.Streams[0], streamMethod)
		if err != nil {
			yield("", fmt.Errorf("open stream: %w", fromStatus(err)))
			return
		}
		if err := stream.SendMsg(in); err != nil {
			yield("", fmt.Errorf("send request: %w", fromStatus(err)))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield("", fmt.Errorf("close send: %w", err))
			return
		}

		for {
			out := new(wrapperspb.StringValue)
			err := stream.RecvMsg(out)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fromStatus(err))
				return
			}
			if !yield(out.GetValue(), nil) {
				return
			}
		}
	}
}

func requestToStruct(r Request) (*structpb.Struct, error) {
	history := make([]any, 0, len(r.History))
	for _, m := range r.History {
		history = append(history, map[string]any{"role": m.Role, "content": m.Content})
	}
	s, err := structpb.NewStruct(map[string]any{
		"system":      r.System,
		"history":     history,
		"prompt":      r.Prompt,
		"max_tokens":  r.MaxTokens,
		"temperature": r.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return s, nil
}

func requestFromStruct(s *structpb.Struct) (Request, error) {
	fields := s.GetFields()
	r := Request{
		System:      fields["system"].GetStringValue(),
		Prompt:      fields["prompt"].GetStringValue(),
		MaxTokens:   int(fields["max_tokens"].GetNumberValue()),
		Temperature: fields["temperature"].GetNumberValue(),
	}
	if r.Prompt == "" {
		return Request{}, errors.New("prompt is required")
	}
	for _, v := range fields["history"].GetListValue().GetValues() {
		m := v.GetStructValue().GetFields()
		r.History = append(r.History, Message{
			Role:    m["role"].GetStringValue(),
			Content: m["content"].GetStringValue(),
		})
	}
	return r, nil
}

func toStatus(err error) error {
	var rl *RateLimitError
	switch {
	case errors.As(err, &rl):
		return status.Error(codes.ResourceExhausted, rl.Error())
	case errors.Is(err, ErrNotConfigured):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrEmptyResponse):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Unavailable, err.Error())
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		return &RateLimitError{Provider: "grpc", Body: st.Message()}
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ErrNotConfigured, st.Message())
	case codes.NotFound:
		return ErrEmptyResponse
	case codes.Canceled:
		return fmt.Errorf("%s: %w", st.Message(), context.Canceled)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", st.Message(), context.DeadlineExceeded)
	}
	return fmt.Errorf("gateway sidecar: %s", st.Message())
}
