package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
	"github.com/vayux/mcp-intentful-agent/internal/tools"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig holds settings for the gRPC tool transport.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default configuration.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCDialer opens sessions against a tool server's gRPC listener.
type GRPCDialer struct {
	cfg    GRPCConfig
	opts   []grpc.DialOption
	logger *slog.Logger
}

// NewGRPCDialer creates a dialer. Extra options are appended to the defaults.
func NewGRPCDialer(cfg GRPCConfig, logger *slog.Logger, opts ...grpc.DialOption) *GRPCDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCDialer{cfg: cfg, opts: opts, logger: logger}
}

// Dial connects, waits for readiness and lists the server's tools.
func (d *GRPCDialer) Dial(ctx context.Context) (Session, error) {
	kacp := keepalive.ClientParameters{
		Time:                d.cfg.KeepaliveTime,
		Timeout:             d.cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, d.opts...)

	conn, err := grpc.NewClient(d.cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("create tool server client for %s: %w", d.cfg.Address, err)
	}

	s := &grpcSession{conn: conn}
	if err := s.open(ctx, d.cfg.ConnectTimeout); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			d.logger.Warn("failed to close gRPC connection after open failure", "error", closeErr)
		}
		return nil, fmt.Errorf("tool server at %s: %w", d.cfg.Address, err)
	}
	return s, nil
}

type grpcSession struct {
	conn  *grpc.ClientConn
	tools []string
}

func (s *grpcSession) open(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := waitForReady(ctx, s.conn); err != nil {
		return fmt.Errorf("not ready: %w", err)
	}

	out := &structpb.Struct{}
	if err := s.conn.Invoke(ctx, tools.ListToolsMethod, &structpb.Struct{}, out); err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	var listed struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := tools.DecodeStruct(out, &listed); err != nil {
		return fmt.Errorf("decode tool list: %w", err)
	}
	for _, t := range listed.Tools {
		s.tools = append(s.tools, t.Name)
	}
	return nil
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

func (s *grpcSession) Tools() []string {
	return s.tools
}

func (s *grpcSession) Invoke(ctx context.Context, name string, args map[string]any) domain.ToolResult {
	return traced(ctx, "grpc", name, func(ctx context.Context) domain.ToolResult {
		if args == nil {
			args = map[string]any{}
		}
		in, err := tools.EncodeStruct(map[string]any{"name": name, "arguments": args})
		if err != nil {
			return domain.Failure(domain.NewToolError(domain.CodeValidationFailed, "Arguments are not valid JSON", map[string]any{"reason": err.Error()}))
		}

		out := &structpb.Struct{}
		if err := s.conn.Invoke(ctx, tools.CallToolMethod, in, out); err != nil {
			if status.Code(err) == codes.DeadlineExceeded {
				err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
			}
			return transportFailure(err)
		}
		if len(out.GetFields()) == 0 {
			return domain.Completed()
		}

		raw, err := protojson.Marshal(out)
		if err != nil {
			return transportFailure(err)
		}
		return decodeText(string(raw))
	})
}

func (s *grpcSession) Close() error {
	return s.conn.Close()
}
