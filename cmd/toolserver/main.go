// Tool server: exposes the order tools over MCP stdio or a gRPC listener.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"github.com/vayux/mcp-intentful-agent/internal/backend"
	"github.com/vayux/mcp-intentful-agent/internal/config"
	"github.com/vayux/mcp-intentful-agent/internal/domain"
	"github.com/vayux/mcp-intentful-agent/internal/idempotency"
	"github.com/vayux/mcp-intentful-agent/internal/store"
	"github.com/vayux/mcp-intentful-agent/internal/tools"
)

const version = "1.0.0"

func main() {
	// stdout carries the MCP protocol.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	config.LoadDotEnv()

	cfg, err := config.LoadToolServer()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keys, closeKeys, err := openIdempotency(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize idempotency store", "backend", cfg.IdempotencyBackend, "error", err)
		os.Exit(1)
	}
	defer closeKeys()

	bcfg := backend.DefaultConfig()
	bcfg.BaseURL = cfg.BackendBaseURL
	bcfg.AccessToken = cfg.AccessToken
	bcfg.Timeout = cfg.BackendTimeout
	client := backend.New(bcfg, logger)

	ts := tools.New(client, cfg.Scopes, tools.WithIdempotency(keys), tools.WithLogger(logger))
	slog.Info("Tool server ready",
		"backend", cfg.BackendBaseURL,
		"scopes", domain.JoinScopes(cfg.Scopes),
		"idempotency", cfg.IdempotencyBackend,
	)

	if cfg.GRPCAddr != "" {
		serveGRPC(ctx, cfg.GRPCAddr, ts)
		return
	}

	if err := tools.ServeStdio(ctx, tools.NewMCPServer(ts, version)); err != nil && ctx.Err() == nil {
		slog.Error("MCP server failed", "error", err)
		os.Exit(1)
	}
}

// openIdempotency builds the configured key store and its cleanup function.
func openIdempotency(ctx context.Context, cfg *config.ToolServerConfig) (idempotency.Store, func(), error) {
	switch cfg.IdempotencyBackend {
	case config.IdempotencyRedis:
		rs := idempotency.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.IdempotencyTTL)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, err
		}
		return rs, func() {
			if err := rs.Close(); err != nil {
				slog.Warn("Failed to close redis client", "error", err)
			}
		}, nil
	case config.IdempotencySQLite:
		db, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		// Sessions are never written here, so the sweeper only purges keys.
		store.StartSweeper(ctx, db, cfg.IdempotencyTTL, store.DefaultSweepInterval, nil)
		return db.Idempotency(cfg.IdempotencyTTL), func() {
			if err := db.Close(); err != nil {
				slog.Warn("Failed to close idempotency database", "error", err)
			}
		}, nil
	default:
		return idempotency.NewMemoryStore(cfg.IdempotencyTTL), func() {}, nil
	}
}

func serveGRPC(ctx context.Context, addr string, ts *tools.Toolset) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("Failed to listen", "addr", addr, "error", err)
		os.Exit(1)
	}

	srv := grpc.NewServer()
	tools.RegisterToolServiceServer(srv, tools.NewGRPCServer(ts))

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down gracefully...")
		srv.GracefulStop()
	}()

	slog.Info("gRPC tool server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil {
		slog.Error("gRPC server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}
