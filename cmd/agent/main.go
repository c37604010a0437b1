// Agent service: chat API in front of the tool-using agent loop.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vayux/mcp-intentful-agent/internal/agent"
	"github.com/vayux/mcp-intentful-agent/internal/api"
	"github.com/vayux/mcp-intentful-agent/internal/backend"
	"github.com/vayux/mcp-intentful-agent/internal/bridge"
	"github.com/vayux/mcp-intentful-agent/internal/config"
	"github.com/vayux/mcp-intentful-agent/internal/metrics"
	"github.com/vayux/mcp-intentful-agent/internal/planner"
	"github.com/vayux/mcp-intentful-agent/internal/store"
	"github.com/vayux/mcp-intentful-agent/internal/tools"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if !config.LoadDotEnv() {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.LoadAgent()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting agent", "port", cfg.Port, "dev", cfg.IsDevelopment(), "transport", cfg.ToolTransport)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	dialer := newDialer(cfg, logger)
	loop := agent.NewLoop(planner.New(), dialer, agent.WithLoopLogger(logger))
	svc := agent.NewService(loop, repo, logger)

	handler := api.NewHandler(svc, api.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		AllowedOrigins: cfg.AllowedOrigins(),
	}, logger)
	defer handler.Close()

	// WebSocket chat needs long-lived connections, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartSweeper(ctx, repo, cfg.SessionTTL, store.DefaultSweepInterval, func(removed int64) {
		metrics.SessionsSwept.Add(float64(removed))
	})
	slog.Info("Session sweeper started", "session_ttl", cfg.SessionTTL)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// newDialer picks the tool transport. Validation has already rejected
// unknown transports.
func newDialer(cfg *config.AgentConfig, logger *slog.Logger) bridge.Dialer {
	switch cfg.ToolTransport {
	case config.TransportGRPC:
		slog.Info("Using gRPC tool server", "address", cfg.ToolServerAddr)
		return bridge.NewGRPCDialer(bridge.DefaultGRPCConfig(cfg.ToolServerAddr), logger)
	case config.TransportLocal:
		slog.Info("Using in-process tools", "backend", cfg.BackendBaseURL)
		bcfg := backend.DefaultConfig()
		bcfg.BaseURL = cfg.BackendBaseURL
		bcfg.AccessToken = cfg.BackendAccessToken
		bcfg.Timeout = cfg.BackendTimeout
		ts := tools.New(backend.New(bcfg, logger), cfg.Scopes, tools.WithLogger(logger))
		return bridge.NewLocalDialer(ts)
	default:
		slog.Info("Spawning MCP tool server per turn", "command", cfg.ToolServerCommand)
		return bridge.NewCommandDialer(cfg.ToolServerCommand, cfg.ToolServerArgs, cfg.ToolServerEnv(), logger)
	}
}
