// Package config provides application configuration for the three binaries.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

// Tool transports the agent can use.
const (
	TransportMCP   = "mcp"
	TransportGRPC  = "grpc"
	TransportLocal = "local"
)

// Idempotency backends of the tool server.
const (
	IdempotencyMemory = "memory"
	IdempotencySQLite = "sqlite"
	IdempotencyRedis  = "redis"
)

// AgentConfig configures the agent service.
type AgentConfig struct {
	Port               string
	FrontendURL        string
	DBPath             string
	SessionTTL         time.Duration
	ToolTransport      string
	ToolServerCommand  string
	ToolServerArgs     []string
	ToolServerAddr     string
	BackendBaseURL     string
	BackendAccessToken string
	BackendTimeout     time.Duration
	Scopes             []domain.Scope
	RateLimitRPS       float64
	RateLimitBurst     int
}

// ToolServerConfig configures the tool server process.
type ToolServerConfig struct {
	BackendBaseURL     string
	AccessToken        string
	Scopes             []domain.Scope
	BackendTimeout     time.Duration
	IdempotencyBackend string
	IdempotencyTTL     time.Duration
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	DBPath             string
	// GRPCAddr switches the server from stdio MCP to a gRPC listener.
	GRPCAddr string
}

// BackendConfig configures the demonstration orders backend.
type BackendConfig struct {
	Port string
	// JWTSecret enables HS256 verification of bearer tokens when set.
	JWTSecret string
}

// LoadDotEnv loads .env if present. It reports whether a file was found.
func LoadDotEnv() bool {
	return godotenv.Load() == nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "3000")
	v.SetDefault("FRONTEND_URL", "")
	v.SetDefault("DB_PATH", ":memory:")
	v.SetDefault("SESSION_TTL", time.Hour)
	v.SetDefault("TOOL_TRANSPORT", TransportMCP)
	v.SetDefault("TOOL_SERVER_COMMAND", "toolserver")
	v.SetDefault("TOOL_SERVER_ARGS", "")
	v.SetDefault("TOOL_SERVER_ADDR", "localhost:50061")
	v.SetDefault("BACKEND_BASE_URL", "http://localhost:8080")
	v.SetDefault("BACKEND_ACCESS_TOKEN", "demo-token-12345")
	v.SetDefault("BACKEND_TIMEOUT", 5*time.Second)
	v.SetDefault("AGENT_SCOPES", "order:read,order:cancel,order:write")
	v.SetDefault("RATE_LIMIT_RPS", 2.0)
	v.SetDefault("RATE_LIMIT_BURST", 5)

	v.SetDefault("MCP_ACCESS_TOKEN", "")
	v.SetDefault("MCP_SCOPES", "order:read,order:cancel,order:write")
	v.SetDefault("IDEMPOTENCY_BACKEND", IdempotencyMemory)
	v.SetDefault("IDEMPOTENCY_TTL", 24*time.Hour)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("GRPC_ADDR", "")

	v.SetDefault("JWT_SECRET", "")
	return v
}

// LoadAgent reads the agent configuration from the environment.
func LoadAgent() (*AgentConfig, error) {
	v := newViper()
	cfg := &AgentConfig{
		Port:               v.GetString("PORT"),
		FrontendURL:        v.GetString("FRONTEND_URL"),
		DBPath:             v.GetString("DB_PATH"),
		SessionTTL:         v.GetDuration("SESSION_TTL"),
		ToolTransport:      strings.ToLower(strings.TrimSpace(v.GetString("TOOL_TRANSPORT"))),
		ToolServerCommand:  v.GetString("TOOL_SERVER_COMMAND"),
		ToolServerArgs:     strings.Fields(v.GetString("TOOL_SERVER_ARGS")),
		ToolServerAddr:     v.GetString("TOOL_SERVER_ADDR"),
		BackendBaseURL:     v.GetString("BACKEND_BASE_URL"),
		BackendAccessToken: v.GetString("BACKEND_ACCESS_TOKEN"),
		BackendTimeout:     v.GetDuration("BACKEND_TIMEOUT"),
		Scopes:             domain.ParseScopes(v.GetString("AGENT_SCOPES")),
		RateLimitRPS:       v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:     v.GetInt("RATE_LIMIT_BURST"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *AgentConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	switch c.ToolTransport {
	case TransportMCP:
		if c.ToolServerCommand == "" {
			return fmt.Errorf("TOOL_SERVER_COMMAND cannot be empty for the mcp transport")
		}
	case TransportGRPC:
		if c.ToolServerAddr == "" {
			return fmt.Errorf("TOOL_SERVER_ADDR cannot be empty for the grpc transport")
		}
	case TransportLocal:
	default:
		return fmt.Errorf("TOOL_TRANSPORT must be one of mcp, grpc, local; got %q", c.ToolTransport)
	}
	if c.BackendBaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL cannot be empty")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *AgentConfig) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins: the frontend URL, or any origin
// in development.
func (c *AgentConfig) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

// ToolServerEnv is the environment handed to a spawned tool server.
func (c *AgentConfig) ToolServerEnv() []string {
	return []string{
		"BACKEND_BASE_URL=" + c.BackendBaseURL,
		"MCP_ACCESS_TOKEN=" + c.BackendAccessToken,
		"MCP_SCOPES=" + domain.JoinScopes(c.Scopes),
		"BACKEND_TIMEOUT=" + c.BackendTimeout.String(),
	}
}

// LoadToolServer reads the tool server configuration from the environment.
func LoadToolServer() (*ToolServerConfig, error) {
	v := newViper()
	cfg := &ToolServerConfig{
		BackendBaseURL:     v.GetString("BACKEND_BASE_URL"),
		AccessToken:        v.GetString("MCP_ACCESS_TOKEN"),
		Scopes:             domain.ParseScopes(v.GetString("MCP_SCOPES")),
		BackendTimeout:     v.GetDuration("BACKEND_TIMEOUT"),
		IdempotencyBackend: strings.ToLower(strings.TrimSpace(v.GetString("IDEMPOTENCY_BACKEND"))),
		IdempotencyTTL:     v.GetDuration("IDEMPOTENCY_TTL"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisPassword:      v.GetString("REDIS_PASSWORD"),
		RedisDB:            v.GetInt("REDIS_DB"),
		DBPath:             v.GetString("DB_PATH"),
		GRPCAddr:           v.GetString("GRPC_ADDR"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *ToolServerConfig) Validate() error {
	if c.AccessToken == "" {
		return fmt.Errorf("MCP_ACCESS_TOKEN is required")
	}
	if c.BackendBaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL cannot be empty")
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be > 0")
	}
	switch c.IdempotencyBackend {
	case IdempotencyMemory:
	case IdempotencySQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty for the sqlite idempotency backend")
		}
	case IdempotencyRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty for the redis idempotency backend")
		}
	default:
		return fmt.Errorf("IDEMPOTENCY_BACKEND must be one of memory, sqlite, redis; got %q", c.IdempotencyBackend)
	}
	return nil
}

// LoadBackend reads the orders backend configuration from the environment.
// Its port defaults to 8080 rather than the agent's 3000.
func LoadBackend() (*BackendConfig, error) {
	v := newViper()
	v.SetDefault("PORT", "8080")
	cfg := &BackendConfig{
		Port:      v.GetString("PORT"),
		JWTSecret: v.GetString("JWT_SECRET"),
	}
	if cfg.Port == "" {
		return nil, fmt.Errorf("invalid configuration: PORT cannot be empty")
	}
	return cfg, nil
}
