// Package api provides the HTTP front door of the agent service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/vayux/mcp-intentful-agent/internal/agent"
	"github.com/vayux/mcp-intentful-agent/internal/identity"
	"github.com/vayux/mcp-intentful-agent/internal/metrics"
	"github.com/vayux/mcp-intentful-agent/internal/middleware"
)

// maxRequestBodySize caps chat request bodies.
const maxRequestBodySize = 1 << 20 // 1MB

// clientShare is how many sessions' worth of chat traffic one client IP may send.
const clientShare = 4

// Options configures a Handler.
type Options struct {
	// RateLimitRPS and RateLimitBurst bound chat requests per session. Each
	// client IP gets clientShare times that across all of its sessions.
	RateLimitRPS   float64
	RateLimitBurst int
	// AllowedOrigins is used for CORS and websocket origin checks.
	AllowedOrigins []string
}

// Handler serves the chat and session routes.
type Handler struct {
	chat      agent.Processor
	limiter   *RateLimiter
	ipLimiter *RateLimiter
	origins   []string
	logger    *slog.Logger
}

// NewHandler creates a Handler. Call Close to stop the limiter's eviction loop.
func NewHandler(chat agent.Processor, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	limiter := NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	return &Handler{
		chat:      chat,
		limiter:   limiter,
		ipLimiter: NewRateLimiter(float64(limiter.rps)*clientShare, limiter.burst*clientShare),
		origins:   origins,
		logger:    logger,
	}
}

// RegisterRoutes mounts the handler's routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.HandleChat)
	r.Get("/ws/chat", h.HandleWebSocket)
	r.Get("/sessions", h.HandleListSessions)
	r.Delete("/sessions/{id}", h.HandleDeleteSession)
}

// Close releases background resources.
func (h *Handler) Close() {
	h.limiter.Close()
	h.ipLimiter.Close()
}

// NewRouter builds the service router with the global middleware stack,
// /health and /metrics.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(h.origins))
	r.Use(identity.Middleware)

	r.Handle("/metrics", metrics.Handler())
	h.RegisterRoutes(r)
	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
