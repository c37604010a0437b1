package orderbackend

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

// Server exposes Orders over the REST routes the tool server calls.
type Server struct {
	orders *Orders
	secret []byte
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithJWTSecret makes the server verify bearer tokens as HS256 JWTs.
// Without it any bearer token is accepted.
func WithJWTSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.secret = []byte(secret)
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a Server over orders.
func NewServer(orders *Orders, opts ...Option) *Server {
	s := &Server{orders: orders, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Orders returns the underlying order book.
func (s *Server) Orders() *Orders {
	return s.orders
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/me/orders/latest", s.handleLatest)
		r.Get("/orders/{id}/status", s.handleStatus)
		r.Post("/orders/{id}/cancel", s.handleCancel)
		r.Post("/orders", s.handleCreate)
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeDetail(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if s.secret != nil {
			if _, err := s.verify(token); err != nil {
				s.logger.Warn("rejected bearer token", "error", err)
				writeDetail(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) verify(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// IssueToken signs an HS256 token for subject, for use against a server
// configured WithJWTSecret.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	ord, err := s.orders.Latest()
	if err != nil {
		writeDetail(w, http.StatusNotFound, "No orders found")
		return
	}
	writeJSON(w, http.StatusOK, ord)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.orders.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Order not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := s.orders.Cancel(id, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Order not found")
		return
	}
	s.logger.Info("order cancellation", "order_id", id, "status", out.Status)
	writeJSON(w, http.StatusOK, out)
}

type createRequest struct {
	Items []domain.OrderItem `json:"items"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	ord, err := s.orders.Create(req.Items, r.Header.Get("Idempotency-Key"))
	var unknown *UnknownProductError
	switch {
	case errors.Is(err, ErrNoItems):
		writeDetail(w, http.StatusBadRequest, "Order must contain at least one item")
		return
	case errors.As(err, &unknown):
		writeDetail(w, http.StatusBadRequest, unknown.Error())
		return
	case err != nil:
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("order created", "order_id", ord.OrderID, "total", ord.Total)
	writeJSON(w, http.StatusOK, ord)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
