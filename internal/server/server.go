package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/kokoro/internal/auth"
	"github.com/ashita-ai/kokoro/internal/ratelimit"
	"github.com/ashita-ai/kokoro/internal/service/sessions"
	"github.com/ashita-ai/kokoro/internal/storage"
)

// Server is the kokoro HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Limiter is optional; nil disables rate limiting.
type ServerConfig struct {
	// Required dependencies.
	DB       *storage.DB
	JWTMgr   *auth.JWTManager
	Sessions *sessions.Service
	Logger   *slog.Logger

	Limiter ratelimit.Limiter

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  []string
	WebhookToken        string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		Sessions:            cfg.Sessions,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		WebhookToken:        cfg.WebhookToken,
	})

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	// Provisioning a conversation costs provider credits; throttle it per user.
	startRL := ratelimit.Middleware(limiter, userKeyFunc("start"), reqIDFunc, cfg.Logger)

	mux := http.NewServeMux()

	// Session lifecycle (bearer auth).
	mux.Handle("POST /v1/sessions/start", startRL(http.HandlerFunc(h.HandleStartSession)))
	mux.HandleFunc("POST /v1/sessions/end", h.HandleEndSession)

	// Session history (bearer auth).
	mux.HandleFunc("GET /v1/sessions", h.HandleListSessions)
	mux.HandleFunc("GET /v1/sessions/{session_id}", h.HandleGetSession)

	// Provider callbacks (webhook token, no bearer auth).
	mux.HandleFunc("POST /webhooks/tavus", h.HandleTavusWebhook)

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// CORS → request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	if len(cfg.CORSAllowedOrigins) > 0 {
		handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// userKeyFunc keys the limiter by authenticated user within a named bucket.
func userKeyFunc(bucket string) ratelimit.KeyFunc {
	return func(r *http.Request) string {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			return ""
		}
		return bucket + ":" + claims.Subject
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
