// Package server provides the HTTP API for Frontdesk: the channel
// endpoints that feed the orchestrator, the admin maintenance surface
// and the audit listing.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/frontdesk-io/frontdesk/internal/agent"
	"github.com/frontdesk-io/frontdesk/internal/audit"
	"github.com/frontdesk-io/frontdesk/internal/otel"
	"github.com/frontdesk-io/frontdesk/internal/ratelimit"
)

const defaultTimeout = 90 * time.Second

// Server holds the dependencies of the HTTP API.
type Server struct {
	router         *chi.Mux
	orchestrator   *agent.Orchestrator
	auditStore     *audit.SQLiteStore
	janitor        *Janitor
	ipLimiter      *ratelimit.IPLimiter
	internalAPIKey string
	webhookSecret  string
	replayWindow   time.Duration
	corsOrigins    []string
	version        string
	startTime      time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithAuditStore enables GET /v1/audit against the given store.
func WithAuditStore(store *audit.SQLiteStore) Option {
	return func(s *Server) { s.auditStore = store }
}

// WithJanitor enables the admin cleanup endpoints.
func WithJanitor(j *Janitor) Option {
	return func(s *Server) { s.janitor = j }
}

// WithIPLimiter enables transport-level per-IP rate limiting.
func WithIPLimiter(l *ratelimit.IPLimiter) Option {
	return func(s *Server) { s.ipLimiter = l }
}

// WithWebhookVerification enables HMAC signature checks on the provider
// webhook. An empty secret leaves verification off; the replay window
// still applies to any timestamp the provider sends.
func WithWebhookVerification(secret string, replayWindow time.Duration) Option {
	return func(s *Server) {
		s.webhookSecret = secret
		if replayWindow > 0 {
			s.replayWindow = replayWindow
		}
	}
}

// WithCORSOrigins sets allowed CORS origins (e.g. ["*"] for dev).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithVersion sets the version string reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New builds a Server around the orchestrator. internalAPIKey guards the
// WhatsApp bridge and the admin surface.
func New(orchestrator *agent.Orchestrator, internalAPIKey string, opts ...Option) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		orchestrator:   orchestrator,
		internalAPIKey: internalAPIKey,
		replayWindow:   300 * time.Second,
		corsOrigins:    []string{"*"},
		version:        "dev",
		startTime:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.MiddlewareWithStatus())
	r.Use(CORSMiddleware(s.corsOrigins))
	r.Use(IPRateLimitMiddleware(s.ipLimiter))

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	// Channels. The orchestrator owns its own per-session limits, so the
	// request timeout is the only transport-level bound here.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(defaultTimeout))
		r.Post("/v1/agent", s.handleWebAgent)
		r.Post("/v1/provider/inbound", s.handleProviderInbound)

		r.Group(func(r chi.Router) {
			r.Use(InternalKeyMiddleware(s.internalAPIKey))
			r.Post("/v1/wa/agent", s.handleWAAgent)
		})
	})

	// Internal-key guarded admin surface
	r.Group(func(r chi.Router) {
		r.Use(InternalKeyMiddleware(s.internalAPIKey))
		r.Use(middleware.Timeout(defaultTimeout))
		if s.janitor != nil {
			r.Post("/v1/admin/cleanup/{target}", s.handleCleanup)
		}
		if s.auditStore != nil {
			r.Get("/v1/audit", s.handleAuditList)
		}
	})

	return r
}
