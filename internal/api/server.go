package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"safe-code-gate/internal/cache"
	"safe-code-gate/internal/config"
	"safe-code-gate/internal/gate"
	"safe-code-gate/internal/monitor"
	"safe-code-gate/internal/storage"
)

// Deps are the collaborators a Server is built from. Gate and Metrics are
// required; the rest may be nil.
type Deps struct {
	Gate    *gate.Gate
	DB      *storage.DB
	Audit   *storage.AuditWriter
	Cache   *cache.VerdictCache
	Metrics *monitor.Metrics
	Tracer  *monitor.Tracer
}

// Server is the HTTP front end of the gate.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	gate       atomic.Pointer[gate.Gate]
	db         *storage.DB
	cache      *cache.VerdictCache
	cfg        *config.Config
	startTime  time.Time
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		db:        deps.DB,
		cache:     deps.Cache,
		cfg:       cfg,
		startTime: time.Now(),
	}
	s.gate.Store(deps.Gate)

	// Typed nils would defeat the handlers' nil checks.
	var (
		store VerdictStore
		audit AuditLog
		vc    VerdictCache
	)
	if deps.DB != nil {
		store = deps.DB
	}
	if deps.Audit != nil {
		audit = deps.Audit
	}
	if deps.Cache != nil {
		vc = deps.Cache
	}
	s.handlers = NewHandlers(&s.gate, store, audit, vc, deps.Metrics, deps.Tracer, cfg.Server.MaxBatchSize)

	if len(cfg.Security.AllowedKeys) == 0 {
		log.Warn().Msg("no API keys configured, the validation API is open")
	}

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /validate", s.handlers.HandleValidate)
	apiMux.HandleFunc("POST /validate/batch", s.handlers.HandleValidateBatch)
	apiMux.HandleFunc("GET /verdicts", s.handlers.HandleListVerdicts)
	apiMux.HandleFunc("GET /verdicts/{id}", s.handlers.HandleGetVerdict)
	apiMux.HandleFunc("GET /policy", s.handlers.HandlePolicy)

	authedAPI := AuthMiddleware(cfg.Security.APIKeyHeader, cfg.Security.AllowedKeys)(apiMux)

	// Health and metrics bypass auth.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", authedAPI)

	// Apply middleware chain (outermost first)
	var handler http.Handler = mux
	handler = MetricsMiddleware(deps.Metrics)(handler)
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Gate returns the gate currently serving requests.
func (s *Server) Gate() *gate.Gate {
	return s.gate.Load()
}

// SwapGate replaces the active gate. Requests already validating finish
// against the gate they loaded.
func (s *Server) SwapGate(g *gate.Gate) {
	old := s.gate.Swap(g)
	log.Info().
		Str("old_policy", old.Fingerprint()).
		Str("new_policy", g.Fingerprint()).
		Msg("gate policy swapped")
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Warn().Msg("TLS not enabled, running plain HTTP")
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbOK := s.db == nil || s.db.Healthy(ctx)
	cacheOK := s.cache == nil || s.cache.Ping(ctx) == nil

	resp := HealthResponse{
		Status:   "ok",
		Policy:   s.Gate().Fingerprint(),
		Database: dbOK,
		Cache:    cacheOK,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
	}

	status := http.StatusOK
	if !dbOK || !cacheOK {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
