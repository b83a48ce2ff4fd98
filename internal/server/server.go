// Package server provides the HTTP server of the IDS connector.
//
// The server exposes the following API surfaces:
//
// # IDS Endpoints
//
// POST {basePath}/data and POST {basePath}/infrastructure receive IDS
// multipart messages and answer with a multipart response. Further
// endpoints can be added and removed at runtime with [Server.AddEndpoint]
// and [Server.RemoveEndpoint]. Authentication is via the DAT in the
// message header.
//
// # Configuration Manager API (requires X-Admin-Key)
//
//   - POST /api/ids/configmanager/config          - Apply a new configuration model
//   - POST /api/ids/configmanager/update          - Update the self-description at a broker
//   - POST /api/ids/configmanager/unregister      - Unregister at a broker
//   - POST /api/ids/configmanager/keys/refresh    - Reload the DAPS signing key
//
// # Health & Metrics
//
//   - GET /health  - Liveness probe
//   - GET /ready   - Readiness probe (identity loaded and valid)
//   - GET /metrics - Prometheus metrics (if enabled)
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sirosfoundation/go-ids/internal/config"
	"github.com/sirosfoundation/go-ids/internal/configmanager"
	"github.com/sirosfoundation/go-ids/internal/metrics"
	"github.com/sirosfoundation/go-ids/pkg/dispatch"
	"github.com/sirosfoundation/go-ids/pkg/multipart"
	"github.com/sirosfoundation/go-ids/pkg/transport"
)

// maxMessageSize bounds inbound IDS request bodies.
const maxMessageSize = 2*multipart.MaxPartSize + 1<<20

// Options holds the components served by the server.
type Options struct {
	Dispatcher *dispatch.Dispatcher
	// ConfigManager is mounted at configmanager.BasePath when set.
	ConfigManager *configmanager.Handler
	// Metrics is served when metrics are enabled.
	Metrics *metrics.Metrics
	// Identities provides the TLS certificate and readiness state.
	Identities transport.IdentitySource
}

// Server is the IDS connector HTTP server
type Server struct {
	config     *config.Config
	logger     *slog.Logger
	httpSrv    *http.Server
	dispatcher *dispatch.Dispatcher
	identities transport.IdentitySource

	mu        sync.RWMutex
	endpoints map[string]struct{}
}

// New creates a new server
func New(cfg *config.Config, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:     cfg,
		logger:     logger,
		dispatcher: opts.Dispatcher,
		identities: opts.Identities,
		endpoints:  make(map[string]struct{}),
	}
	s.AddEndpoint(s.basePath() + "/data")
	s.AddEndpoint(s.basePath() + "/infrastructure")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	s.registerRoutes(r, opts)

	s.httpSrv = &http.Server{
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	if cfg.Server.TLS.Enabled && opts.Identities != nil {
		s.httpSrv.TLSConfig = transport.ServerTLSConfig(opts.Identities, nil)
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Start begins listening on the specified address
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	s.logger.Info("starting server", "addr", addr, "tls", s.httpSrv.TLSConfig != nil)
	if s.httpSrv.TLSConfig != nil {
		// Certificates come from TLSConfig.GetCertificate.
		return s.httpSrv.ListenAndServeTLS("", "")
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// AddEndpoint accepts IDS messages at path.
func (s *Server) AddEndpoint(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[normalizePath(path)] = struct{}{}
	s.logger.Debug("added IDS endpoint", "path", path)
}

// RemoveEndpoint stops accepting IDS messages at path.
func (s *Server) RemoveEndpoint(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.endpoints, normalizePath(path))
	s.logger.Debug("removed IDS endpoint", "path", path)
}

func (s *Server) hasEndpoint(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.endpoints[normalizePath(path)]
	return ok
}

func normalizePath(p string) string {
	return "/" + strings.Trim(p, "/")
}

func (s *Server) basePath() string {
	base := strings.TrimSuffix(s.config.Server.BasePath, "/")
	if base == "" {
		base = "/api/ids"
	}
	return base
}

func (s *Server) registerRoutes(r chi.Router, opts Options) {
	// Health check (no auth required)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	if opts.Metrics != nil && s.config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, s.config.Observability.Metrics.Path, opts.Metrics.Handler())
	}

	if opts.ConfigManager != nil {
		if s.config.Server.AdminKey == "" {
			s.logger.Warn("no admin key configured - configuration manager API will reject all requests")
		}
		r.With(s.withAdmin).Mount(configmanager.BasePath, opts.ConfigManager.Routes())
	}

	// IDS endpoints (authenticated by DAT)
	if s.dispatcher != nil {
		r.Post(s.basePath()+"/*", s.handleIDSMessage)
	}
}

// Middleware

func (s *Server) withAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check for admin API key in header
		apiKey := r.Header.Get("X-Admin-Key")
		if apiKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.config.Server.AdminKey)) != 1 {
			s.jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.identities == nil || s.identities.Identity() == nil {
		s.jsonError(w, "identity not loaded", http.StatusServiceUnavailable)
		return
	}
	expiry := s.identities.Identity().CertificateExpiry()
	if time.Now().After(expiry) {
		s.jsonError(w, "connector certificate expired", http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, map[string]string{
		"status":            "ready",
		"certificateExpiry": expiry.UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

// IDS handlers

func (s *Server) handleIDSMessage(w http.ResponseWriter, r *http.Request) {
	if !s.hasEndpoint(r.URL.Path) {
		http.NotFound(w, r)
		return
	}
	s.logger.Debug("received IDS message",
		"path", r.URL.Path,
		"content-type", r.Header.Get("Content-Type"),
		"content-length", r.ContentLength,
	)

	body := http.MaxBytesReader(w, r.Body, maxMessageSize)
	resp := s.dispatcher.ProcessWire(r.Context(), body, r.Header.Get("Content-Type"))
	data, contentType, err := resp.Serialize()
	if err != nil {
		s.logger.Error("serializing IDS response failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(data)
	s.logger.Debug("sent IDS response", "status", resp.StatusCode)
}

// Helper functions

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]string{"error": message}, status)
}
