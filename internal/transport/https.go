package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/runic-labs/rune/internal/authz"
	"github.com/runic-labs/rune/internal/certs"
	"github.com/runic-labs/rune/internal/fsx"
	"github.com/runic-labs/rune/internal/metrics"
	"github.com/runic-labs/rune/internal/trust"
)

// DeviceInfo is the sanitized payload GET /device-info returns, per
// spec.md §4.9.
type DeviceInfo struct {
	Alias       string `json:"alias"`
	Version     string `json:"version"`
	DeviceModel string `json:"deviceModel"`
	DeviceType  string `json:"deviceType"`
	Fingerprint string `json:"fingerprint"`
}

// registerRequest is /register's request DTO, validated with
// go-playground/validator/v10 per spec.md §4.9 and the tomtom215 pack's
// validator usage.
type registerRequest struct {
	PublicKey   string `json:"public_key" validate:"required"`
	Fingerprint string `json:"fingerprint" validate:"required"`
	Alias       string `json:"alias" validate:"required"`
	DeviceModel string `json:"device_model"`
	DeviceType  string `json:"device_type"`
}

// checkFingerprintResponse is GET /check-fingerprint's response body.
type checkFingerprintResponse struct {
	IsTrusted bool   `json:"is_trusted"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// Server hosts spec.md §4.9's HTTPS control plane and WS data plane.
type Server struct {
	identity DeviceInfo
	trust    *trust.Store
	authz    *authz.Enforcer
	libFS    fsx.FS
	cacheFS  fsx.FS
	metrics  *metrics.Metrics
	log      zerolog.Logger
	validate *validator.Validate

	hub         *hub
	syncHandler RequestHandler
}

// Config bundles Server's dependencies.
type Config struct {
	Identity    DeviceInfo
	Trust       *trust.Store
	Authz       *authz.Enforcer
	LibraryFS   fsx.FS
	CacheFS     fsx.FS
	Metrics     *metrics.Metrics
	Certificate *certs.Bundle
	Log         zerolog.Logger
}

// NewServer builds a Server from cfg.
func NewServer(cfg Config) *Server {
	return &Server{
		identity: cfg.Identity,
		trust:    cfg.Trust,
		authz:    cfg.Authz,
		libFS:    cfg.LibraryFS,
		cacheFS:  cfg.CacheFS,
		metrics:  cfg.Metrics,
		log:      cfg.Log,
		validate: validator.New(),
		hub:      newHub(cfg.Log),
	}
}

// Router assembles the chi router spec.md §4.9 names, mirroring
// services/api/cmd/main.go's middleware chain (request ID, recoverer,
// structured logging) and cors.Handler shape.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	if s.metrics != nil {
		r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	}

	r.Get("/ping", s.handlePing)

	// go-chi/httprate throttles /register per client IP at 60
	// requests/minute. No separate burst limit is configured.
	r.With(httprate.Limit(60, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))).
		Post("/register", s.handleRegister)

	r.Get("/check-fingerprint", s.handleCheckFingerprint)
	r.Get("/device-info", s.handleDeviceInfo)
	r.Get("/files/{kind}/*", s.handleFiles)
	r.Get("/ws", s.handleWS)

	return r
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).Msg("transport: request handled")
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	remoteIP := clientIP(r)
	entry := trust.Entry{
		PublicKey:   req.PublicKey,
		Alias:       req.Alias,
		DeviceModel: req.DeviceModel,
		DeviceType:  req.DeviceType,
	}
	if err := s.trust.Register(req.Fingerprint, entry, remoteIP); err != nil {
		writeErr(w, http.StatusForbidden, "fingerprint is blocked")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "pending"})
}

func (s *Server) handleCheckFingerprint(w http.ResponseWriter, r *http.Request) {
	fp := r.URL.Query().Get("fingerprint")
	if fp == "" {
		writeErr(w, http.StatusBadRequest, "missing fingerprint")
		return
	}
	status := s.trust.CheckStatus(fp)
	writeJSON(w, http.StatusOK, checkFingerprintResponse{
		IsTrusted: status == "APPROVED",
		Status:    status,
		Message:   "fingerprint status: " + status,
	})
}

func (s *Server) handleDeviceInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.identity)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	host := r.RemoteAddr
	if idx := lastColon(host); idx >= 0 {
		return host[:idx]
	}
	return host
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// writeJSON is the repo-wide response helper, carried forward from
// services/api/internal/auth/auth.go's writeJSON/writeErr pair (the one
// piece of that file this system keeps, per DESIGN.md).
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
