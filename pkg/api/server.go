package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Lmdudester/Garcon/pkg/config"
	"github.com/Lmdudester/Garcon/pkg/errdefs"
	"github.com/Lmdudester/Garcon/pkg/events"
	"github.com/Lmdudester/Garcon/pkg/log"
	"github.com/Lmdudester/Garcon/pkg/manager"
	"github.com/Lmdudester/Garcon/pkg/metrics"
	"github.com/Lmdudester/Garcon/pkg/template"
)

// Config holds the server's collaborators
type Config struct {
	Settings  *config.Config
	Manager   *manager.Manager
	Templates *template.Registry
	Events    *events.Hub
	Version   string
}

// Server is the HTTP and push-channel facade over the manager
type Server struct {
	settings  *config.Config
	manager   *manager.Manager
	templates *template.Registry
	hub       *events.Hub
	version   string
	logger    zerolog.Logger

	http     *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(cfg *Config) *Server {
	return &Server{
		settings:  cfg.Settings,
		manager:   cfg.Manager,
		templates: cfg.Templates,
		hub:       cfg.Events,
		version:   cfg.Version,
		logger:    log.WithComponent("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served from another origin in
			// development, and the process trusts its operator
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start serves HTTP on addr until Stop is called
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("HTTP API listening")
	metrics.UpdateComponent("api", true, "")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recoverPanics, s.instrument)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	r.HandleFunc("/import/folders", s.handleImportFolders).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	r.HandleFunc("/servers", s.handleListServers).Methods(http.MethodGet)
	r.HandleFunc("/servers", s.handleCreateServer).Methods(http.MethodPost)
	r.HandleFunc("/servers/order", s.handleSetOrder).Methods(http.MethodPut)
	r.HandleFunc("/servers/{id}", s.handleGetServer).Methods(http.MethodGet)
	r.HandleFunc("/servers/{id}", s.handlePatchServer).Methods(http.MethodPatch)
	r.HandleFunc("/servers/{id}", s.handleDeleteServer).Methods(http.MethodDelete)

	r.HandleFunc("/servers/{id}/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/servers/{id}/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/servers/{id}/restart", s.handleRestart).Methods(http.MethodPost)
	r.HandleFunc("/servers/{id}/acknowledge-crash", s.handleAcknowledgeCrash).Methods(http.MethodPost)

	r.HandleFunc("/servers/{id}/update/initiate", s.handleInitiateUpdate).Methods(http.MethodPost)
	r.HandleFunc("/servers/{id}/update/apply", s.handleApplyUpdate).Methods(http.MethodPost)
	r.HandleFunc("/servers/{id}/update/cancel", s.handleCancelUpdate).Methods(http.MethodPost)

	r.HandleFunc("/servers/{id}/backups", s.handleListBackups).Methods(http.MethodGet)
	r.HandleFunc("/servers/{id}/backups", s.handleCreateBackup).Methods(http.MethodPost)
	r.HandleFunc("/servers/{id}/backups/{timestamp}", s.handleDeleteBackup).Methods(http.MethodDelete)
	r.HandleFunc("/servers/{id}/backups/{timestamp}/restore", s.handleRestore).Methods(http.MethodPost)

	r.HandleFunc("/templates", s.handleListTemplates).Methods(http.MethodGet)
	r.HandleFunc("/templates/{id}", s.handleGetTemplate).Methods(http.MethodGet)

	return r
}

// statusRecorder captures the response code for logs and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the middleware
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", elapsed).
			Msg("Request handled")
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error().
					Interface("panic", p).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Handler panicked")
				s.respondError(w, errdefs.New(errdefs.KindInternal, "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := errdefs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	s.respondJSON(w, status, errorResponse{
		Error: err.Error(),
		Code:  string(errdefs.GetKind(err)),
	})
}

func decodeJSON(r *http.Request, out interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return errdefs.Validation("invalid request body: %v", err)
	}
	return nil
}

func parseTimestamp(raw string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errdefs.Validation("invalid backup timestamp %q", raw)
	}
	return ts, nil
}
