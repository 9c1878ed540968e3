package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/corralproject/corral/pkg/log"
	"github.com/corralproject/corral/pkg/metrics"
	"github.com/corralproject/corral/pkg/types"
)

// Core is the contract the HTTP adapter exposes. Implemented by
// scheduler.Scheduler; the adapter contains no scheduling logic.
type Core interface {
	TriggerSync() bool
	Runtime() types.Runtime
	Quota(username string) (map[string]float64, error)
	Allocate(username, password string, count int) (*types.Allocation, error)
}

// Server is the HTTP JSON front-end.
type Server struct {
	core Core
	http *http.Server
}

// NewServer creates the API server bound to addr.
func NewServer(core Core, addr string) *Server {
	s := &Server{core: core}

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/runtime", s.handleRuntime)
	mux.HandleFunc("/quota", s.handleQuota)
	mux.HandleFunc("/realloc", s.handleRealloc)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", metrics.Handler())

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Stop is called. Blocks.
func (s *Server) Start() error {
	logger := log.WithComponent("api")
	logger.Info().Str("addr", s.http.Addr).Msg("HTTP API listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// response is the wire envelope shared by every route.
type response struct {
	OK     bool        `json:"ok"`
	Data   interface{} `json:"data,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, response{OK: true, Data: data})
}

func writeFail(w http.ResponseWriter, reason string) {
	writeJSON(w, response{OK: false, Reason: reason})
}

func writeJSON(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

// middleware assigns a request ID, sets permissive CORS headers, and records
// request metrics and logs.
func (s *Server) middleware(next http.Handler) http.Handler {
	logger := log.WithComponent("api")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		w.Header().Set("X-Request-Id", requestID)

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		metrics.APIRequestsTotal.WithLabelValues(r.URL.Path, fmt.Sprintf("%d", rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.URL.Path).Observe(elapsed.Seconds())
		logger.Debug().Str("request_id", requestID).Str("method", r.Method).
			Str("path", r.URL.Path).Int("status", rec.status).Dur("elapsed", elapsed).
			Msg("request served")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.core.TriggerSync() {
		writeFail(w, "server busy, retry later")
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeOK(w, s.core.Runtime())
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	username := r.URL.Query().Get("username")
	balances, err := s.core.Quota(username)
	if err != nil {
		writeFail(w, fmt.Sprintf("username %q not found", username))
		return
	}
	writeOK(w, balances)
}

// reallocRequest carries base64-encoded credentials; the core receives them
// decoded as plain strings.
type reallocRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	GPUCount int    `json:"gpu_count"`
}

func (s *Server) handleRealloc(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req reallocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, "parameter wrong")
		return
	}
	username, err := base64.StdEncoding.DecodeString(req.Username)
	if err != nil || len(username) == 0 {
		writeFail(w, "parameter wrong")
		return
	}
	password, err := base64.StdEncoding.DecodeString(req.Password)
	if err != nil {
		writeFail(w, "parameter wrong")
		return
	}

	result, err := s.core.Allocate(string(username), string(password), req.GPUCount)
	if err != nil {
		writeFail(w, err.Error())
		return
	}
	writeOK(w, result)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}
