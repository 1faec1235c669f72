// Package probe is the debug HTTP surface of spec §9: health, pool
// occupancy, Prometheus scrape, and an operator-gated manual KILL, shaped
// the same way as the teacher's internal/api.Server but scoped to the one
// pool this module's caller opened, not a multi-tenant registry.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbbouncer/mysqlcore"
)

// Server exposes /healthz, /pool, /metrics, and /kill/{connID} over
// gorilla/mux, grounded on the teacher's internal/api.Server shape.
type Server struct {
	pool       *mysqlcore.Pool
	registry   *prometheus.Registry
	logger     *slog.Logger
	startTime  time.Time
	httpServer *http.Server
}

// NewServer wires pool's stats/kill-authorization into a Server that
// scrapes registry for /metrics.
func NewServer(pool *mysqlcore.Pool, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{pool: pool, registry: registry, logger: logger, startTime: time.Now()}
}

// Start begins listening on addr. Routes are registered fresh each call,
// matching the teacher's Start(port) shape.
func (s *Server) Start(addr string) error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	r.HandleFunc("/pool", s.poolHandler).Methods("GET")
	r.HandleFunc("/kill/{connID}", s.killHandler).Methods("POST")
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("probe server listening", "addr", addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("probe server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
	})
}

func (s *Server) poolHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Stats())
}

// killHandler accepts a manual KILL request against an arbitrary
// connection id, gated on the X-Kill-Credential header matching the
// pool's configured credential (connpool.WithKillAuthCredential). This
// is a debug-only escape hatch; ordinary callers never need it, since
// the pool's own query-timeout KILL is automatic.
func (s *Server) killHandler(w http.ResponseWriter, r *http.Request) {
	if !s.pool.AuthorizeKill(r.Header.Get("X-Kill-Credential")) {
		writeError(w, http.StatusUnauthorized, "invalid or missing X-Kill-Credential")
		return
	}

	connID, err := strconv.ParseUint(mux.Vars(r)["connID"], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid connID: %v", err))
		return
	}

	s.logger.Warn("manual KILL requested via probe", "connID", connID)
	if err := s.pool.Kill(r.Context(), uint32(connID), 0); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("kill failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "killed",
		"connID": connID,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
