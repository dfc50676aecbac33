package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/marketflow/perpcore/internal/engine"
	"github.com/marketflow/perpcore/internal/metrics"
)

// Server exposes health, the Prometheus scrape endpoint, and the latest
// decision cycle as JSON.
type Server struct {
	srv *http.Server

	mu     sync.RWMutex
	latest *engine.Result
}

// NewServer builds the HTTP surface on the given listen address.
func NewServer(addr string, reg *metrics.Registry) *Server {
	s := &Server{}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/decision/latest", s.handleLatest).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg.Reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Publish stores the newest cycle result for the status endpoint.
func (s *Server) Publish(res engine.Result) {
	s.mu.Lock()
	s.latest = &res
	s.mu.Unlock()
}

// Start runs the listener until Shutdown. It blocks.
func (s *Server) Start() error {
	log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if latest == nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "no cycle evaluated yet"})
		return
	}
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(latest); err != nil {
		log.Error().Err(err).Msg("encode latest decision")
	}
}
