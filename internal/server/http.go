// Package server exposes the read API and the admin recompute surface over
// HTTP/JSON. Everything it serves comes from committed result rows; it never
// touches the compute path directly.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"PredLedger/internal/observability"
	"PredLedger/internal/query"
	"PredLedger/internal/settle"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Recomputer clears a wallet's compute watermark so the next scheduler pass
// rebuilds it from scratch. The persistence store implements this.
type Recomputer interface {
	ClearWatermark(ctx context.Context, wallet string) error
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Reader      query.Reader
	Recompute   Recomputer
	Health      *observability.HealthChecker
	Metrics     *observability.Metrics
	Log         zerolog.Logger
	DefaultMode string
}

// Server wraps the HTTP server and its routes.
type Server struct {
	httpServer  *http.Server
	reader      query.Reader
	recompute   Recomputer
	metrics     *observability.Metrics
	log         zerolog.Logger
	defaultMode string
}

func NewServer(addr string, deps *Deps) *Server {
	s := &Server{
		reader:      deps.Reader,
		recompute:   deps.Recompute,
		metrics:     deps.Metrics,
		log:         deps.Log.With().Str("component", "http_server").Logger(),
		defaultMode: deps.DefaultMode,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	if deps.Health != nil {
		r.Get("/healthz", deps.Health.LivenessHandler)
		r.Get("/readyz", deps.Health.ReadinessHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.instrument("stats", s.handleStats))
		r.Route("/wallets/{address}", func(r chi.Router) {
			r.Get("/pnl", s.instrument("wallet_pnl", s.handleWalletPnl))
			r.Get("/markets", s.instrument("wallet_markets", s.handleWalletMarkets))
			r.Get("/history", s.instrument("wallet_history", s.handleWalletHistory))
			r.Post("/recompute", s.instrument("recompute", s.handleRecompute))
		})
	})

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the context is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// instrument records request count and latency per endpoint.
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next(ww, r)
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(ww.Status())).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

// --- handlers ---

func (s *Server) handleWalletPnl(w http.ResponseWriter, r *http.Request) {
	address, mode, ok := s.walletParams(w, r)
	if !ok {
		return
	}

	resp, err := s.reader.WalletPnl(r.Context(), address, mode)
	if err != nil {
		s.respondReadError(w, r, err, address)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWalletMarkets(w http.ResponseWriter, r *http.Request) {
	address, mode, ok := s.walletParams(w, r)
	if !ok {
		return
	}

	rows, err := s.reader.WalletMarkets(r.Context(), address, mode)
	if err != nil {
		s.respondReadError(w, r, err, address)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wallet":  address,
		"mode":    mode,
		"markets": rows,
	})
}

func (s *Server) handleWalletHistory(w http.ResponseWriter, r *http.Request) {
	address, mode, ok := s.walletParams(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	var before *time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "before must be an RFC3339 timestamp", http.StatusBadRequest)
			return
		}
		before = &t
	}

	points, err := s.reader.WalletHistory(r.Context(), address, mode, limit, before)
	if err != nil {
		s.respondReadError(w, r, err, address)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wallet":  address,
		"mode":    mode,
		"history": points,
	})
}

// handleRecompute drops the wallet's watermark; the next scheduler pass
// recomputes from the full raw history. The response is 202: the work
// happens asynchronously.
func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	address, ok := s.walletAddress(w, r)
	if !ok {
		return
	}

	if err := s.recompute.ClearWatermark(r.Context(), address); err != nil {
		s.log.Error().Err(err).Str("wallet", address).Msg("recompute request failed")
		writeError(w, "recompute request failed", http.StatusInternalServerError)
		return
	}

	s.log.Info().Str("wallet", address).Msg("recompute scheduled")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"wallet": address,
		"status": "scheduled",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reader.Stats(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("stats query failed")
		writeError(w, "stats query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- param helpers ---

// walletAddress validates and normalizes the address path parameter.
// Addresses are case-insensitive on chain; lowercasing here matches what
// ingestion stores.
func (s *Server) walletAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	address := strings.ToLower(chi.URLParam(r, "address"))
	if !strings.HasPrefix(address, "0x") || len(address) < 4 {
		writeError(w, "address must be a 0x-prefixed wallet address", http.StatusBadRequest)
		return "", false
	}
	return address, true
}

// walletParams resolves address plus the mode query parameter.
func (s *Server) walletParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	address, ok := s.walletAddress(w, r)
	if !ok {
		return "", "", false
	}

	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = s.defaultMode
	}
	if _, ok := settle.ParseMode(mode); !ok {
		writeError(w, fmt.Sprintf("unknown mode %q (want asymmetric or symmetric)", mode), http.StatusBadRequest)
		return "", "", false
	}
	return address, mode, true
}

func (s *Server) respondReadError(w http.ResponseWriter, r *http.Request, err error, address string) {
	if errors.Is(err, query.ErrNotFound) {
		writeError(w, fmt.Sprintf("no computed result for wallet %s", address), http.StatusNotFound)
		return
	}
	s.log.Error().Err(err).Str("wallet", address).Str("path", r.URL.Path).Msg("read query failed")
	writeError(w, "query failed", http.StatusInternalServerError)
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
