// Package server implements the tally backup service: it keeps the last
// debtor array pushed by each market and hands it back on request.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/remote/rpc"
)

// maxBodyBytes bounds a backup request body.
const maxBodyBytes = 16 << 20

// Config configures the Server.
type Config struct {
	Store  core.Store
	Token  string // empty disables authentication
	Logger *slog.Logger

	// RatePerSecond and Burst drive the per-market limiter. Zero rate
	// disables limiting.
	RatePerSecond float64
	Burst         int

	// Registry receives the server collectors; a private one is created
	// when nil.
	Registry *prometheus.Registry

	Now func() time.Time
}

// Server is the backup service.
type Server struct {
	store   core.Store
	token   string
	logger  *slog.Logger
	metrics *metrics
	now     func() time.Time
	router  *mux.Router

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	served   int
}

// storedBackup is the value kept under core.BackupKey.
type storedBackup struct {
	Debtors   []core.Debtor `json:"debtors"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// New creates the server and its routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	s := &Server{
		store:    cfg.Store,
		token:    cfg.Token,
		logger:   cfg.Logger,
		metrics:  newMetrics(cfg.Registry),
		now:      cfg.Now,
		limit:    rate.Limit(cfg.RatePerSecond),
		burst:    cfg.Burst,
		limiters: make(map[string]*rate.Limiter),
	}
	if cfg.RatePerSecond <= 0 {
		s.limit = rate.Inf
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, s.metrics.instrument)

	r.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/rpc").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc(strings.TrimPrefix(rpc.PathBackup, "/rpc"), s.handleBackup).Methods(http.MethodPost)
	api.HandleFunc(strings.TrimPrefix(rpc.PathFetch, "/rpc"), s.handleFetch).Methods(http.MethodPost)

	s.router = r
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("backup service listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("backup service stopped")
	return nil
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiter(market string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[market]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[market] = l
	}
	return l
}

// admit validates the market and applies its rate limit. It writes the error
// response itself and reports whether the request may proceed.
func (s *Server) admit(w http.ResponseWriter, market string) bool {
	if err := core.ValidateMarket(market); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	l := s.limiter(market)
	if !l.Allow() {
		s.metrics.limited.WithLabelValues(market).Inc()
		s.logger.Warn("rate limit exceeded", "market", market)
		w.Header().Set("Retry-After", retryAfter(l))
		writeError(w, http.StatusTooManyRequests, core.ErrRateLimited.Error())
		return false
	}
	s.mu.Lock()
	s.served++
	s.mu.Unlock()
	return true
}

// retryAfter is the number of whole seconds until l grants a token, at least 1.
func retryAfter(l *rate.Limiter) string {
	r := l.Reserve()
	defer r.Cancel()
	secs := int64(1)
	if r.OK() {
		if d := int64(math.Ceil(r.Delay().Seconds())); d > secs {
			secs = d
		}
	}
	return strconv.FormatInt(secs, 10)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	if _, err := s.store.Keys(r.Context(), core.BackupPrefix); err != nil {
		status = http.StatusServiceUnavailable
		body = map[string]string{"status": "degraded", "error": err.Error()}
	}
	writeJSON(w, status, body)
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	var req rpc.BackupRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.admit(w, req.MarketID) {
		return
	}
	if req.Debtors == nil {
		req.Debtors = []core.Debtor{}
	}

	now := s.now().UTC()
	data, err := json.Marshal(storedBackup{Debtors: req.Debtors, UpdatedAt: now})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.Set(r.Context(), core.BackupKey(req.MarketID), data); err != nil {
		s.logger.Error("failed to store backup", "market", req.MarketID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	s.metrics.stored.WithLabelValues(req.MarketID).Set(float64(len(req.Debtors)))
	s.logger.Info("backup stored", "market", req.MarketID, "debtors", len(req.Debtors), "request_id", middleware.GetReqID(r.Context()))
	writeJSON(w, http.StatusOK, rpc.BackupResponse{Stored: len(req.Debtors), UpdatedAt: now})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req rpc.FetchRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.admit(w, req.MarketID) {
		return
	}

	raw, err := s.store.Get(r.Context(), core.BackupKey(req.MarketID))
	if errors.Is(err, core.ErrNotFound) {
		writeJSON(w, http.StatusOK, rpc.FetchResponse{Debtors: []core.Debtor{}})
		return
	}
	if err != nil {
		s.logger.Error("failed to read backup", "market", req.MarketID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	var b storedBackup
	if err := json.Unmarshal(raw, &b); err != nil {
		// Same recovery as the client side: a corrupted backup reads as empty.
		s.logger.Warn("corrupted backup discarded", "market", req.MarketID, "error", err)
		_ = s.store.Delete(r.Context(), core.BackupKey(req.MarketID))
		writeJSON(w, http.StatusOK, rpc.FetchResponse{Debtors: []core.Debtor{}})
		return
	}
	if b.Debtors == nil {
		b.Debtors = []core.Debtor{}
	}
	writeJSON(w, http.StatusOK, rpc.FetchResponse{Debtors: b.Debtors, UpdatedAt: &b.UpdatedAt})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, rpc.ErrorResponse{Error: msg})
}
