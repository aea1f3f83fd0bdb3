package services

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benmeehan/geotrack/internal/query"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HTTPService serves the read-only query API.
type HTTPService struct {
	addr            string
	shutdownTimeout time.Duration
	surface         *query.Surface
	logger          zerolog.Logger

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewHTTPService creates an HTTPService listening on addr.
func NewHTTPService(addr string, shutdownTimeout time.Duration, surface *query.Surface, logger zerolog.Logger) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
		surface:         surface,
		logger:          logger,
	}
}

// Handler returns the router with every route mounted.
func (h *HTTPService) Handler() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)
	api.HandleFunc("/locations", h.handleLocations).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/active-devices", h.handleActiveDevices).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet, http.MethodOptions)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.Use(h.logRequests)
	return router
}

// Start binds the listen address and serves in the background.
func (h *HTTPService) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		h.logger.Warn().Msg("HTTPService is already running")
		return errors.New("http service is already running")
	}

	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		h.logger.Error().Err(err).Str("addr", h.addr).Msg("Failed to bind HTTP listener")
		return err
	}

	h.listener = listener
	h.server = &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	h.running = true

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error().Err(err).Msg("HTTP server stopped unexpectedly")
		}
	}()

	h.logger.Info().Str("addr", listener.Addr().String()).Msg("HTTPService started")
	return nil
}

// Addr returns the bound address once started.
func (h *HTTPService) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return h.addr
	}
	return h.listener.Addr().String()
}

// Stop shuts the server down, waiting up to the shutdown timeout for
// in-flight requests.
func (h *HTTPService) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		h.logger.Warn().Msg("HTTPService is not running")
		return errors.New("http service is not running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	err := h.server.Shutdown(ctx)
	h.wg.Wait()
	h.running = false
	h.listener = nil

	if err != nil {
		h.logger.Error().Err(err).Msg("HTTP server shutdown did not complete")
		return err
	}
	h.logger.Info().Msg("HTTPService stopped")
	return nil
}

func (h *HTTPService) handleLocations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		if n == 0 {
			h.writeError(w, http.StatusBadRequest, query.ErrInvalidLimit.Error())
			return
		}
		limit = n
	}

	reports, err := h.surface.RecentLocations(r.Context(), limit)
	if err != nil {
		if errors.Is(err, query.ErrInvalidLimit) {
			h.writeError(w, http.StatusBadRequest, query.ErrInvalidLimit.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to query recent locations")
		h.writeError(w, http.StatusInternalServerError, "failed to load locations")
		return
	}

	h.writeJSON(w, http.StatusOK, reports)
}

func (h *HTTPService) handleActiveDevices(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.surface.ActiveDevices())
}

func (h *HTTPService) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.surface.Status(r.Context()))
}

// writeJSON encodes v before touching the response so an encoding failure
// still produces a complete 500.
func (h *HTTPService) writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode JSON response")
		code = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response"}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(append(body, '\n')); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to write JSON response")
	}
}

func (h *HTTPService) writeError(w http.ResponseWriter, code int, message string) {
	h.writeJSON(w, code, map[string]string{"error": message})
}

func (h *HTTPService) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(started)).
			Msg("HTTP request")
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
