package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dedimark/source-query-proxy/internal/cache"
	"github.com/dedimark/source-query-proxy/internal/config"
	"github.com/dedimark/source-query-proxy/internal/proxy"
)

// HTTPServer provides HTTP endpoints for monitoring the proxy
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	config    *config.Config
	sqproxy   *proxy.QueryProxy
	startTime time.Time
}

// NewHTTPServer creates a new monitoring HTTP server
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, p *proxy.QueryProxy) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		sqproxy:   p,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/stats", h.handleStats)
	mux.HandleFunc("/config", h.handleConfig)
	mux.Handle("/metrics", promhttp.Handler())

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Start begins serving in the background
func (h *HTTPServer) Start() error {
	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server failed", slog.String("error", err.Error()))
		}
	}()

	h.logger.Info("HTTP server started", slog.String("address", h.server.Addr))
	return nil
}

// Stop gracefully shuts the server down
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")
	return h.server.Shutdown(ctx)
}

// keyStatus describes one cache entry on the stats endpoint
type keyStatus struct {
	Ready bool `json:"ready"`
	Size  int  `json:"size"`
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(h.startTime).Seconds(),
	})
}

func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	keys := make(map[string]keyStatus, len(cache.Keys))
	for _, key := range cache.Keys {
		value, err := h.sqproxy.Cache().Peek(key)
		keys[string(key)] = keyStatus{Ready: err == nil, Size: len(value)}
	}

	h.writeJSON(w, map[string]any{
		"listener": h.sqproxy.Statistics(),
		"cache":    keys,
	})
}

func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]any{
		"bind_address":           h.config.Network.BindAddr(),
		"server_address":         h.config.Network.ServerAddr(),
		"connection_lifetime":    h.config.Query.ConnectionLifetime,
		"info_cache_lifetime":    h.config.Query.InfoCacheLifetime,
		"players_cache_lifetime": h.config.Query.PlayersCacheLifetime,
		"rules_cache_lifetime":   h.config.Query.RulesCacheLifetime,
		"retry_backoff":          h.config.Query.RetryBackoff,
	})
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", slog.String("error", err.Error()))
	}
}
