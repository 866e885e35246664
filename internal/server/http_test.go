package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dedimark/source-query-proxy/internal/cache"
	"github.com/dedimark/source-query-proxy/internal/config"
	"github.com/dedimark/source-query-proxy/internal/metrics"
	"github.com/dedimark/source-query-proxy/internal/proxy"
)

func newTestServer(t *testing.T) *HTTPServer {
	t.Helper()

	cfg := &config.Config{
		Network: config.NetworkConfig{
			BindAddress:   "127.0.0.1",
			BindPort:      27015,
			ServerAddress: "127.0.0.1",
			ServerPort:    27016,
		},
		Query: config.QueryConfig{
			ConnectionLifetime:   300,
			InfoCacheLifetime:    5,
			PlayersCacheLifetime: 5,
			RulesCacheLifetime:   30,
			RetryBackoff:         1,
			BufferSize:           4096,
		},
		HTTP: config.HTTPConfig{Enabled: true, Address: "127.0.0.1", Port: 8080},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := proxy.New(cfg, logger, metrics.NewMetricsWith(prometheus.NewRegistry()))
	p.Cache().Set(cache.KeyInfo, []byte("cached info"))
	return NewHTTPServer(cfg, logger, p)
}

func TestHandleHealth(t *testing.T) {
	h := newTestServer(t)

	rec := httptest.NewRecorder()
	h.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestHandleStats(t *testing.T) {
	h := newTestServer(t)

	rec := httptest.NewRecorder()
	h.handleStats(rec, httptest.NewRequest("GET", "/stats", nil))

	var body struct {
		Cache map[string]keyStatus `json:"cache"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}

	info, ok := body.Cache["a2s_info"]
	if !ok {
		t.Fatal("stats body missing a2s_info key")
	}
	if !info.Ready || info.Size != len("cached info") {
		t.Errorf("a2s_info status = %+v, want ready with size %d", info, len("cached info"))
	}

	if players := body.Cache["a2s_players"]; players.Ready {
		t.Errorf("a2s_players reported ready, want not ready")
	}
}

func TestHandleConfig(t *testing.T) {
	h := newTestServer(t)

	rec := httptest.NewRecorder()
	h.handleConfig(rec, httptest.NewRequest("GET", "/config", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["server_address"] != "127.0.0.1:27016" {
		t.Errorf("server_address = %v, want 127.0.0.1:27016", body["server_address"])
	}
}
