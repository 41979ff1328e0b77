package hubapp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestApp(t *testing.T, metrics bool) *App {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MetricsEnabled = metrics
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHealthz(t *testing.T) {
	a := newTestApp(t, false)
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rr.Code)
	}
}

func TestStatzReportsEmptyRegistry(t *testing.T) {
	a := newTestApp(t, false)
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/statz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("statz status = %d", rr.Code)
	}
	var got statsSnapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("statz body: %v", err)
	}
	if got.Total != 0 || got.Agents != 0 {
		t.Errorf("statz = %+v, want zeros", got)
	}
}

func TestMetricsEndpointGatedByConfig(t *testing.T) {
	withMetrics := newTestApp(t, true)
	mux := http.NewServeMux()
	withMetrics.registerHTTP(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("metrics status = %d with metrics enabled", rr.Code)
	}

	without := newTestApp(t, false)
	mux2 := http.NewServeMux()
	without.registerHTTP(mux2)

	rr2 := httptest.NewRecorder()
	mux2.ServeHTTP(rr2, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr2.Code != http.StatusNotFound {
		t.Errorf("metrics status = %d with metrics disabled, want 404", rr2.Code)
	}
}
