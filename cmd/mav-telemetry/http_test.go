package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kstaniek/go-mavlink-telemetry/internal/link"
	"github.com/kstaniek/go-mavlink-telemetry/internal/telemetry"
)

type staticView struct {
	st   link.Status
	snap telemetry.Snapshot
}

func (v staticView) Status() link.Status          { return v.st }
func (v staticView) Snapshot() telemetry.Snapshot { return v.snap }

func TestTelemetryEndpoint(t *testing.T) {
	view := staticView{
		st:   link.Status{State: link.Connected, Target: "udp://:14550", Messages: 12, Protocol: 2},
		snap: telemetry.Snapshot{Connected: true},
	}
	mux := http.NewServeMux()
	mountTelemetry(view)(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telemetry", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
	var got telemetryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status.State != link.Connected || got.Status.Messages != 12 || !got.Telemetry.Connected {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telemetry", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rec.Code)
	}
}
