package main

import (
	"encoding/json"
	"net/http"

	"github.com/kstaniek/go-mavlink-telemetry/internal/link"
	"github.com/kstaniek/go-mavlink-telemetry/internal/logging"
	"github.com/kstaniek/go-mavlink-telemetry/internal/telemetry"
)

// linkView is the read side of link.Manager.
type linkView interface {
	Status() link.Status
	Snapshot() telemetry.Snapshot
}

type telemetryResponse struct {
	Status    link.Status        `json:"status"`
	Telemetry telemetry.Snapshot `json:"telemetry"`
}

// mountTelemetry serves the current link status and snapshot at /telemetry.
func mountTelemetry(v linkView) func(*http.ServeMux) {
	return func(mux *http.ServeMux) {
		mux.HandleFunc("/telemetry", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				w.Header().Set("Allow", "GET, HEAD")
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			body, err := json.Marshal(telemetryResponse{Status: v.Status(), Telemetry: v.Snapshot()})
			if err != nil {
				logging.L().Error("telemetry_encode_error", "error", err)
				http.Error(w, "telemetry unavailable", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Cache-Control", "no-store")
			_, _ = w.Write(append(body, '\n'))
		})
	}
}
