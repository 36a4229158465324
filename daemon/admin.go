package daemon

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pithecene-io/buildlink/metrics"
	"github.com/pithecene-io/buildlink/types"
)

// Health is the body of GET /healthz.
type Health struct {
	Status  string `json:"status"`
	PID     int    `json:"pid"`
	Version string `json:"version"`
	Socket  string `json:"socket"`
	Busy    bool   `json:"busy"`
	Uptime  string `json:"uptime"`
}

// NewAdminHandler serves the daemon's operational endpoints:
//
//	GET /healthz  daemon health as JSON
//	GET /metrics  Prometheus exposition of collector
func NewAdminHandler(s *Server, collector *metrics.Collector) http.Handler {
	started := time.Now()
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Health{
			Status:  "ok",
			PID:     os.Getpid(),
			Version: types.Version,
			Socket:  s.Socket(),
			Busy:    s.Busy(),
			Uptime:  time.Since(started).Round(time.Second).String(),
		})
	})
	r.Handle("/metrics", metrics.Handler(metrics.NewRegistry(collector)))
	return r
}
