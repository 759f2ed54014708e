package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// Readiness reports whether the process is ready to serve traffic —
// the bus connection is live and the graph driver has verified
// connectivity. Implemented by the loop's wiring in cmd/graphsync.
type Readiness interface {
	Ready() error
}

type handler struct {
	log       *slog.Logger
	readiness Readiness
}

// NewRouter builds the operational HTTP surface of SPEC_FULL.md §4.11:
// liveness, readiness, and a prometheus scrape endpoint. metrics may be
// nil in tests that don't exercise /metrics.
func NewRouter(log *slog.Logger, readiness Readiness, metrics http.Handler) http.Handler {
	h := handler{
		log:       log,
		readiness: readiness,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz)
	r.HandleFunc("/readyz", h.readyz)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	return r
}
