package api

import "net/http"

func (*handler) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// readyz fails with 503 while Readiness reports an error (in
// cmd/graphsync: until the bus and graph connections are first
// established) — distinct from healthz, which only reports that the
// process is alive.
func (h *handler) readyz(w http.ResponseWriter, _ *http.Request) {
	if err := h.readiness.Ready(); err != nil {
		h.log.Warn("readiness check failed", "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
