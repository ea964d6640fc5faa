package proxy

import (
	"net/http"
	"sync/atomic"
)

// ProbeHeader marks requests from the cluster's health probing. The health
// endpoint only answers probes carrying it.
const ProbeHeader = "X-Kubernetes-Probe"

// Health serves /health for cluster probes. It flips to 503 once the
// process is draining so the load balancer stops sending traffic while
// in-flight work finishes.
type Health struct {
	draining atomic.Bool
}

// NewHealth creates a Health handler.
func NewHealth() *Health {
	return &Health{}
}

// SetDraining marks the process as shutting down.
func (h *Health) SetDraining() {
	h.draining.Store(true)
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if h.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Shutting down"))
		return
	}
	w.Write([]byte("Ok"))
}

// WithHealth routes /health probe requests to health and everything else
// to next. Probe requests stay out of the request logs.
func WithHealth(health *Health, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" && r.Header.Get(ProbeHeader) != "" {
			health.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
