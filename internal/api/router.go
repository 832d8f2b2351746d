package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jobmate/ingestion-service/internal/middleware"
)

// NewRouter constructs a ServeMux with the trigger, health and metrics routes.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
