package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes:
// health checks, the WebSocket endpoint, and metrics when a handler is given.
func SetupRoutes(gateway http.Handler, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/healthz", HealthHandler)
	mux.Handle("/ws", gateway)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}
