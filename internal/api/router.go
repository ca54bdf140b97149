package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/p2plant-ioc/internal/auth"
)

// healthCheckTimeout bounds each dependency check in the health endpoint.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/pvs", func(r chi.Router) {
			r.Get("/", s.handleListPVs)
			r.Get("/{name}", s.handleGetPV)
			r.With(s.requirePermission(auth.PermPVWrite, "token does not grant PV writes")).
				Put("/{name}", s.handlePutPV)
		})

		if s.putLog != nil {
			r.With(s.requirePermission(auth.PermPVRead, "token does not grant PV reads")).
				Get("/puts", s.handleListPuts)
		}

		// WebSocket (token validated in handler when auth is enabled)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status and the result of each
// dependency check. Any failing check turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	components := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name](ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"pvs":            s.service.Registry().Len(),
		"ws_clients":     s.hub.ClientCount(),
		"components":     components,
	})
}
