// Package httpx exposes the vendor callback receiver and the task inspection API over HTTP.
package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/taskrelay/internal/domain/task"
)

// ReadinessChecker reports whether a backing store is reachable.
type ReadinessChecker interface {
	Health(ctx context.Context) error
}

// MetricsProvider serves the Prometheus endpoint and records per-route traffic.
type MetricsProvider interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Dispatcher   *task.Dispatcher
	Orchestrator *task.Orchestrator
	Registry     *task.Registry

	// Optional: readiness probe target (Redis); nil reports ready.
	Readiness ReadinessChecker
	// Optional: nil disables GET /metrics and request metrics.
	Metrics MetricsProvider

	// MaxAwaitTimeout caps ?timeout= on the await endpoint.
	MaxAwaitTimeout time.Duration
	// CallbackBodyLimit bounds callback bodies in bytes.
	CallbackBodyLimit int64

	Logger *slog.Logger
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	callbacks := &CallbackHandlers{
		Dispatcher: services.Dispatcher,
		Registry:   services.Registry,
		BodyLimit:  services.CallbackBodyLimit,
		Logger:     logger.With("component", "callback_handlers"),
	}
	tasks := &TaskHandlers{
		Orchestrator:    services.Orchestrator,
		MaxAwaitTimeout: services.MaxAwaitTimeout,
		Logger:          logger.With("component", "task_handlers"),
	}

	registerCallbackRoutes(mux, callbacks)
	registerTaskRoutes(mux, tasks)
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readinessHandler(services.Readiness))

	if services.Metrics == nil {
		return mux
	}
	mux.Handle("GET /metrics", services.Metrics.Handler())
	// Wraps the mux directly so the matched pattern is visible after routing.
	return services.Metrics.Middleware(mux)
}

func registerCallbackRoutes(mux *http.ServeMux, h *CallbackHandlers) {
	mux.HandleFunc("POST /callbacks/{endpoint}", h.Receive)
	mux.HandleFunc("POST /callbacks/{endpoint}/progress", h.Progress)
}

func registerTaskRoutes(mux *http.ServeMux, h *TaskHandlers) {
	mux.HandleFunc("POST /api/tasks/{vendor}/{jobId}", h.Init)
	mux.HandleFunc("GET /api/tasks/{vendor}/{jobId}", h.Check)
	mux.HandleFunc("DELETE /api/tasks/{vendor}/{jobId}", h.Cleanup)
	mux.HandleFunc("GET /api/tasks/{vendor}/{jobId}/progress", h.Progress)
	mux.HandleFunc("POST /api/tasks/{vendor}/{jobId}/await", h.Await)
}
