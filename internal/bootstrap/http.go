package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/target/taskrelay/config"
	httpx "github.com/target/taskrelay/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Redis    redis.UniversalClient
	Logger   *slog.Logger
	// ErrCh receives listener failures; nil only logs them.
	ErrCh chan<- error
}

// redisReadiness reports ready when Redis answers PING.
type redisReadiness struct {
	client redis.UniversalClient
}

func (r redisReadiness) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	handler := buildHTTPHandler(httpHandlerConfig{
		Logger:   logger,
		Services: routerServices(appCfg, cfg.Services, cfg.Redis, logger),
	})

	return startServer(serverOptions{
		logger:  logger,
		handler: handler,
		http:    appCfg.HTTP,
		errCh:   cfg.ErrCh,
	})
}

func routerServices(
	appCfg *config.AppConfig,
	svc ServiceContainer,
	client redis.UniversalClient,
	logger *slog.Logger,
) httpx.RouterServices {
	services := httpx.RouterServices{
		Dispatcher:        svc.Dispatcher,
		Orchestrator:      svc.Orchestrator,
		Registry:          svc.Registry,
		MaxAwaitTimeout:   appCfg.Tasks.MaxAwaitTimeout,
		CallbackBodyLimit: appCfg.Tasks.CallbackBodyLimit,
		Logger:            logger,
	}
	if client != nil {
		services.Readiness = redisReadiness{client: client}
	}
	if svc.Observability.TaskMetrics != nil && svc.Observability.MetricsConfig.PrometheusEnabled {
		services.Metrics = svc.Observability.TaskMetrics
	}
	return services
}

type httpHandlerConfig struct {
	Logger   *slog.Logger
	Services httpx.RouterServices
}

// Order: RequestID -> Recover -> Logging -> Router (request metrics sit inside the router).
func buildHTTPHandler(cfg httpHandlerConfig) http.Handler {
	h := httpx.NewRouter(cfg.Services)
	h = httpx.Logging(cfg.Logger)(h)
	h = httpx.Recover(cfg.Logger)(h)
	return httpx.RequestID(h)
}

type serverOptions struct {
	logger  *slog.Logger
	handler http.Handler
	http    config.HTTPConfig
	errCh   chan<- error
}

func startServer(opts serverOptions) *http.Server {
	addr := opts.http.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           opts.handler,
		ReadHeaderTimeout: opts.http.ReadHeaderTimeout,
		ReadTimeout:       opts.http.ReadTimeout,
		WriteTimeout:      opts.http.WriteTimeout,
		IdleTimeout:       opts.http.IdleTimeout,
	}

	go func() {
		opts.logger.Info("starting HTTP server", "addr", server.Addr)
		err := server.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		opts.logger.Error("HTTP server failed", "error", err)
		if opts.errCh != nil {
			select {
			case opts.errCh <- fmt.Errorf("http server: %w", err):
			default:
			}
		}
	}()

	return server
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server. In-flight awaits are
// given until Context expires.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	if err := cfg.Server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}
