package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/taskrelay/config"
	"github.com/target/taskrelay/internal/adapters/vendorclient"
	"github.com/target/taskrelay/internal/core"
	"github.com/target/taskrelay/internal/data"
	"github.com/target/taskrelay/internal/domain/task"
	"github.com/target/taskrelay/internal/observability/metrics"
	"github.com/target/taskrelay/internal/observability/statsd"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Registry     *task.Registry
	Store        *task.CacheResultStore
	Dispatcher   *task.Dispatcher
	Orchestrator *task.Orchestrator
	Signal       task.Signal
	Cache        *data.RedisCacheRepo
	// Archive is nil unless TASK_ARCHIVE_ENABLED is set.
	Archive *data.TaskArchiveRepo
	// Vendors is nil when no provider URL is configured.
	Vendors       *vendorclient.Client
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	TaskMetrics   *metrics.TaskMetrics
	MetricsConfig config.ObservabilityMetricsConfig
}

// Sink returns the StatsD sink or statsd.Discard when StatsD is off.
func (o ObservabilityContainer) Sink() statsd.Sink {
	if o.MetricsSink == nil {
		return statsd.Discard
	}
	return o.MetricsSink
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.StatsdPrefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	out := ObservabilityContainer{MetricsSink: metricsSink, MetricsConfig: cfg.Metrics}

	if cfg.Metrics.PrometheusEnabled || metricsSink != nil {
		tm, err := metrics.NewTaskMetrics(metrics.TaskMetricsOptions{Sink: out.Sink()})
		if err != nil {
			obsLogger.Error("failed to register task metrics", "error", err)
		} else {
			out.TaskMetrics = tm
		}
	}

	return out
}

// taskMetrics avoids handing a typed nil to the task package.
func (o ObservabilityContainer) taskMetrics() task.Metrics {
	if o.TaskMetrics == nil {
		return nil
	}
	return o.TaskMetrics
}

func buildVendorClient(cfg *config.AppConfig, resolver vendorclient.EndpointResolver, logger *slog.Logger) (*vendorclient.Client, error) {
	if !cfg.Vendors.Configured() {
		return nil, nil
	}
	base := strings.TrimSpace(cfg.Vendors.CallbackBaseURL)
	if base == "" {
		base = cfg.HTTP.BaseURL
	}
	if base == "" {
		logger.Warn("vendor providers configured without a callback base URL; submissions disabled")
		return nil, nil
	}

	providers := make(map[string]vendorclient.Provider, 3)
	for endpoint, p := range map[string]config.VendorProviderConfig{
		task.EndpointMedia: cfg.Vendors.Media,
		task.EndpointVoice: cfg.Vendors.Voice,
		task.EndpointSong:  cfg.Vendors.Song,
	} {
		if p.URL == "" {
			continue
		}
		providers[endpoint] = vendorclient.Provider{URL: p.URL, APIKey: p.APIKey, RPS: p.RPS, Burst: p.Burst}
	}

	client, err := vendorclient.New(vendorclient.Options{
		HTTPClient:      &http.Client{Timeout: cfg.Vendors.Timeout},
		Providers:       providers,
		CallbackBaseURL: base,
		Resolver:        resolver,
		Retry: vendorclient.RetryConfig{
			MaxRetries:     cfg.Vendors.MaxRetries,
			InitialBackoff: cfg.Vendors.InitialBackoff,
			MaxBackoff:     cfg.Vendors.MaxBackoff,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create vendor client: %w", err)
	}
	return client, nil
}

// NewServices wires the task engine over Redis and, when enabled, the Postgres archive.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	if deps.RedisClient == nil {
		return ServiceContainer{}, errors.New("redis client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	observability := buildObservability(logger, cfg.Observability)

	cache := data.NewRedisCacheRepo(data.RedisCacheRepoOptions{Client: deps.RedisClient})

	var archive *data.TaskArchiveRepo
	var archiveRepo core.TaskArchiveRepository
	if cfg.Tasks.ArchiveEnabled {
		if deps.DB == nil {
			return ServiceContainer{}, errors.New("task archive enabled but no database connection")
		}
		archive = data.NewTaskArchiveRepo(data.TaskArchiveRepoOptions{DB: deps.DB})
		archiveRepo = archive
	}

	store, err := task.NewResultStore(task.ResultStoreOptions{
		Cache:       cache,
		Archive:     archiveRepo,
		ResultTTL:   cfg.Tasks.ResultTTL,
		ProgressTTL: cfg.Tasks.ProgressTTL,
		Logger:      logger,
		IsNotFound:  func(err error) bool { return errors.Is(err, data.ErrArchivedTaskNotFound) },
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create result store: %w", err)
	}

	registry, err := task.NewDefaultRegistry(task.ConverterOptions{Evaluator: task.NewFieldEvaluator()}, logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create converter registry: %w", err)
	}

	bus := data.NewRedisPubSub(data.RedisPubSubOptions{Client: deps.RedisClient})
	sig, err := task.NewPubSubSignal(bus)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create completion signal: %w", err)
	}

	policy, err := task.ParseDuplicatePolicy(cfg.Tasks.DuplicatePolicy)
	if err != nil {
		return ServiceContainer{}, err
	}

	dispatcher, err := task.NewDispatcher(task.DispatcherOptions{
		Registry:  registry,
		Store:     store,
		Signal:    sig,
		Metrics:   observability.taskMetrics(),
		Logger:    logger,
		Policy:    policy,
		ResultTTL: cfg.Tasks.ResultTTL,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create dispatcher: %w", err)
	}

	waiter, err := task.NewWaiter(task.WaiterOptions{
		Store:        store,
		Signal:       sig,
		Metrics:      observability.taskMetrics(),
		Logger:       logger,
		PollInterval: cfg.Tasks.PollInterval,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create waiter: %w", err)
	}

	orchestrator, err := task.NewOrchestrator(task.OrchestratorOptions{
		Store:          store,
		Waiter:         waiter,
		Logger:         logger,
		DefaultTimeout: cfg.Tasks.DefaultTimeout,
		PendingTTL:     cfg.Tasks.ResultTTL,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create orchestrator: %w", err)
	}

	vendors, err := buildVendorClient(cfg, registry, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	return ServiceContainer{
		Registry:      registry,
		Store:         store,
		Dispatcher:    dispatcher,
		Orchestrator:  orchestrator,
		Signal:        sig,
		Cache:         cache,
		Archive:       archive,
		Vendors:       vendors,
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig contains everything RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Redis:    deps.cfg.RedisClient,
		Logger:   deps.logger,
		ErrCh:    deps.errCh,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}
	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}
		handles = append(handles, backgroundServiceHandle{mode: svc.mode, name: svc.name, done: done})
	}

	return handles
}

// reaperObserver counts purged archive rows on the Prometheus side.
type reaperObserver struct {
	metrics *metrics.TaskMetrics
}

func (o reaperObserver) ArchivePurged(n int64) {
	if o.metrics != nil {
		o.metrics.ArchivePurged(n)
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var reaperCfg config.ReaperConfig
			if deps.cfg.Config != nil {
				reaperCfg = deps.cfg.Config.Reaper
			}
			obs := deps.cfg.Services.Observability
			return RunReaper(ctx, ReaperConfig{
				DB:       deps.cfg.DB,
				Logger:   deps.logger,
				Config:   reaperCfg,
				Metrics:  obs.Sink(),
				Observer: reaperObserver{metrics: obs.TaskMetrics},
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newReaperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	return waitForShutdown(shutdownConfig{
		quit:        quit,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		httpTimeout: cfg.Config.HTTP.ShutdownTimeout,
		closers:     []func() error{closeStatsd(cfg.Services.Observability.MetricsSink)},
		logger:      logger,
		backgrounds: result.Background,
	})
}

func closeStatsd(c *statsd.Client) func() error {
	return func() error {
		if c == nil {
			return nil
		}
		return c.Close()
	}
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	quit        <-chan os.Signal
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	httpTimeout time.Duration
	closers     []func() error
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	select {
	case <-cfg.quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	var errs []error
	if cfg.httpServer != nil {
		timeout := cfg.httpTimeout
		if timeout <= 0 {
			timeout = shutdownWaitTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		}); err != nil {
			errs = append(errs, err)
		}
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	for _, c := range cfg.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
