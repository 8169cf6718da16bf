package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/taskrelay/config"
	"github.com/target/taskrelay/internal/core"
	"github.com/target/taskrelay/internal/domain/model"
	obserrors "github.com/target/taskrelay/internal/observability/errors"
	"github.com/target/taskrelay/internal/observability/metrics"
	"github.com/target/taskrelay/internal/observability/statsd"
)

// PurgeObserver receives the number of archive rows removed by each successful sweep.
type PurgeObserver interface {
	ArchivePurged(n int64)
}

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo     core.ArchivePurger  // Required: archive repository
	Config   config.ReaperConfig // Required: reaper configuration
	Logger   *slog.Logger        // Optional: structured logger
	Metrics  statsd.Sink         // Optional: metrics sink (StatsD-compatible)
	Observer PurgeObserver       // Optional: e.g. Prometheus task metrics
}

// ReaperService purges archived task results.
//
// Successful tasks are kept for ArchiveMaxAge, failed and cancelled ones for FailedMaxAge.
// Redis entries expire on their own TTL and are not touched here.
type ReaperService struct {
	repo     core.ArchivePurger
	config   config.ReaperConfig
	logger   *slog.Logger
	metrics  statsd.Sink
	observer PurgeObserver
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ArchivePurger is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"archive_max_age", opts.Config.ArchiveMaxAge,
			"failed_max_age", opts.Config.FailedMaxAge,
			"batch_size", opts.Config.BatchSize,
		)
	}

	return &ReaperService{
		repo:     opts.Repo,
		config:   opts.Config,
		logger:   logger,
		metrics:  opts.Metrics,
		observer: opts.Observer,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// RunOnce performs a single sweep.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	_, err := s.runCleanup(ctx)
	return err
}

// Sweep performs a single sweep and reports how many archived rows were removed.
func (s *ReaperService) Sweep(ctx context.Context) (int64, error) {
	return s.runCleanup(ctx)
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
			}
		}
	}
}

type cleanupStep struct {
	operation string
	label     string
	statuses  []model.TaskStatus
	maxAge    time.Duration
}

type cleanupStepOutcome struct {
	operation string
	count     int64
	err       error
}

func (s *ReaperService) steps() []cleanupStep {
	return []cleanupStep{
		{
			operation: "delete_succeeded",
			label:     "delete old successful tasks",
			statuses:  []model.TaskStatus{model.TaskStatusSuccess},
			maxAge:    s.config.ArchiveMaxAge,
		},
		{
			operation: "delete_failed",
			label:     "delete old failed tasks",
			statuses:  []model.TaskStatus{model.TaskStatusFailed, model.TaskStatusCancelled},
			maxAge:    s.config.FailedMaxAge,
		},
	}
}

// runCleanup runs every purge step and returns the total number of rows removed.
func (s *ReaperService) runCleanup(ctx context.Context) (int64, error) {
	start := time.Now()
	var (
		errs               []error
		allContextCanceled = true
		outcomes           []cleanupStepOutcome
		total              int64
	)

	for _, step := range s.steps() {
		count, err := s.purge(ctx, step)
		total += count
		outcomes = append(outcomes, cleanupStepOutcome{
			operation: step.operation,
			count:     count,
			err:       suppressContextCancellation(err),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
			allContextCanceled = allContextCanceled && isContextCancellation(err)
		}
	}

	s.emitCleanupMetrics(outcomes, total, time.Since(start))

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return total, context.Canceled
		}
		return total, fmt.Errorf("cleanup failed: %w", joined)
	}
	if s.observer != nil && total > 0 {
		s.observer.ArchivePurged(total)
	}
	return total, nil
}

// purge loops until a batch removes nothing to handle large datasets.
func (s *ReaperService) purge(ctx context.Context, step cleanupStep) (int64, error) {
	var totalCount int64
	for {
		count, err := s.repo.DeleteOlderThan(ctx, core.DeleteArchivedTasksParams{
			OlderThan: step.maxAge,
			BatchSize: s.config.BatchSize,
			Statuses:  step.statuses,
		})
		if err != nil {
			return totalCount, err
		}
		totalCount += count
		if count == 0 {
			break
		}
		// Check context between batches
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, step.label,
			"count", totalCount,
			"max_age", step.maxAge,
		)
	}
	return totalCount, nil
}

func (s *ReaperService) emitCleanupMetrics(outcomes []cleanupStepOutcome, total int64, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	var firstErr error
	for _, o := range outcomes {
		if o.err != nil {
			firstErr = o.err
			break
		}
	}

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if total == 0 {
		result = metrics.ResultNoop
	}

	metrics.EmitLifecycle(s.metrics, metrics.LifecycleEvent{
		Component:  "reaper",
		Transition: "sweep",
		Result:     result,
		Duration:   elapsed,
		Err:        firstErr,
	})

	for _, o := range outcomes {
		s.emitCleanupOperationMetric(o.operation, o.count, o.err)
	}

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) emitCleanupOperationMetric(operation string, count int64, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}

	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)

	if err == nil && count > 0 {
		s.metrics.Count("reaper.tasks_purged", count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
