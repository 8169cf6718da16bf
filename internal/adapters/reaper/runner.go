// Package reaper adapts the archive reaper service to the process lifecycle.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/taskrelay/config"
	"github.com/target/taskrelay/internal/core"
	"github.com/target/taskrelay/internal/data"
	"github.com/target/taskrelay/internal/observability/statsd"
	"github.com/target/taskrelay/internal/service"
)

// ErrNoArchive is returned when neither a database nor a purger was supplied.
var ErrNoArchive = errors.New("reaper needs a task archive: database connection is required")

// Runner owns one ReaperService.
type Runner struct {
	svc    *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner. Repo, when set, is used
// instead of a Postgres archive built from DB.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.ReaperConfig
	Logger *slog.Logger

	Repo     core.ArchivePurger
	Metrics  statsd.Sink
	Observer service.PurgeObserver
}

// NewRunner creates a runner over the configured archive.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	repo := opts.Repo
	if repo == nil {
		if opts.DB == nil {
			return nil, ErrNoArchive
		}
		repo = data.NewTaskArchiveRepo(data.TaskArchiveRepoOptions{DB: opts.DB})
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reaper_runner")

	svc, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:     repo,
		Config:   opts.Config,
		Logger:   logger,
		Metrics:  opts.Metrics,
		Observer: opts.Observer,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}
	return &Runner{svc: svc, logger: logger}, nil
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.svc.Run(ctx)
}

// RunOnce performs a single sweep and returns the number of archived tasks removed.
func (r *Runner) RunOnce(ctx context.Context) (int64, error) {
	purged, err := r.svc.Sweep(ctx)
	if err != nil {
		return purged, err
	}
	r.logger.InfoContext(ctx, "reaper sweep finished", "purged", purged)
	return purged, nil
}
