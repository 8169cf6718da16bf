package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/target/taskrelay/config"
	"github.com/target/taskrelay/internal/adapters/reaper"
	"github.com/target/taskrelay/internal/observability/statsd"
	"github.com/target/taskrelay/internal/service"
)

// ReaperConfig contains configuration for the archive reaper.
type ReaperConfig struct {
	DB       *sql.DB
	Logger   *slog.Logger
	Config   config.ReaperConfig
	Metrics  statsd.Sink
	Observer service.PurgeObserver
}

// NewReaperRunner builds the archive reaper runner.
func NewReaperRunner(cfg ReaperConfig) (*reaper.Runner, error) {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:       cfg.DB,
		Config:   cfg.Config,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
		Observer: cfg.Observer,
	})
	if err != nil {
		return nil, fmt.Errorf("create reaper runner: %w", err)
	}
	return runner, nil
}

// RunReaper runs the archive reaper until ctx is cancelled.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := NewReaperRunner(cfg)
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}
