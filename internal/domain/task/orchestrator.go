package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/taskrelay/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

// DefaultAwaitTimeout bounds Await when the caller passes no timeout.
const DefaultAwaitTimeout = 5 * time.Minute

// OrchestratorOptions configure an Orchestrator.
type OrchestratorOptions struct {
	Store          ResultStore
	Waiter         *Waiter
	Logger         *slog.Logger
	DefaultTimeout time.Duration
	// PendingTTL bounds how long an unanswered placeholder lives; defaults to the store's result TTL.
	PendingTTL time.Duration
	Now        func() time.Time
}

// Orchestrator is the workflow-facing facade over the store and the waiter.
type Orchestrator struct {
	store          ResultStore
	waiter         *Waiter
	logger         *slog.Logger
	defaultTimeout time.Duration
	pendingTTL     time.Duration
	now            func() time.Time
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, ErrStoreRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	waiter := opts.Waiter
	if waiter == nil {
		w, err := NewWaiter(WaiterOptions{Store: opts.Store, Logger: logger})
		if err != nil {
			return nil, err
		}
		waiter = w
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		store:          opts.Store,
		waiter:         waiter,
		logger:         logger.With("component", "orchestrator"),
		defaultTimeout: timeout,
		pendingTTL:     opts.PendingTTL,
		now:            now,
	}, nil
}

// InitTask writes the PENDING placeholder for id. Call it before submitting the job so a
// callback racing ahead of the submission response is never lost; an existing entry is kept.
func (o *Orchestrator) InitTask(ctx context.Context, id model.JobIdentity) error {
	created, err := o.store.InitPending(ctx, id, o.pendingTTL)
	if err != nil {
		return fmt.Errorf("init task %s: %w", id, err)
	}
	if !created {
		o.logger.InfoContext(ctx, "task already has a result, keeping it",
			"job_id", id.JobID,
			"vendor", id.Vendor)
	}
	return nil
}

// Await blocks until id is terminal. An elapsed timeout yields a TIMEOUT result and a nil error;
// only store failures and caller cancellation are returned as errors.
func (o *Orchestrator) Await(ctx context.Context, id model.JobIdentity, timeout time.Duration) (model.TaskResult, error) {
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}
	res, err := o.waiter.WaitForCompletion(ctx, id, timeout)
	if errors.Is(err, ErrDeadlineExceeded) {
		o.logger.WarnContext(ctx, "task wait timed out",
			"job_id", id.JobID,
			"vendor", id.Vendor,
			"timeout", timeout)
		return model.NewTimeoutResult(id, o.now()), nil
	}
	if err != nil {
		return model.TaskResult{}, err
	}
	return res, nil
}

// AwaitWithCallback awaits id in its own goroutine and runs onSuccess for SUCCESS or onFailure
// for FAILED, CANCELLED, TIMEOUT and store errors. The returned channel closes once the
// continuation returned, or without running one if ctx was cancelled.
func (o *Orchestrator) AwaitWithCallback(
	ctx context.Context,
	id model.JobIdentity,
	timeout time.Duration,
	onSuccess func(model.TaskResult),
	onFailure func(model.TaskResult),
) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := o.Await(ctx, id, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			res = model.TaskResult{
				JobID:        id.JobID,
				Vendor:       id.Vendor,
				Status:       model.TaskStatusFailed,
				ErrorCode:    model.ErrorCodeWaitFailed,
				ErrorMessage: err.Error(),
				CallbackTime: o.now(),
			}
		}
		if res.IsSuccess() {
			if onSuccess != nil {
				onSuccess(res)
			}
			return
		}
		if onFailure != nil {
			onFailure(res)
		}
	}()
	return done
}

// Check returns the current result of id without blocking.
func (o *Orchestrator) Check(ctx context.Context, id model.JobIdentity) (model.TaskResult, bool, error) {
	return o.waiter.Poll(ctx, id)
}

// Progress returns the advisory progress text of id.
func (o *Orchestrator) Progress(ctx context.Context, id model.JobIdentity) (string, bool, error) {
	return o.store.GetProgress(ctx, id)
}

// CleanupTask removes every trace of id once its result was consumed.
func (o *Orchestrator) CleanupTask(ctx context.Context, id model.JobIdentity) error {
	if err := o.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("cleanup task %s: %w", id, err)
	}
	return nil
}

// AwaitAll awaits independent jobs concurrently. Results are returned in ids order;
// the first store error cancels the remaining waits.
func (o *Orchestrator) AwaitAll(
	ctx context.Context,
	ids []model.JobIdentity,
	timeout time.Duration,
) ([]model.TaskResult, error) {
	results := make([]model.TaskResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			res, err := o.Await(gctx, id, timeout)
			if err != nil {
				return fmt.Errorf("await %s: %w", id, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Waiter exposes the underlying waiter for non-blocking variants.
func (o *Orchestrator) Waiter() *Waiter {
	return o.waiter
}
