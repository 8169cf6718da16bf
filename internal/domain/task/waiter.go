package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/target/taskrelay/internal/domain/model"
)

// DefaultPollInterval is how often waiters re-read the store.
const DefaultPollInterval = 500 * time.Millisecond

// WaitOutcome is delivered by WaitAsync.
type WaitOutcome struct {
	Result model.TaskResult
	Err    error
}

// WaiterOptions configure a Waiter.
type WaiterOptions struct {
	Store        ResultStore
	Signal       Signal
	Metrics      Metrics
	Logger       *slog.Logger
	PollInterval time.Duration
}

// Waiter blocks until the store holds a terminal result for a job.
// The store is the source of truth; the optional Signal only shortens the sleep between reads.
type Waiter struct {
	store        ResultStore
	signal       Signal
	metrics      Metrics
	logger       *slog.Logger
	pollInterval time.Duration
}

// NewWaiter constructs a Waiter.
func NewWaiter(opts WaiterOptions) (*Waiter, error) {
	if opts.Store == nil {
		return nil, ErrStoreRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Waiter{
		store:        opts.Store,
		signal:       opts.Signal,
		metrics:      metrics,
		logger:       logger.With("component", "result_waiter"),
		pollInterval: interval,
	}, nil
}

// PollInterval returns the configured poll interval.
func (w *Waiter) PollInterval() time.Duration {
	return w.pollInterval
}

// Poll reads the current result of id without blocking.
func (w *Waiter) Poll(ctx context.Context, id model.JobIdentity) (model.TaskResult, bool, error) {
	return w.store.Get(ctx, id)
}

// IsCompleted reports whether id has a terminal result.
func (w *Waiter) IsCompleted(ctx context.Context, id model.JobIdentity) (bool, error) {
	res, found, err := w.store.Get(ctx, id)
	if err != nil || !found {
		return false, err
	}
	return res.Status.IsTerminal(), nil
}

// IsSuccess reports whether id completed successfully.
func (w *Waiter) IsSuccess(ctx context.Context, id model.JobIdentity) (bool, error) {
	res, found, err := w.store.Get(ctx, id)
	if err != nil || !found {
		return false, err
	}
	return res.IsSuccess(), nil
}

// WaitForCompletion re-reads the store every poll interval until id holds a terminal result.
// It returns ErrDeadlineExceeded once timeout elapses, ctx.Err() when the caller gives up first,
// and store errors as they occur.
func (w *Waiter) WaitForCompletion(
	ctx context.Context,
	id model.JobIdentity,
	timeout time.Duration,
) (model.TaskResult, error) {
	if err := id.Validate(); err != nil {
		return model.TaskResult{}, err
	}

	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	wake, unsubscribe := w.subscribe(ctx, id)
	defer unsubscribe()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		res, found, err := w.store.Get(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return model.TaskResult{}, ctx.Err()
			}
			return model.TaskResult{}, err
		}
		if found && res.Status.IsTerminal() {
			w.metrics.WaitFinished(id.Vendor, res.Status, time.Since(start))
			return res, nil
		}

		select {
		case <-ctx.Done():
			return model.TaskResult{}, ctx.Err()
		case <-deadline.C:
			w.metrics.WaitFinished(id.Vendor, model.TaskStatusTimeout, time.Since(start))
			return model.TaskResult{}, ErrDeadlineExceeded
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		}
	}
}

func (w *Waiter) subscribe(ctx context.Context, id model.JobIdentity) (<-chan struct{}, func()) {
	if w.signal == nil {
		return nil, func() {}
	}
	ch, cancel, err := w.signal.Subscribe(ctx, id)
	if err != nil {
		w.logger.DebugContext(ctx, "completion signal unavailable, polling only",
			"job_id", id.JobID,
			"vendor", id.Vendor,
			"error", err)
		return nil, func() {}
	}
	return ch, cancel
}

// WaitAsync runs WaitForCompletion in its own goroutine and delivers exactly one outcome.
func (w *Waiter) WaitAsync(ctx context.Context, id model.JobIdentity, timeout time.Duration) <-chan WaitOutcome {
	out := make(chan WaitOutcome, 1)
	go func() {
		defer close(out)
		res, err := w.WaitForCompletion(ctx, id, timeout)
		out <- WaitOutcome{Result: res, Err: err}
	}()
	return out
}
