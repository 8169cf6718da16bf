package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/target/taskrelay/internal/domain/model"
)

// DuplicatePolicy decides what happens when a second terminal callback arrives for a job.
type DuplicatePolicy string

const (
	// DuplicateFirstWins keeps the first terminal result; later different outcomes are dropped.
	DuplicateFirstWins DuplicatePolicy = "first-wins"
	// DuplicateLastWins overwrites terminal results with later terminal callbacks. A vendor
	// retry carrying a stale outcome can then replace the real one.
	DuplicateLastWins DuplicatePolicy = "last-wins"
)

// ErrInvalidDuplicatePolicy is returned for unknown policy names.
var ErrInvalidDuplicatePolicy = errors.New("invalid duplicate policy")

// ParseDuplicatePolicy parses a policy name; empty selects first-wins.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DuplicateFirstWins, nil
	case DuplicateFirstWins, DuplicateLastWins:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDuplicatePolicy, s)
	}
}

// DispatcherOptions configure a Dispatcher.
type DispatcherOptions struct {
	Registry  *Registry
	Store     ResultStore
	Signal    Signal
	Metrics   Metrics
	Logger    *slog.Logger
	Policy    DuplicatePolicy
	ResultTTL time.Duration
	Now       func() time.Time
}

// Dispatcher receives raw vendor callbacks, normalizes them and writes them to the store.
// Nothing on the callback path returns an error: vendors must always be acknowledged.
type Dispatcher struct {
	registry  *Registry
	store     ResultStore
	signal    Signal
	metrics   Metrics
	logger    *slog.Logger
	policy    DuplicatePolicy
	resultTTL time.Duration
	now       func() time.Time
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Store == nil {
		return nil, ErrStoreRequired
	}
	if opts.Registry == nil {
		return nil, errors.New("converter registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	policy := opts.Policy
	if policy == "" {
		policy = DuplicateFirstWins
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		registry:  opts.Registry,
		store:     opts.Store,
		signal:    opts.Signal,
		metrics:   metrics,
		logger:    logger.With("component", "callback_dispatcher"),
		policy:    policy,
		resultTTL: opts.ResultTTL,
		now:       now,
	}, nil
}

// Handle converts raw with the converter serving endpoint and persists the result when it can be
// attributed to a job. The normalized result is returned whether or not it was stored.
func (d *Dispatcher) Handle(ctx context.Context, endpoint string, raw []byte) model.TaskResult {
	conv, ok := d.registry.Resolve(endpoint, raw)
	if !ok {
		res := model.NewConversionFailure("", raw, nil, d.now())
		res.ErrorCode = model.ErrorCodeUnknownVendor
		res.ErrorMessage = "no converter matches the callback's vendor tag"
		d.logger.WarnContext(ctx, "dropping callback with unidentifiable vendor",
			"endpoint", endpoint,
			"bytes", len(raw))
		d.metrics.CallbackHandled("", res.Status, OutcomeUnidentified)
		return res
	}

	res := conv.Convert(raw)
	if res.JobID == "" {
		d.logger.WarnContext(ctx, "dropping callback without job id",
			"endpoint", endpoint,
			"vendor", res.Vendor,
			"status", res.Status,
			"error_code", res.ErrorCode)
		d.metrics.CallbackHandled(res.Vendor, res.Status, OutcomeMissingJobID)
		return res
	}

	outcome, err := d.persist(ctx, res)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to persist callback result",
			"job_id", res.JobID,
			"vendor", res.Vendor,
			"status", res.Status,
			"error", err)
	} else {
		d.logger.InfoContext(ctx, "callback handled",
			"job_id", res.JobID,
			"vendor", res.Vendor,
			"status", res.Status,
			"outcome", outcome)
	}
	d.metrics.CallbackHandled(res.Vendor, res.Status, outcome)

	if outcome == OutcomeStored && res.Status.IsTerminal() {
		d.publish(ctx, res.Identity())
	}
	return res
}

func (d *Dispatcher) persist(ctx context.Context, res model.TaskResult) (string, error) {
	if !res.Status.IsTerminal() {
		return d.persistInterim(ctx, res)
	}
	if d.policy == DuplicateLastWins {
		return d.persistLastWins(ctx, res)
	}
	return d.persistFirstWins(ctx, res)
}

func (d *Dispatcher) persistFirstWins(ctx context.Context, res model.TaskResult) (string, error) {
	id := res.Identity()
	claimed, holder, err := d.claim(ctx, res)
	if err != nil {
		return OutcomeStoreError, err
	}
	if !claimed {
		if holder != "" && holder != res.Status {
			d.logger.WarnContext(ctx, "ignoring terminal callback that contradicts claimed result",
				"job_id", id.JobID,
				"vendor", id.Vendor,
				"claimed_status", holder,
				"incoming_status", res.Status)
			return OutcomeConflict, nil
		}
		current, found, getErr := d.store.Get(ctx, id)
		if getErr != nil {
			return OutcomeStoreError, getErr
		}
		if found && current.Status.IsTerminal() {
			if current.SameOutcome(res) {
				return OutcomeDuplicate, nil
			}
			d.logger.WarnContext(ctx, "ignoring terminal callback that contradicts stored result",
				"job_id", id.JobID,
				"vendor", id.Vendor,
				"stored_status", current.Status,
				"incoming_status", res.Status)
			return OutcomeConflict, nil
		}
		// Same status as the claim holder, which has not written yet. Both writes agree.
	}

	if err := d.store.Save(ctx, id, res, d.resultTTL); err != nil {
		if claimed {
			if relErr := d.store.ReleaseTerminal(ctx, id); relErr != nil {
				err = errors.Join(err, relErr)
			}
		}
		return OutcomeStoreError, err
	}
	return OutcomeStored, nil
}

// claim takes the terminal marker for res. When another callback holds it, the holder's
// status is returned. A marker released between the attempt and the read-back is retried once.
func (d *Dispatcher) claim(ctx context.Context, res model.TaskResult) (bool, model.TaskStatus, error) {
	id := res.Identity()
	for range 2 {
		claimed, err := d.store.ClaimTerminal(ctx, id, res.Status, d.resultTTL)
		if err != nil || claimed {
			return claimed, "", err
		}
		holder, held, err := d.store.ClaimedStatus(ctx, id)
		if err != nil {
			return false, "", err
		}
		if held {
			return false, holder, nil
		}
	}
	return false, "", nil
}

// persistInterim writes PENDING/PROCESSING updates unless the stored status is already further
// along. The write itself is refused by the store once a terminal status is claimed.
func (d *Dispatcher) persistInterim(ctx context.Context, res model.TaskResult) (string, error) {
	id := res.Identity()
	current, found, err := d.store.Get(ctx, id)
	if err != nil {
		return OutcomeStoreError, err
	}
	if found && !model.CanTransition(current.Status, res.Status) {
		return OutcomeStale, nil
	}
	written, err := d.store.SaveInterim(ctx, id, res, d.resultTTL)
	if err != nil {
		return OutcomeStoreError, err
	}
	if !written {
		return OutcomeStale, nil
	}
	return OutcomeStored, nil
}

func (d *Dispatcher) persistLastWins(ctx context.Context, res model.TaskResult) (string, error) {
	id := res.Identity()
	current, found, err := d.store.Get(ctx, id)
	if err != nil {
		return OutcomeStoreError, err
	}
	hadTerminal := found && current.Status.IsTerminal()
	if hadTerminal && !current.SameOutcome(res) {
		d.logger.WarnContext(ctx, "overwriting terminal result with a different outcome",
			"job_id", id.JobID,
			"vendor", id.Vendor,
			"stored_status", current.Status,
			"incoming_status", res.Status)
	}
	// The marker goes first so interim writes racing this one are refused.
	if err := d.store.MarkTerminal(ctx, id, res.Status, d.resultTTL); err != nil {
		return OutcomeStoreError, err
	}
	if err := d.store.Save(ctx, id, res, d.resultTTL); err != nil {
		if !hadTerminal {
			if relErr := d.store.ReleaseTerminal(ctx, id); relErr != nil {
				err = errors.Join(err, relErr)
			}
		}
		return OutcomeStoreError, err
	}
	return OutcomeStored, nil
}

func (d *Dispatcher) publish(ctx context.Context, id model.JobIdentity) {
	if d.signal == nil {
		return
	}
	if err := d.signal.Publish(ctx, id); err != nil {
		d.logger.DebugContext(ctx, "completion signal not delivered",
			"job_id", id.JobID,
			"vendor", id.Vendor,
			"error", err)
	}
}

// HandleProgress records advisory progress text for id. It never touches the result slot.
// It reports whether the text was stored.
func (d *Dispatcher) HandleProgress(ctx context.Context, id model.JobIdentity, text string) bool {
	if err := id.Validate(); err != nil {
		d.logger.WarnContext(ctx, "dropping progress update", "job_id", id.JobID, "vendor", id.Vendor, "error", err)
		return false
	}
	if err := d.store.SaveProgress(ctx, id, text); err != nil {
		d.logger.ErrorContext(ctx, "failed to save progress", "job_id", id.JobID, "vendor", id.Vendor, "error", err)
		return false
	}
	return true
}
