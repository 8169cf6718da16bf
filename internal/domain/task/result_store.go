package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/taskrelay/internal/core"
	"github.com/target/taskrelay/internal/domain/model"
)

// Default retention for store slots.
const (
	DefaultResultTTL   = 24 * time.Hour
	DefaultProgressTTL = time.Hour
)

// ResultStore is the rendezvous between callback receivers and waiters.
// Implementations must be safe for concurrent use across processes; a write to a key replaces it.
type ResultStore interface {
	// Save overwrites the canonical result of id. A non-positive ttl selects the default.
	Save(ctx context.Context, id model.JobIdentity, result model.TaskResult, ttl time.Duration) error
	// Get returns the stored result; found is false when the slot is empty or expired.
	Get(ctx context.Context, id model.JobIdentity) (model.TaskResult, bool, error)
	// Delete removes every slot of id.
	Delete(ctx context.Context, id model.JobIdentity) error
	Exists(ctx context.Context, id model.JobIdentity) (bool, error)
	SaveProgress(ctx context.Context, id model.JobIdentity, text string) error
	GetProgress(ctx context.Context, id model.JobIdentity) (string, bool, error)
	// InitPending writes a PENDING placeholder unless a result is already present.
	InitPending(ctx context.Context, id model.JobIdentity, ttl time.Duration) (bool, error)
	// ClaimTerminal atomically records the first terminal status seen for id.
	ClaimTerminal(ctx context.Context, id model.JobIdentity, status model.TaskStatus, ttl time.Duration) (bool, error)
	// ClaimedStatus returns the status recorded by the claim holder, if any.
	ClaimedStatus(ctx context.Context, id model.JobIdentity) (model.TaskStatus, bool, error)
	// MarkTerminal records status as the terminal outcome of id, replacing any claim.
	MarkTerminal(ctx context.Context, id model.JobIdentity, status model.TaskStatus, ttl time.Duration) error
	// ReleaseTerminal drops a claim whose result could not be written.
	ReleaseTerminal(ctx context.Context, id model.JobIdentity) error
	// SaveInterim writes a non-terminal result unless a terminal status has been claimed.
	// The check and the write are atomic.
	SaveInterim(ctx context.Context, id model.JobIdentity, result model.TaskResult, ttl time.Duration) (bool, error)
}

// ResultStoreOptions configure a CacheResultStore.
type ResultStoreOptions struct {
	Cache       core.CacheRepository
	Archive     core.TaskArchiveRepository
	ResultTTL   time.Duration
	ProgressTTL time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
	// IsNotFound recognizes archive misses; defaults to never.
	IsNotFound func(error) bool
}

// CacheResultStore keeps task results in a core.CacheRepository and, when an archive is
// configured, mirrors terminal results into it and reads through to it on cache misses.
type CacheResultStore struct {
	cache       core.CacheRepository
	archive     core.TaskArchiveRepository
	resultTTL   time.Duration
	progressTTL time.Duration
	logger      *slog.Logger
	now         func() time.Time
	isNotFound  func(error) bool
}

// NewResultStore constructs a CacheResultStore.
func NewResultStore(opts ResultStoreOptions) (*CacheResultStore, error) {
	if opts.Cache == nil {
		return nil, ErrStoreRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resultTTL := opts.ResultTTL
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	progressTTL := opts.ProgressTTL
	if progressTTL <= 0 {
		progressTTL = DefaultProgressTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	isNotFound := opts.IsNotFound
	if isNotFound == nil {
		isNotFound = func(error) bool { return false }
	}

	return &CacheResultStore{
		cache:       opts.Cache,
		archive:     opts.Archive,
		resultTTL:   resultTTL,
		progressTTL: progressTTL,
		logger:      logger.With("component", "result_store"),
		now:         now,
		isNotFound:  isNotFound,
	}, nil
}

// Save serializes result and overwrites the result slot of id.
// Terminal results are mirrored to the archive; archive failures are logged only.
func (s *CacheResultStore) Save(
	ctx context.Context,
	id model.JobIdentity,
	result model.TaskResult,
	ttl time.Duration,
) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.resultTTL
	}
	result.JobID = id.JobID
	result.Vendor = id.Vendor
	if result.CallbackTime.IsZero() {
		result.CallbackTime = s.now()
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}
	if setErr := s.cache.Set(ctx, ResultKey(id), payload, ttl); setErr != nil {
		return fmt.Errorf("save task result: %w", setErr)
	}

	if result.Status.IsTerminal() {
		s.archiveResult(ctx, result, payload)
	}
	return nil
}

func (s *CacheResultStore) archiveResult(ctx context.Context, result model.TaskResult, payload []byte) {
	if s.archive == nil {
		return
	}
	err := s.archive.Upsert(ctx, core.UpsertArchivedTaskParams{
		Identity:    result.Identity(),
		Status:      result.Status,
		ErrorCode:   result.ErrorCode,
		Result:      payload,
		RawCallback: result.RawCallback,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to archive task result",
			"job_id", result.JobID,
			"vendor", result.Vendor,
			"error", err)
	}
}

// Get returns the result of id from the cache, falling back to the archive.
func (s *CacheResultStore) Get(ctx context.Context, id model.JobIdentity) (model.TaskResult, bool, error) {
	if err := id.Validate(); err != nil {
		return model.TaskResult{}, false, err
	}

	payload, err := s.cache.Get(ctx, ResultKey(id))
	if err != nil {
		return model.TaskResult{}, false, fmt.Errorf("get task result: %w", err)
	}
	if payload != nil {
		var res model.TaskResult
		if unmarshalErr := json.Unmarshal(payload, &res); unmarshalErr != nil {
			return model.TaskResult{}, false, fmt.Errorf("unmarshal task result: %w", unmarshalErr)
		}
		return res, true, nil
	}
	return s.getFromArchive(ctx, id)
}

func (s *CacheResultStore) getFromArchive(ctx context.Context, id model.JobIdentity) (model.TaskResult, bool, error) {
	if s.archive == nil {
		return model.TaskResult{}, false, nil
	}
	record, err := s.archive.Get(ctx, id)
	if err != nil {
		if s.isNotFound(err) {
			return model.TaskResult{}, false, nil
		}
		return model.TaskResult{}, false, fmt.Errorf("get archived task: %w", err)
	}
	if record == nil || record.CleanedAt != nil {
		return model.TaskResult{}, false, nil
	}
	res, err := record.TaskResult()
	if err != nil {
		s.logger.WarnContext(ctx, "failed to unmarshal archived task result",
			"job_id", id.JobID,
			"vendor", id.Vendor,
			"error", err)
		return model.TaskResult{}, false, nil
	}
	return res, true, nil
}

// Delete removes the result, progress and claim marker of id. The archive row is only
// marked cleaned so replay keeps working until the reaper purges it.
func (s *CacheResultStore) Delete(ctx context.Context, id model.JobIdentity) error {
	if err := id.Validate(); err != nil {
		return err
	}

	var errs []error
	for _, key := range []string{ResultKey(id), ProgressKey(id), FinalKey(id)} {
		if _, err := s.cache.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	if s.archive != nil {
		if _, err := s.archive.MarkCleaned(ctx, id); err != nil && !s.isNotFound(err) {
			errs = append(errs, fmt.Errorf("mark archived task cleaned: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Exists reports whether a result is stored for id.
func (s *CacheResultStore) Exists(ctx context.Context, id model.JobIdentity) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	ok, err := s.cache.Exists(ctx, ResultKey(id))
	if err != nil {
		return false, fmt.Errorf("check task result: %w", err)
	}
	if ok || s.archive == nil {
		return ok, nil
	}
	_, found, err := s.getFromArchive(ctx, id)
	return found, err
}

// SaveProgress overwrites the advisory progress text of id.
func (s *CacheResultStore) SaveProgress(ctx context.Context, id model.JobIdentity, text string) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, ProgressKey(id), []byte(text), s.progressTTL); err != nil {
		return fmt.Errorf("save task progress: %w", err)
	}
	return nil
}

// GetProgress returns the advisory progress text of id.
func (s *CacheResultStore) GetProgress(ctx context.Context, id model.JobIdentity) (string, bool, error) {
	if err := id.Validate(); err != nil {
		return "", false, err
	}
	payload, err := s.cache.Get(ctx, ProgressKey(id))
	if err != nil {
		return "", false, fmt.Errorf("get task progress: %w", err)
	}
	if payload == nil {
		return "", false, nil
	}
	return string(payload), true, nil
}

// InitPending writes a PENDING placeholder with SET NX so a callback that beat the
// submission is never overwritten.
func (s *CacheResultStore) InitPending(ctx context.Context, id model.JobIdentity, ttl time.Duration) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = s.resultTTL
	}
	payload, err := json.Marshal(model.NewPendingResult(id, s.now()))
	if err != nil {
		return false, fmt.Errorf("marshal pending result: %w", err)
	}
	created, err := s.cache.SetIfNotExists(ctx, ResultKey(id), payload, ttl)
	if err != nil {
		return false, fmt.Errorf("init pending result: %w", err)
	}
	return created, nil
}

// ClaimTerminal records status as the first terminal outcome of id.
func (s *CacheResultStore) ClaimTerminal(
	ctx context.Context,
	id model.JobIdentity,
	status model.TaskStatus,
	ttl time.Duration,
) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = s.resultTTL
	}
	claimed, err := s.cache.SetIfNotExists(ctx, FinalKey(id), []byte(status), ttl)
	if err != nil {
		return false, fmt.Errorf("claim terminal status: %w", err)
	}
	return claimed, nil
}

// ClaimedStatus reads back the claim marker of id.
func (s *CacheResultStore) ClaimedStatus(ctx context.Context, id model.JobIdentity) (model.TaskStatus, bool, error) {
	if err := id.Validate(); err != nil {
		return "", false, err
	}
	payload, err := s.cache.Get(ctx, FinalKey(id))
	if err != nil {
		return "", false, fmt.Errorf("read terminal claim: %w", err)
	}
	if payload == nil {
		return "", false, nil
	}
	return model.TaskStatus(payload), true, nil
}

// MarkTerminal overwrites the claim marker of id with status.
func (s *CacheResultStore) MarkTerminal(
	ctx context.Context,
	id model.JobIdentity,
	status model.TaskStatus,
	ttl time.Duration,
) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.resultTTL
	}
	if err := s.cache.Set(ctx, FinalKey(id), []byte(status), ttl); err != nil {
		return fmt.Errorf("mark terminal status: %w", err)
	}
	return nil
}

// SaveInterim writes result to the result slot of id unless the claim marker is present.
// Terminal results are rejected; they go through Save after a claim.
func (s *CacheResultStore) SaveInterim(
	ctx context.Context,
	id model.JobIdentity,
	result model.TaskResult,
	ttl time.Duration,
) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	if result.Status.IsTerminal() {
		return false, fmt.Errorf("interim save of terminal status %s", result.Status)
	}
	if ttl <= 0 {
		ttl = s.resultTTL
	}
	result.JobID = id.JobID
	result.Vendor = id.Vendor
	if result.CallbackTime.IsZero() {
		result.CallbackTime = s.now()
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshal task result: %w", err)
	}
	written, err := s.cache.SetUnlessGuarded(ctx, ResultKey(id), FinalKey(id), payload, ttl)
	if err != nil {
		return false, fmt.Errorf("save interim task result: %w", err)
	}
	return written, nil
}

// ReleaseTerminal removes the claim marker of id.
func (s *CacheResultStore) ReleaseTerminal(ctx context.Context, id model.JobIdentity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if _, err := s.cache.Delete(ctx, FinalKey(id)); err != nil {
		return fmt.Errorf("release terminal claim: %w", err)
	}
	return nil
}

var _ ResultStore = (*CacheResultStore)(nil)
