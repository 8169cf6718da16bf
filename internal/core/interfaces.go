package core

import (
	"context"
	"time"

	"github.com/target/taskrelay/internal/domain/model"
)

// UpsertArchivedTaskParams groups parameters for TaskArchiveRepository.Upsert.
type UpsertArchivedTaskParams struct {
	Identity    model.JobIdentity
	Status      model.TaskStatus
	ErrorCode   string
	Result      []byte
	RawCallback []byte
}

// DeleteArchivedTasksParams bounds a single archive purge batch.
type DeleteArchivedTasksParams struct {
	OlderThan time.Duration
	BatchSize int
	// Statuses restricts the purge; empty matches every status.
	Statuses []model.TaskStatus
}

// ArchivePurger is the slice of the archive repository the reaper needs.
type ArchivePurger interface {
	DeleteOlderThan(ctx context.Context, params DeleteArchivedTasksParams) (int64, error)
}

// TaskArchiveRepository persists terminal task results beyond the cache TTL.
type TaskArchiveRepository interface {
	Upsert(ctx context.Context, params UpsertArchivedTaskParams) error
	Get(ctx context.Context, id model.JobIdentity) (*model.ArchivedTask, error)
	// MarkCleaned hides the row from result read-through while keeping it for replay.
	// A later Upsert clears the mark.
	MarkCleaned(ctx context.Context, id model.JobIdentity) (bool, error)
	// DeleteOlderThan removes up to BatchSize rows last updated before now-OlderThan
	// and returns the number of rows removed.
	DeleteOlderThan(ctx context.Context, params DeleteArchivedTasksParams) (int64, error)
	List(ctx context.Context, opts model.ArchiveListOptions) ([]*model.ArchivedTask, error)
}
