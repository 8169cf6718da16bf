package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/target/taskrelay/internal/core"
	"github.com/target/taskrelay/internal/data/pgxutil"
	"github.com/target/taskrelay/internal/domain/model"
	apperrors "github.com/target/taskrelay/internal/errors"
)

// Advisory lock keys for archive maintenance; major 2000 is reserved for taskrelay.
const (
	advisoryLockArchiveMajor = 2000
	advisoryLockArchivePurge = 1
)

const defaultArchiveListLimit = 50

// TaskArchiveRepo persists terminal task results in Postgres.
type TaskArchiveRepo struct {
	DB  *sql.DB
	now func() time.Time
}

// TaskArchiveRepoOptions configures a TaskArchiveRepo.
type TaskArchiveRepoOptions struct {
	DB *sql.DB
	// Now is the clock used for retention cutoffs; defaults to time.Now.
	Now func() time.Time
}

// NewTaskArchiveRepo constructs a TaskArchiveRepo.
func NewTaskArchiveRepo(opts TaskArchiveRepoOptions) *TaskArchiveRepo {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &TaskArchiveRepo{DB: opts.DB, now: now}
}

// Upsert stores or replaces the archived result for a job identity.
func (r *TaskArchiveRepo) Upsert(ctx context.Context, params core.UpsertArchivedTaskParams) error {
	if r == nil || r.DB == nil {
		return ErrArchiveNotConfigured
	}
	if params.Identity.JobID == "" {
		return ErrJobIDRequired
	}

	const query = `
		INSERT INTO task_archive (job_id, vendor, status, error_code, result, raw_callback, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (vendor, job_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			error_code = EXCLUDED.error_code,
			result = EXCLUDED.result,
			raw_callback = EXCLUDED.raw_callback,
			updated_at = now(),
			cleaned_at = NULL;`

	_, err := r.DB.ExecContext(ctx, query,
		params.Identity.JobID,
		params.Identity.Vendor,
		params.Status,
		params.ErrorCode,
		jsonOrNull(params.Result),
		jsonOrNull(params.RawCallback),
	)
	if err != nil {
		return fmt.Errorf("upsert task_archive: %w", apperrors.MapDBError(err))
	}
	return nil
}

// Get returns the archived result for a job identity.
func (r *TaskArchiveRepo) Get(ctx context.Context, id model.JobIdentity) (*model.ArchivedTask, error) {
	if r == nil || r.DB == nil {
		return nil, ErrArchiveNotConfigured
	}
	if id.JobID == "" {
		return nil, ErrJobIDRequired
	}

	const query = `
		SELECT job_id, vendor, status, error_code, result, COALESCE(raw_callback, 'null'::jsonb) AS raw_callback,
			created_at, updated_at, cleaned_at
		FROM task_archive
		WHERE vendor = $1 AND job_id = $2`

	var out *model.ArchivedTask
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, string(id.Vendor), id.JobID)
		if err != nil {
			return err
		}
		defer rows.Close()
		row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.ArchivedTask])
		if err != nil {
			return err
		}
		out = &row
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrArchivedTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task_archive: %w", err)
	}
	return out, nil
}

// MarkCleaned stamps cleaned_at on the archived result of a job identity. Rows already
// marked keep their original timestamp. The row itself is left for the reaper.
func (r *TaskArchiveRepo) MarkCleaned(ctx context.Context, id model.JobIdentity) (bool, error) {
	if r == nil || r.DB == nil {
		return false, ErrArchiveNotConfigured
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE task_archive SET cleaned_at = $3 WHERE vendor = $1 AND job_id = $2 AND cleaned_at IS NULL`,
		string(id.Vendor), id.JobID, r.now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("mark task_archive cleaned: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteOlderThan purges one batch of archive rows last updated before the cutoff.
// Concurrent reapers skip the batch when another instance holds the advisory lock.
func (r *TaskArchiveRepo) DeleteOlderThan(ctx context.Context, params core.DeleteArchivedTasksParams) (int64, error) {
	if r == nil || r.DB == nil {
		return 0, ErrArchiveNotConfigured
	}
	if params.OlderThan <= 0 || params.BatchSize <= 0 {
		return 0, nil
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockArchiveMajor, advisoryLockArchivePurge).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			cutoff := r.now().Add(-params.OlderThan).UTC()
			res, err := tx.ExecContext(ctx, `
				DELETE FROM task_archive
				WHERE (vendor, job_id) IN (
					SELECT vendor, job_id FROM task_archive
					WHERE updated_at < $1
					  AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
					ORDER BY updated_at
					LIMIT $2
				)
			`, cutoff, params.BatchSize, statusStrings(params.Statuses))
			if err != nil {
				return fmt.Errorf("purge task_archive: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// List returns archived tasks, newest first.
func (r *TaskArchiveRepo) List(ctx context.Context, opts model.ArchiveListOptions) ([]*model.ArchivedTask, error) {
	if r == nil || r.DB == nil {
		return nil, ErrArchiveNotConfigured
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultArchiveListLimit
	}

	const query = `
		SELECT job_id, vendor, status, error_code, result, COALESCE(raw_callback, 'null'::jsonb) AS raw_callback,
			created_at, updated_at, cleaned_at
		FROM task_archive
		WHERE ($1 = '' OR vendor = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY updated_at DESC
		LIMIT $3 OFFSET $4`

	var out []*model.ArchivedTask
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, string(opts.Vendor), string(opts.Status), limit, max(opts.Offset, 0))
		if err != nil {
			return err
		}
		defer rows.Close()
		collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.ArchivedTask])
		if err != nil {
			return err
		}
		for i := range collected {
			out = append(out, &collected[i])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list task_archive: %w", err)
	}
	return out, nil
}

func jsonOrNull(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func statusStrings(statuses []model.TaskStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
