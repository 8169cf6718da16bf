package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	ErrArchiveNotConfigured = errors.New("task archive repository not configured")
	ErrArchivedTaskNotFound = errors.New("archived task not found")
	ErrJobIDRequired        = errors.New("job_id is required")
)
