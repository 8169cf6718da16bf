package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/target/taskrelay/internal/domain/model"
)

var (
	// ErrDeadlineExceeded is returned by waiters when no terminal result arrived in time.
	// It wraps context.DeadlineExceeded.
	ErrDeadlineExceeded = fmt.Errorf("task wait deadline exceeded: %w", context.DeadlineExceeded)
	// ErrStoreRequired indicates a component was built without a ResultStore.
	ErrStoreRequired = errors.New("result store is required")
	// ErrUnknownEndpoint indicates no converter is registered for an endpoint.
	ErrUnknownEndpoint = errors.New("unknown callback endpoint")
	// ErrConverterConflict indicates two converters claim the same vendor.
	ErrConverterConflict = errors.New("converter already registered for vendor")
)

// StageError reports the pipeline stage that did not succeed and the result it ended with.
// Err is set when the stage failed before a result existed (submission or store errors).
type StageError struct {
	Stage  string
	Result model.TaskResult
	Err    error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
	msg := e.Result.ErrorMessage
	if msg == "" {
		msg = "no error message"
	}
	return fmt.Sprintf("stage %s: job %s ended %s: %s", e.Stage, e.Result.JobID, e.Result.Status, msg)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
