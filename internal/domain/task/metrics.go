package task

import (
	"time"

	"github.com/target/taskrelay/internal/domain/model"
)

// Callback outcomes reported to Metrics.
const (
	OutcomeStored       = "stored"
	OutcomeDuplicate    = "duplicate"
	OutcomeConflict     = "conflict"
	OutcomeStale        = "stale"
	OutcomeUnidentified = "unidentified"
	OutcomeMissingJobID = "missing_job_id"
	OutcomeStoreError   = "store_error"
)

// Metrics receives task lifecycle observations.
type Metrics interface {
	CallbackHandled(vendor model.Vendor, status model.TaskStatus, outcome string)
	WaitFinished(vendor model.Vendor, status model.TaskStatus, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) CallbackHandled(model.Vendor, model.TaskStatus, string)      {}
func (nopMetrics) WaitFinished(model.Vendor, model.TaskStatus, time.Duration) {}
