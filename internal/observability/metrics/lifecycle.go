package metrics

import (
	"maps"
	"time"

	obserrors "github.com/target/taskrelay/internal/observability/errors"
	"github.com/target/taskrelay/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// LifecycleEvent describes one step of a background component (reaper sweep, migration, ...).
type LifecycleEvent struct {
	Component  string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitLifecycle counts the event and, when it has a duration, records its timing.
func EmitLifecycle(sink statsd.Sink, ev LifecycleEvent) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"component":  ev.Component,
		"transition": ev.Transition,
		"result":     ev.Result,
	}
	if ev.Err != nil && ev.Result == ResultError {
		if class := obserrors.Classify(ev.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("lifecycle.transition", 1, tags)
	if ev.Duration > 0 {
		sink.Timing("lifecycle.duration", ev.Duration, CloneTags(tags))
	}
}

// CloneTags returns a shallow copy of src, or nil when src is empty.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
