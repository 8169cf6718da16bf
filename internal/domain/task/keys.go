package task

import "github.com/target/taskrelay/internal/domain/model"

const (
	resultKeyPrefix   = "task:result:"
	progressKeyPrefix = "task:progress:"
	finalKeyPrefix    = "task:final:"
	signalKeyPrefix   = "task:signal:"
)

// The braces are a Redis Cluster hash tag: every key of one job lands in the same slot,
// which the guarded interim write relies on.
func suffix(id model.JobIdentity) string {
	return "{" + string(id.Vendor) + ":" + id.JobID + "}"
}

// ResultKey returns the store key holding the canonical result of id.
func ResultKey(id model.JobIdentity) string { return resultKeyPrefix + suffix(id) }

// ProgressKey returns the store key holding the advisory progress text of id.
func ProgressKey(id model.JobIdentity) string { return progressKeyPrefix + suffix(id) }

// FinalKey returns the marker claimed by the first terminal callback of id.
func FinalKey(id model.JobIdentity) string { return finalKeyPrefix + suffix(id) }

// SignalChannel returns the completion broadcast channel of id.
func SignalChannel(id model.JobIdentity) string { return signalKeyPrefix + suffix(id) }
