package model

import (
	"fmt"
	"strings"
)

// TaskStatus is the canonical, vendor-agnostic task state.
type TaskStatus string

const (
	// TaskStatusPending is written by InitTask before the vendor submission.
	TaskStatusPending TaskStatus = "PENDING"
	// TaskStatusProcessing is written by an interim vendor callback.
	TaskStatusProcessing TaskStatus = "PROCESSING"
	// TaskStatusSuccess is terminal: the vendor produced a result.
	TaskStatusSuccess TaskStatus = "SUCCESS"
	// TaskStatusFailed is terminal: the vendor or the conversion reported an error.
	TaskStatusFailed TaskStatus = "FAILED"
	// TaskStatusTimeout is caller-local: the waiter gave up, the store is not rewritten.
	TaskStatusTimeout TaskStatus = "TIMEOUT"
	// TaskStatusCancelled is terminal: the vendor reported a cancellation.
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// Valid returns true if s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusSuccess,
		TaskStatusFailed, TaskStatusTimeout, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is terminal in the store (SUCCESS, FAILED, CANCELLED).
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailed || s == TaskStatusCancelled
}

// IsFinal reports whether a waiting caller stops on s. TIMEOUT is final for the caller only.
func (s TaskStatus) IsFinal() bool {
	return s.IsTerminal() || s == TaskStatusTimeout
}

// ParseTaskStatus parses a canonical status name, case-insensitively.
func ParseTaskStatus(v string) (TaskStatus, error) {
	s := TaskStatus(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid task status: %q", v)
	}
	return s, nil
}

var taskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusPending: {
		TaskStatusPending:    true,
		TaskStatusProcessing: true,
		TaskStatusSuccess:    true,
		TaskStatusFailed:     true,
		TaskStatusCancelled:  true,
		TaskStatusTimeout:    true,
	},
	TaskStatusProcessing: {
		TaskStatusProcessing: true,
		TaskStatusSuccess:    true,
		TaskStatusFailed:     true,
		TaskStatusCancelled:  true,
		TaskStatusTimeout:    true,
	},
	TaskStatusSuccess:   {},
	TaskStatusFailed:    {},
	TaskStatusCancelled: {},
	TaskStatusTimeout:   {},
}

// CanTransition reports whether a stored status may move from -> to.
// A terminal status never regresses; repeating the same terminal status is an idempotent duplicate.
func CanTransition(from, to TaskStatus) bool {
	if from == "" {
		return to.Valid()
	}
	if from.IsTerminal() && from == to {
		return true
	}
	return taskTransitions[from][to]
}
