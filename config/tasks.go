package config

import (
	"strings"
	"time"
)

// TasksConfig tunes the result store, dispatcher and waiter.
type TasksConfig struct {
	// ResultTTL is how long a stored result (and its terminal marker) lives in Redis.
	ResultTTL time.Duration `env:"TASK_RESULT_TTL" envDefault:"24h"`

	// ProgressTTL is how long advisory progress text lives in Redis.
	ProgressTTL time.Duration `env:"TASK_PROGRESS_TTL" envDefault:"1h"`

	// PollInterval bounds how long a waiter sleeps between store reads when no signal arrives.
	PollInterval time.Duration `env:"TASK_POLL_INTERVAL" envDefault:"500ms"`

	// DefaultTimeout applies to awaits that do not name one.
	DefaultTimeout time.Duration `env:"TASK_DEFAULT_TIMEOUT" envDefault:"5m"`

	// MaxAwaitTimeout caps the timeout accepted by the HTTP await endpoint.
	MaxAwaitTimeout time.Duration `env:"TASK_MAX_AWAIT_TIMEOUT" envDefault:"10m"`

	// DuplicatePolicy is first-wins or last-wins.
	DuplicatePolicy string `env:"TASK_DUPLICATE_POLICY" envDefault:"first-wins"`

	// ArchiveEnabled mirrors terminal results into Postgres.
	ArchiveEnabled bool `env:"TASK_ARCHIVE_ENABLED" envDefault:"false"`

	// CallbackBodyLimit is the maximum accepted callback body size in bytes.
	CallbackBodyLimit int64 `env:"TASK_CALLBACK_BODY_LIMIT" envDefault:"1048576"`
}

// Sanitize applies guardrails to task configuration values.
func (t *TasksConfig) Sanitize() {
	if t.ResultTTL < time.Minute {
		t.ResultTTL = time.Minute
	}
	if t.ProgressTTL < time.Minute {
		t.ProgressTTL = time.Minute
	}
	if t.PollInterval < 10*time.Millisecond {
		t.PollInterval = 10 * time.Millisecond
	}
	if t.DefaultTimeout <= 0 {
		t.DefaultTimeout = 5 * time.Minute
	}
	if t.MaxAwaitTimeout < t.DefaultTimeout {
		t.MaxAwaitTimeout = t.DefaultTimeout
	}
	t.DuplicatePolicy = strings.ToLower(strings.TrimSpace(t.DuplicatePolicy))
	if t.CallbackBodyLimit <= 0 {
		t.CallbackBodyLimit = 1 << 20
	}
}
