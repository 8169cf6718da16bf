package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/taskrelay/internal/domain/model"
	"github.com/target/taskrelay/internal/domain/task"
)

type countingSink struct {
	mu      sync.Mutex
	counts  map[string]int64
	timings map[string]time.Duration
	tags    map[string]map[string]string
}

func newCountingSink() *countingSink {
	return &countingSink{
		counts:  map[string]int64{},
		timings: map[string]time.Duration{},
		tags:    map[string]map[string]string{},
	}
}

func (s *countingSink) Count(name string, v int64, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[name] += v
	s.tags[name] = tags
}

func (s *countingSink) Gauge(string, float64, map[string]string) {}

func (s *countingSink) Timing(name string, v time.Duration, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timings[name] = v
	s.tags[name] = tags
}

func newTestMetrics(t *testing.T, sink *countingSink) *TaskMetrics {
	t.Helper()
	reg := prometheus.NewRegistry()
	opts := TaskMetricsOptions{Registerer: reg, Gatherer: reg}
	if sink != nil {
		opts.Sink = sink
	}
	m, err := NewTaskMetrics(opts)
	require.NoError(t, err)
	return m
}

func scrape(t *testing.T, m *TaskMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestTaskMetrics_Callbacks(t *testing.T) {
	sink := newCountingSink()
	m := newTestMetrics(t, sink)

	m.CallbackHandled(model.VendorLipSync, model.TaskStatusSuccess, task.OutcomeStored)
	m.CallbackHandled(model.VendorLipSync, model.TaskStatusSuccess, task.OutcomeStored)
	m.CallbackHandled(model.VendorLipSync, model.TaskStatusFailed, task.OutcomeConflict)

	body := scrape(t, m)
	assert.Contains(t, body, `taskrelay_callbacks_total{outcome="stored",status="SUCCESS",vendor="lip_sync"} 2`)
	assert.Contains(t, body, `taskrelay_callbacks_total{outcome="conflict",status="FAILED",vendor="lip_sync"} 1`)
	assert.EqualValues(t, 3, sink.counts["task.callback"])
	assert.Equal(t, "conflict", sink.tags["task.callback"]["outcome"])
}

func TestTaskMetrics_WaitsAndArchive(t *testing.T) {
	sink := newCountingSink()
	m := newTestMetrics(t, sink)

	m.WaitFinished(model.VendorVoiceTTS, model.TaskStatusTimeout, 3*time.Second)
	m.ArchivePurged(7)
	m.ArchivePurged(0)

	body := scrape(t, m)
	assert.Contains(t, body, `taskrelay_wait_duration_seconds_count{status="TIMEOUT",vendor="voice_tts"} 1`)
	assert.Contains(t, body, `taskrelay_archive_purged_total 7`)
	assert.Equal(t, 3*time.Second, sink.timings["task.wait"])
	assert.EqualValues(t, 7, sink.counts["task.archive.purged"])
}

func TestTaskMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewTaskMetrics(TaskMetricsOptions{Registerer: reg, Gatherer: reg})
	require.NoError(t, err)
	second, err := NewTaskMetrics(TaskMetricsOptions{Registerer: reg, Gatherer: reg})
	require.NoError(t, err)

	first.ArchivePurged(1)
	second.ArchivePurged(2)
	assert.Contains(t, scrape(t, first), `taskrelay_archive_purged_total 3`)
}

func TestTaskMetrics_Middleware(t *testing.T) {
	m := newTestMetrics(t, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tasks/{vendor}/{jobId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := m.Middleware(mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/lip_sync/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := scrape(t, m)
	assert.Contains(t, body,
		`taskrelay_http_requests_total{code="404",method="GET",route="GET /api/tasks/{vendor}/{jobId}"} 1`)
}

func TestEmitLifecycle(t *testing.T) {
	sink := newCountingSink()

	EmitLifecycle(sink, LifecycleEvent{
		Component:  "reaper",
		Transition: "purge_archive",
		Result:     ResultError,
		Duration:   time.Second,
		Err:        errors.New("boom"),
	})

	assert.EqualValues(t, 1, sink.counts["lifecycle.transition"])
	assert.Equal(t, time.Second, sink.timings["lifecycle.duration"])
	assert.Equal(t, "errors_errorstring", sink.tags["lifecycle.transition"]["error_class"])

	EmitLifecycle(nil, LifecycleEvent{})
	assert.Nil(t, CloneTags(nil))
}
