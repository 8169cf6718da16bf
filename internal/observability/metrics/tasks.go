// Package metrics exposes task and HTTP metrics to Prometheus and StatsD.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/target/taskrelay/internal/domain/model"
	"github.com/target/taskrelay/internal/domain/task"
	"github.com/target/taskrelay/internal/observability/statsd"
)

const namespace = "taskrelay"

// TaskMetricsOptions configure TaskMetrics.
type TaskMetricsOptions struct {
	// Sink receives StatsD copies of every observation; nil disables them.
	Sink statsd.Sink
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Gatherer serves /metrics; defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// TaskMetrics implements task.Metrics and records HTTP traffic.
type TaskMetrics struct {
	sink     statsd.Sink
	gatherer prometheus.Gatherer

	callbacks    *prometheus.CounterVec
	waits        *prometheus.HistogramVec
	archived     prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

var _ task.Metrics = (*TaskMetrics)(nil)

// NewTaskMetrics builds and registers the collectors. Collectors already registered with the
// same descriptor are reused.
func NewTaskMetrics(opts TaskMetricsOptions) (*TaskMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	sink := opts.Sink
	if sink == nil {
		sink = statsd.Discard
	}

	m := &TaskMetrics{sink: sink, gatherer: gatherer}

	var err error
	if m.callbacks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "callbacks_total",
		Help:      "Vendor callbacks handled, by vendor, normalized status and outcome.",
	}, []string{"vendor", "status", "outcome"})); err != nil {
		return nil, err
	}
	if m.waits, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "wait_duration_seconds",
		Help:      "Time callers spent waiting for a terminal result.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"vendor", "status"})); err != nil {
		return nil, err
	}
	if m.archived, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archive_purged_total",
		Help:      "Archived task rows removed by the reaper.",
	})); err != nil {
		return nil, err
	}
	if m.httpRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route pattern, method and status code.",
	}, []string{"route", "method", "code"})); err != nil {
		return nil, err
	}
	if m.httpLatency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// CallbackHandled counts one dispatched callback.
func (m *TaskMetrics) CallbackHandled(vendor model.Vendor, status model.TaskStatus, outcome string) {
	m.callbacks.WithLabelValues(string(vendor), string(status), outcome).Inc()
	m.sink.Count("task.callback", 1, map[string]string{
		"vendor":  string(vendor),
		"status":  string(status),
		"outcome": outcome,
	})
}

// WaitFinished observes how long a waiter blocked.
func (m *TaskMetrics) WaitFinished(vendor model.Vendor, status model.TaskStatus, elapsed time.Duration) {
	m.waits.WithLabelValues(string(vendor), string(status)).Observe(elapsed.Seconds())
	m.sink.Timing("task.wait", elapsed, map[string]string{
		"vendor": string(vendor),
		"status": string(status),
	})
}

// ArchivePurged counts rows deleted by an archive sweep.
func (m *TaskMetrics) ArchivePurged(n int64) {
	if n <= 0 {
		return
	}
	m.archived.Add(float64(n))
	m.sink.Count("task.archive.purged", n, nil)
}

// Sink returns the StatsD sink for lifecycle events.
func (m *TaskMetrics) Sink() statsd.Sink {
	return m.sink
}

// Handler serves the Prometheus exposition format.
func (m *TaskMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by the matched ServeMux pattern.
func (m *TaskMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.httpLatency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
