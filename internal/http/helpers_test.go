package httpx

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/target/taskrelay/internal/domain/model"
	"github.com/target/taskrelay/internal/domain/task"
	"github.com/target/taskrelay/internal/testutil"
)

type testServer struct {
	cache    *testutil.MemoryCache
	orch     *task.Orchestrator
	registry *task.Registry
	handler  http.Handler
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, mutate ...func(*RouterServices)) *testServer {
	t.Helper()

	cache := testutil.NewMemoryCache()
	store, err := task.NewResultStore(task.ResultStoreOptions{Cache: cache})
	require.NoError(t, err)
	registry, err := task.NewDefaultRegistry(task.ConverterOptions{}, nil)
	require.NoError(t, err)
	signal := task.NewLocalSignal()
	dispatcher, err := task.NewDispatcher(task.DispatcherOptions{Registry: registry, Store: store, Signal: signal})
	require.NoError(t, err)
	waiter, err := task.NewWaiter(task.WaiterOptions{Store: store, Signal: signal, PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	orch, err := task.NewOrchestrator(task.OrchestratorOptions{Store: store, Waiter: waiter, DefaultTimeout: time.Second})
	require.NoError(t, err)

	services := RouterServices{
		Dispatcher:      dispatcher,
		Orchestrator:    orch,
		Registry:        registry,
		Readiness:       cache,
		MaxAwaitTimeout: 2 * time.Second,
		Logger:          discardLogger(),
	}
	for _, m := range mutate {
		m(&services)
	}

	return &testServer{
		cache:    cache,
		orch:     orch,
		registry: registry,
		handler:  NewRouter(services),
	}
}

func (s *testServer) do(method, target, contentType, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func lipSyncDone(jobID string) string {
	return string(testutil.NewMediaCallback(jobID, model.VendorLipSync).
		WithOutput("video_url", "https://cdn.example.com/"+jobID+".mp4").
		Build())
}
