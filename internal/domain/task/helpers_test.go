package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/target/taskrelay/internal/domain/model"
	"github.com/target/taskrelay/internal/testutil"
)

const testPollInterval = 20 * time.Millisecond

type testEngine struct {
	cache      *testutil.MemoryCache
	store      *CacheResultStore
	signal     *LocalSignal
	registry   *Registry
	dispatcher *Dispatcher
	waiter     *Waiter
	orch       *Orchestrator
}

type engineOption func(*DispatcherOptions)

func withPolicy(p DuplicatePolicy) engineOption {
	return func(o *DispatcherOptions) { o.Policy = p }
}

func newTestEngine(t *testing.T, opts ...engineOption) *testEngine {
	t.Helper()

	cache := testutil.NewMemoryCache()
	store, err := NewResultStore(ResultStoreOptions{Cache: cache})
	require.NoError(t, err)

	registry, err := NewDefaultRegistry(ConverterOptions{}, nil)
	require.NoError(t, err)

	signal := NewLocalSignal()
	dopts := DispatcherOptions{Registry: registry, Store: store, Signal: signal}
	for _, o := range opts {
		o(&dopts)
	}
	dispatcher, err := NewDispatcher(dopts)
	require.NoError(t, err)

	waiter, err := NewWaiter(WaiterOptions{Store: store, Signal: signal, PollInterval: testPollInterval})
	require.NoError(t, err)

	orch, err := NewOrchestrator(OrchestratorOptions{Store: store, Waiter: waiter, DefaultTimeout: 2 * time.Second})
	require.NoError(t, err)

	return &testEngine{
		cache:      cache,
		store:      store,
		signal:     signal,
		registry:   registry,
		dispatcher: dispatcher,
		waiter:     waiter,
		orch:       orch,
	}
}

func lipSyncSuccess(jobID, url string) []byte {
	return testutil.NewMediaCallback(jobID, model.VendorLipSync).WithOutput("video_url", url).Build()
}

func lipSyncFailure(jobID string) []byte {
	return testutil.NewMediaCallback(jobID, model.VendorLipSync).
		WithStatus("failed").
		WithResultError(3004, "no face detected").
		Build()
}
