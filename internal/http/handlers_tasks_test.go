package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/taskrelay/internal/domain/model"
)

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) model.TaskResult {
	t.Helper()
	var res model.TaskResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestTaskHandlers_InitAndCheck(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/tasks/lip_sync/job-1", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/tasks/lip_sync/job-1", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, model.TaskStatusPending, decodeResult(t, rec).Status)

	s.do(http.MethodPost, "/callbacks/media", "application/json", lipSyncDone("job-1"))

	rec = s.do(http.MethodGet, "/api/tasks/lip_sync/job-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, model.TaskStatusSuccess, res.Status)
	assert.Equal(t, "https://cdn.example.com/job-1.mp4", res.Data[model.DataVideoURL])
}

func TestTaskHandlers_InvalidPath(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/tasks/not_a_vendor/job-1", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_vendor")
	assert.Contains(t, rec.Body.String(), `"field":"vendor"`)
}

func TestTaskHandlers_Await(t *testing.T) {
	t.Run("returns the result once the callback lands", func(t *testing.T) {
		s := newTestServer(t)
		go func() {
			time.Sleep(30 * time.Millisecond)
			s.do(http.MethodPost, "/callbacks/media", "application/json", lipSyncDone("job-a"))
		}()

		rec := s.do(http.MethodPost, "/api/tasks/lip_sync/job-a/await?timeout=1s", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, model.TaskStatusSuccess, decodeResult(t, rec).Status)
	})

	t.Run("timeout is a 200 with TIMEOUT status", func(t *testing.T) {
		s := newTestServer(t)
		s.do(http.MethodPost, "/api/tasks/lip_sync/job-b", "", "")

		start := time.Now()
		rec := s.do(http.MethodPost, "/api/tasks/lip_sync/job-b/await?timeout=100ms", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, model.TaskStatusTimeout, decodeResult(t, rec).Status)
		assert.Less(t, time.Since(start), time.Second)

		stored, ok, err := s.orch.Check(context.Background(), model.NewJobIdentity("job-b", model.VendorLipSync))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, model.TaskStatusPending, stored.Status)
	})

	t.Run("timeout above the cap is clamped", func(t *testing.T) {
		s := newTestServer(t, func(rs *RouterServices) { rs.MaxAwaitTimeout = 50 * time.Millisecond })

		start := time.Now()
		rec := s.do(http.MethodPost, "/api/tasks/lip_sync/job-c/await?timeout=1h", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, model.TaskStatusTimeout, decodeResult(t, rec).Status)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("malformed timeout", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(http.MethodPost, "/api/tasks/lip_sync/job-d/await?timeout=soon", "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_timeout")
	})

	t.Run("store failure is a 503", func(t *testing.T) {
		s := newTestServer(t)
		s.cache.Err = assert.AnError

		rec := s.do(http.MethodPost, "/api/tasks/lip_sync/job-e/await?timeout=1s", "", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "await_failed")
	})
}

func TestTaskHandlers_ProgressAndCleanup(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/tasks/voice_clone/v-1/progress", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.do(http.MethodPost, "/callbacks/voice/progress", "application/json",
		`{"jobId":"v-1","vendor":"voice_clone","progress":"step 2/3"}`)

	rec = s.do(http.MethodGet, "/api/tasks/voice_clone/v-1/progress", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobId":"v-1","vendor":"voice_clone","progress":"step 2/3"}`, rec.Body.String())

	rec = s.do(http.MethodDelete, "/api/tasks/voice_clone/v-1", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, s.cache.Keys())
}

func TestParseDurationQuery(t *testing.T) {
	tests := []struct {
		query   string
		want    time.Duration
		wantErr bool
	}{
		{query: "", want: 5 * time.Second},
		{query: "?timeout=30", want: 30 * time.Second},
		{query: "?timeout=250ms", want: 250 * time.Millisecond},
		{query: "?timeout=later", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x"+tt.query, nil)
			got, err := parseDurationQuery(req, "timeout", 5*time.Second)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
