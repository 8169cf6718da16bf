package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/taskrelay/internal/core"
	"github.com/target/taskrelay/internal/domain/model"
	"github.com/target/taskrelay/internal/mocks"
	"github.com/target/taskrelay/internal/testutil"
	"go.uber.org/mock/gomock"
)

var errArchiveMiss = errors.New("archived task not found")

func newMemoryStore(t *testing.T) (*CacheResultStore, *testutil.MemoryCache) {
	t.Helper()
	cache := testutil.NewMemoryCache()
	store, err := NewResultStore(ResultStoreOptions{Cache: cache})
	require.NoError(t, err)
	return store, cache
}

func TestNewResultStore_RequiresCache(t *testing.T) {
	_, err := NewResultStore(ResultStoreOptions{})
	assert.ErrorIs(t, err, ErrStoreRequired)
}

func TestResultStore_SaveGet(t *testing.T) {
	ctx := context.Background()
	store, cache := newMemoryStore(t)
	id := model.NewJobIdentity("job-1", model.VendorLipSync)

	_, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	in := model.TaskResult{
		Status:      model.TaskStatusSuccess,
		Data:        map[string]string{model.DataVideoURL: "https://x/a.mp4"},
		RawCallback: json.RawMessage(`{"code": 0}`),
	}
	require.NoError(t, store.Save(ctx, id, in, 0))
	assert.Contains(t, cache.Keys(), "task:result:{lip_sync:job-1}")

	out, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "job-1", out.JobID, "identity is stamped on save")
	assert.Equal(t, model.VendorLipSync, out.Vendor)
	assert.Equal(t, model.TaskStatusSuccess, out.Status)
	assert.Equal(t, in.Data, out.Data)
	assert.JSONEq(t, `{"code":0}`, string(out.RawCallback))
	assert.False(t, out.CallbackTime.IsZero())

	ok, err := store.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResultStore_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemoryStore(t)
	id := model.NewJobIdentity("job-1", model.VendorVoiceTTS)

	require.NoError(t, store.Save(ctx, id, model.TaskResult{Status: model.TaskStatusProcessing}, 0))
	require.NoError(t, store.Save(ctx, id, model.TaskResult{Status: model.TaskStatusFailed, ErrorCode: "E1"}, 0))

	out, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.TaskStatusFailed, out.Status)
	assert.Equal(t, "E1", out.ErrorCode)
}

func TestResultStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	store, cache := newMemoryStore(t)
	now := testutil.TestTime()
	cache.SetClock(func() time.Time { return now })
	id := model.NewJobIdentity("job-1", model.VendorImageGen)

	require.NoError(t, store.Save(ctx, id, model.TaskResult{Status: model.TaskStatusSuccess}, time.Minute))
	now = now.Add(2 * time.Minute)

	_, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResultStore_ValidatesIdentity(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemoryStore(t)

	err := store.Save(ctx, model.JobIdentity{Vendor: model.VendorLipSync}, model.TaskResult{}, 0)
	assert.ErrorIs(t, err, model.ErrJobIDRequired)

	_, _, err = store.Get(ctx, model.JobIdentity{JobID: "x", Vendor: "nope"})
	assert.ErrorIs(t, err, model.ErrInvalidVendor)
}

func TestResultStore_InitPendingKeepsExisting(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemoryStore(t)
	id := model.NewJobIdentity("job-1", model.VendorFaceSwap)

	created, err := store.InitPending(ctx, id, 0)
	require.NoError(t, err)
	assert.True(t, created)

	out, _, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, out.Status)

	require.NoError(t, store.Save(ctx, id, model.TaskResult{Status: model.TaskStatusSuccess}, 0))
	created, err = store.InitPending(ctx, id, 0)
	require.NoError(t, err)
	assert.False(t, created)

	out, _, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusSuccess, out.Status)
}

func TestResultStore_ClaimTerminal(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemoryStore(t)
	id := model.NewJobIdentity("job-1", model.VendorVideoGen)

	ok, err := store.ClaimTerminal(ctx, id, model.TaskStatusSuccess, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ClaimTerminal(ctx, id, model.TaskStatusFailed, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	holder, held, err := store.ClaimedStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, model.TaskStatusSuccess, holder)

	require.NoError(t, store.ReleaseTerminal(ctx, id))
	_, held, err = store.ClaimedStatus(ctx, id)
	require.NoError(t, err)
	assert.False(t, held)

	ok, err = store.ClaimTerminal(ctx, id, model.TaskStatusFailed, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.MarkTerminal(ctx, id, model.TaskStatusCancelled, 0))
	holder, _, err = store.ClaimedStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, holder)
}

func TestResultStore_SaveInterim(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemoryStore(t)
	id := model.NewJobIdentity("job-1", model.VendorVideoGen)

	written, err := store.SaveInterim(ctx, id, model.TaskResult{Status: model.TaskStatusProcessing}, 0)
	require.NoError(t, err)
	assert.True(t, written)

	out, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.TaskStatusProcessing, out.Status)
	assert.Equal(t, id, out.Identity())

	_, err = store.ClaimTerminal(ctx, id, model.TaskStatusSuccess, 0)
	require.NoError(t, err)
	written, err = store.SaveInterim(ctx, id, model.TaskResult{Status: model.TaskStatusPending}, 0)
	require.NoError(t, err)
	assert.False(t, written, "a claimed terminal status blocks interim writes")

	_, err = store.SaveInterim(ctx, id, model.TaskResult{Status: model.TaskStatusSuccess}, 0)
	assert.Error(t, err)
}

func TestResultStore_ProgressIsIndependent(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemoryStore(t)
	id := model.NewJobIdentity("job-1", model.VendorSongConversion)

	require.NoError(t, store.SaveProgress(ctx, id, "42%"))
	text, found, err := store.GetProgress(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "42%", text)

	_, found, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found, "progress never creates a result")
}

func TestResultStore_DeleteRemovesEverySlot(t *testing.T) {
	ctx := context.Background()
	store, cache := newMemoryStore(t)
	id := model.NewJobIdentity("job-1", model.VendorLipSync)

	require.NoError(t, store.Save(ctx, id, model.TaskResult{Status: model.TaskStatusSuccess}, 0))
	require.NoError(t, store.SaveProgress(ctx, id, "done"))
	_, err := store.ClaimTerminal(ctx, id, model.TaskStatusSuccess, 0)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, id))
	assert.Empty(t, cache.Keys())

	require.NoError(t, store.Delete(ctx, id), "deleting twice is harmless")
}

func TestResultStore_CacheErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	store, cache := newMemoryStore(t)
	cache.Err = errors.New("connection refused")
	id := model.NewJobIdentity("job-1", model.VendorLipSync)

	_, _, err := store.Get(ctx, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Error(t, store.Save(ctx, id, model.TaskResult{Status: model.TaskStatusSuccess}, 0))
	assert.Error(t, store.Delete(ctx, id))
}

func TestResultStore_Archive(t *testing.T) {
	ctx := context.Background()
	id := model.NewJobIdentity("job-1", model.VendorLipSync)

	newStore := func(t *testing.T) (*CacheResultStore, *mocks.MockTaskArchiveRepository) {
		ctrl := gomock.NewController(t)
		archive := mocks.NewMockTaskArchiveRepository(ctrl)
		store, err := NewResultStore(ResultStoreOptions{
			Cache:      testutil.NewMemoryCache(),
			Archive:    archive,
			IsNotFound: func(err error) bool { return errors.Is(err, errArchiveMiss) },
		})
		require.NoError(t, err)
		return store, archive
	}

	t.Run("terminal results are archived", func(t *testing.T) {
		store, archive := newStore(t)
		archive.EXPECT().
			Upsert(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, p core.UpsertArchivedTaskParams) error {
				assert.Equal(t, id, p.Identity)
				assert.Equal(t, model.TaskStatusFailed, p.Status)
				assert.Equal(t, "E1", p.ErrorCode)
				assert.NotEmpty(t, p.Result)
				return nil
			})

		require.NoError(t, store.Save(ctx, id, model.TaskResult{Status: model.TaskStatusFailed, ErrorCode: "E1"}, 0))
	})

	t.Run("interim results are not archived", func(t *testing.T) {
		store, _ := newStore(t)
		require.NoError(t, store.Save(ctx, id, model.TaskResult{Status: model.TaskStatusProcessing}, 0))
	})

	t.Run("archive failure does not fail save", func(t *testing.T) {
		store, archive := newStore(t)
		archive.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(errors.New("db down"))

		require.NoError(t, store.Save(ctx, id, model.TaskResult{Status: model.TaskStatusSuccess}, 0))
		_, found, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("cache miss reads through to archive", func(t *testing.T) {
		store, archive := newStore(t)
		stored, err := json.Marshal(model.TaskResult{JobID: id.JobID, Vendor: id.Vendor, Status: model.TaskStatusSuccess})
		require.NoError(t, err)
		archive.EXPECT().Get(gomock.Any(), id).Return(&model.ArchivedTask{Result: stored}, nil)

		out, found, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, model.TaskStatusSuccess, out.Status)
	})

	t.Run("archive miss is not an error", func(t *testing.T) {
		store, archive := newStore(t)
		archive.EXPECT().Get(gomock.Any(), id).Return(nil, errArchiveMiss)

		_, found, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("archive errors propagate", func(t *testing.T) {
		store, archive := newStore(t)
		archive.EXPECT().Get(gomock.Any(), id).Return(nil, errors.New("db down"))

		_, _, err := store.Get(ctx, id)
		assert.Error(t, err)
	})

	t.Run("delete marks the archive row cleaned", func(t *testing.T) {
		store, archive := newStore(t)
		archive.EXPECT().MarkCleaned(gomock.Any(), id).Return(false, errArchiveMiss)

		require.NoError(t, store.Delete(ctx, id))
	})

	t.Run("cleaned rows are not read through", func(t *testing.T) {
		store, archive := newStore(t)
		stored, err := json.Marshal(model.TaskResult{JobID: id.JobID, Vendor: id.Vendor, Status: model.TaskStatusSuccess})
		require.NoError(t, err)
		cleanedAt := time.Now()
		archive.EXPECT().Get(gomock.Any(), id).Return(&model.ArchivedTask{Result: stored, CleanedAt: &cleanedAt}, nil)

		_, found, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, found)
	})
}
