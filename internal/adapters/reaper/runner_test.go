package reaper

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/taskrelay/config"
	"github.com/target/taskrelay/internal/core"
	"github.com/target/taskrelay/internal/mocks"
)

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.ErrorIs(t, err, ErrNoArchive)
}

func TestNewRunner_WiresArchiveRepo(t *testing.T) {
	r, err := NewRunner(RunnerOptions{DB: &sql.DB{}, Config: config.ReaperConfig{Interval: time.Minute}})
	require.NoError(t, err)
	assert.NotNil(t, r.svc)
}

func TestRunner_RunOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockTaskArchiveRepository(ctrl)

	gomock.InOrder(
		repo.EXPECT().DeleteOlderThan(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, p core.DeleteArchivedTasksParams) (int64, error) {
				assert.Equal(t, 24*time.Hour, p.OlderThan)
				assert.Equal(t, 10, p.BatchSize)
				return 4, nil
			}),
		repo.EXPECT().DeleteOlderThan(gomock.Any(), gomock.Any()).Return(int64(0), nil),
		repo.EXPECT().DeleteOlderThan(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, p core.DeleteArchivedTasksParams) (int64, error) {
				assert.Equal(t, time.Hour, p.OlderThan)
				return 0, nil
			}),
	)

	r, err := NewRunner(RunnerOptions{
		Repo: repo,
		Config: config.ReaperConfig{
			Interval:      time.Minute,
			ArchiveMaxAge: 24 * time.Hour,
			FailedMaxAge:  time.Hour,
			BatchSize:     10,
		},
	})
	require.NoError(t, err)
	purged, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), purged)
}
