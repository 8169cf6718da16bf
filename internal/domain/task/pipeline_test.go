package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/taskrelay/internal/domain/model"
	"github.com/target/taskrelay/internal/testutil"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("job-%d", n)
	}
}

// callbackLater simulates a vendor that answers asynchronously through the dispatcher.
func callbackLater(e *testEngine, endpoint string, build func(jobID string, input map[string]string) []byte) SubmitFunc {
	return func(ctx context.Context, jobID string, input map[string]string) error {
		body := build(jobID, input)
		go func() {
			time.Sleep(20 * time.Millisecond)
			e.dispatcher.Handle(context.WithoutCancel(ctx), endpoint, body)
		}()
		return nil
	}
}

func TestPipeline_ChainsStageOutputs(t *testing.T) {
	e := newTestEngine(t)

	var videoInput map[string]string
	stages := []Stage{
		{
			Name:    "portrait",
			Vendor:  model.VendorImageGen,
			Outputs: []string{model.DataImageURL},
			Submit: callbackLater(e, EndpointMedia, func(jobID string, _ map[string]string) []byte {
				return testutil.NewMediaCallback(jobID, model.VendorImageGen).
					WithOutput("image_url", "https://x/portrait.png").
					Build()
			}),
		},
		{
			Name:   "animate",
			Vendor: model.VendorVideoGen,
			Submit: callbackLater(e, EndpointMedia, func(jobID string, input map[string]string) []byte {
				videoInput = input
				return testutil.NewMediaCallback(jobID, model.VendorVideoGen).
					WithOutput("video_url", "https://x/clip.mp4").
					Build()
			}),
		},
	}

	p, err := NewPipeline(PipelineOptions{Orchestrator: e.orch, NewJobID: sequentialIDs(), CleanupConsumed: true}, stages...)
	require.NoError(t, err)

	out, err := p.Run(context.Background(), map[string]string{"prompt": "a cat"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"prompt":           "a cat",
		model.DataImageURL: "https://x/portrait.png",
	}, videoInput)
	assert.Equal(t, "https://x/clip.mp4", out.Output[model.DataVideoURL])
	require.Len(t, out.Stages, 2)
	assert.Equal(t, "portrait", out.Stages[0].Stage)
	assert.Equal(t, "job-1", out.Stages[0].Result.JobID)
	assert.Equal(t, "job-2", out.Stages[1].Result.JobID)

	assert.Eventually(t, func() bool { return len(e.cache.Keys()) == 0 }, time.Second, 10*time.Millisecond,
		"consumed stages are cleaned up")
}

func TestPipeline_StopsAtFailedStage(t *testing.T) {
	e := newTestEngine(t)
	called := false

	p, err := NewPipeline(PipelineOptions{Orchestrator: e.orch, NewJobID: sequentialIDs()},
		Stage{
			Name:   "voice",
			Vendor: model.VendorVoiceClone,
			Submit: callbackLater(e, EndpointVoice, func(jobID string, _ map[string]string) []byte {
				return testutil.VoiceCallback(jobID, "clone", 3, map[string]any{"errMsg": "sample too short"})
			}),
		},
		Stage{
			Name:   "speak",
			Vendor: model.VendorVoiceTTS,
			Submit: func(context.Context, string, map[string]string) error {
				called = true
				return nil
			},
		},
	)
	require.NoError(t, err)

	out, err := p.Run(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, called)
	assert.Empty(t, out.Stages)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "voice", stageErr.Stage)
	assert.Equal(t, model.TaskStatusFailed, stageErr.Result.Status)
	assert.Contains(t, err.Error(), "sample too short")
}

func TestPipeline_StageTimeout(t *testing.T) {
	e := newTestEngine(t)
	p, err := NewPipeline(PipelineOptions{Orchestrator: e.orch},
		Stage{
			Name:    "silent",
			Vendor:  model.VendorSongConversion,
			Timeout: 50 * time.Millisecond,
			Submit:  func(context.Context, string, map[string]string) error { return nil },
		},
	)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), nil)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, model.TaskStatusTimeout, stageErr.Result.Status)
}

func TestPipeline_SubmitErrorCleansUp(t *testing.T) {
	e := newTestEngine(t)
	boom := errors.New("vendor rejected request")
	p, err := NewPipeline(PipelineOptions{Orchestrator: e.orch},
		Stage{
			Name:   "swap",
			Vendor: model.VendorFaceSwap,
			Submit: func(context.Context, string, map[string]string) error { return boom },
		},
	)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), nil)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, e.cache.Keys(), "the pending placeholder is removed")
}

func TestNewPipeline_Validation(t *testing.T) {
	e := newTestEngine(t)
	submit := func(context.Context, string, map[string]string) error { return nil }

	_, err := NewPipeline(PipelineOptions{}, Stage{Name: "a", Vendor: model.VendorLipSync, Submit: submit})
	assert.ErrorIs(t, err, errOrchestratorRequired)

	_, err = NewPipeline(PipelineOptions{Orchestrator: e.orch})
	assert.Error(t, err)

	_, err = NewPipeline(PipelineOptions{Orchestrator: e.orch}, Stage{Vendor: model.VendorLipSync, Submit: submit})
	assert.Error(t, err)

	_, err = NewPipeline(PipelineOptions{Orchestrator: e.orch}, Stage{Name: "a", Vendor: "nope", Submit: submit})
	assert.ErrorIs(t, err, model.ErrInvalidVendor)

	_, err = NewPipeline(PipelineOptions{Orchestrator: e.orch}, Stage{Name: "a", Vendor: model.VendorLipSync})
	assert.Error(t, err)
}
