package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/target/taskrelay/internal/domain/model"
)

// SubmitFunc hands a job to its vendor. It must pass jobID through so the vendor echoes it
// in the callback.
type SubmitFunc func(ctx context.Context, jobID string, input map[string]string) error

// Stage is one vendor job in a pipeline.
type Stage struct {
	Name   string
	Vendor model.Vendor
	Submit SubmitFunc
	// Outputs lists the data keys forwarded to the next stage's input; empty forwards all.
	Outputs []string
	// Timeout bounds the wait for this stage; zero uses the orchestrator default.
	Timeout time.Duration
}

// StageRun records the result of one completed stage.
type StageRun struct {
	Stage  string
	Result model.TaskResult
}

// PipelineResult is the accumulated output of a pipeline run.
type PipelineResult struct {
	Output map[string]string
	Stages []StageRun
}

// PipelineOptions configure a Pipeline.
type PipelineOptions struct {
	Orchestrator *Orchestrator
	Logger       *slog.Logger
	// CleanupConsumed deletes a stage's store entries once its output was forwarded.
	CleanupConsumed bool
	NewJobID        func() string
}

// Pipeline chains vendor jobs so that one stage's output becomes the next stage's input.
type Pipeline struct {
	orch     *Orchestrator
	logger   *slog.Logger
	cleanup  bool
	newJobID func() string
	stages   []Stage
}

var errOrchestratorRequired = errors.New("orchestrator is required")

// NewPipeline validates stages and constructs a Pipeline.
func NewPipeline(opts PipelineOptions, stages ...Stage) (*Pipeline, error) {
	if opts.Orchestrator == nil {
		return nil, errOrchestratorRequired
	}
	if len(stages) == 0 {
		return nil, errors.New("pipeline needs at least one stage")
	}
	for i, s := range stages {
		if s.Name == "" {
			return nil, fmt.Errorf("stage %d: name is required", i)
		}
		if !s.Vendor.Valid() {
			return nil, fmt.Errorf("stage %s: %w: %q", s.Name, model.ErrInvalidVendor, s.Vendor)
		}
		if s.Submit == nil {
			return nil, fmt.Errorf("stage %s: submit func is required", s.Name)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newJobID := opts.NewJobID
	if newJobID == nil {
		newJobID = model.NewJobID
	}
	return &Pipeline{
		orch:     opts.Orchestrator,
		logger:   logger.With("component", "pipeline"),
		cleanup:  opts.CleanupConsumed,
		newJobID: newJobID,
		stages:   append([]Stage(nil), stages...),
	}, nil
}

// Run executes every stage in order. A stage that does not succeed aborts the run with a
// *StageError; the stages completed so far are still reported.
func (p *Pipeline) Run(ctx context.Context, input map[string]string) (PipelineResult, error) {
	current := maps.Clone(input)
	if current == nil {
		current = make(map[string]string)
	}
	out := PipelineResult{Stages: make([]StageRun, 0, len(p.stages))}

	for _, stage := range p.stages {
		res, err := p.runStage(ctx, stage, current)
		if err != nil {
			out.Output = current
			return out, err
		}
		out.Stages = append(out.Stages, StageRun{Stage: stage.Name, Result: res})
		forward(current, res.Data, stage.Outputs)

		if p.cleanup {
			if cleanupErr := p.orch.CleanupTask(ctx, res.Identity()); cleanupErr != nil {
				p.logger.WarnContext(ctx, "failed to clean up consumed stage",
					"stage", stage.Name,
					"job_id", res.JobID,
					"error", cleanupErr)
			}
		}
	}
	out.Output = current
	return out, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, input map[string]string) (model.TaskResult, error) {
	id := model.NewJobIdentity(p.newJobID(), stage.Vendor)
	log := p.logger.With("stage", stage.Name, "job_id", id.JobID, "vendor", id.Vendor)

	if err := p.orch.InitTask(ctx, id); err != nil {
		return model.TaskResult{}, &StageError{Stage: stage.Name, Err: err}
	}
	if err := stage.Submit(ctx, id.JobID, maps.Clone(input)); err != nil {
		if cleanupErr := p.orch.CleanupTask(ctx, id); cleanupErr != nil {
			log.WarnContext(ctx, "failed to clean up after submit error", "error", cleanupErr)
		}
		return model.TaskResult{}, &StageError{Stage: stage.Name, Err: fmt.Errorf("submit: %w", err)}
	}
	log.InfoContext(ctx, "stage submitted")

	res, err := p.orch.Await(ctx, id, stage.Timeout)
	if err != nil {
		return model.TaskResult{}, &StageError{Stage: stage.Name, Err: err}
	}
	if !res.IsSuccess() {
		log.WarnContext(ctx, "stage did not succeed",
			"status", res.Status,
			"error_code", res.ErrorCode,
			"error_message", res.ErrorMessage)
		return res, &StageError{Stage: stage.Name, Result: res}
	}
	log.InfoContext(ctx, "stage succeeded")
	return res, nil
}

func forward(dst, data map[string]string, keys []string) {
	if len(keys) == 0 {
		maps.Copy(dst, data)
		return
	}
	for _, k := range keys {
		if v, ok := data[k]; ok {
			dst[k] = v
		}
	}
}
