package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/target/taskrelay/internal/domain/model"
	"github.com/target/taskrelay/internal/domain/task"
)

// stageSpec is a parsed "vendor[:key,key]" argument.
type stageSpec struct {
	Vendor  model.Vendor
	Outputs []string
}

func parseStageSpec(s string) (stageSpec, error) {
	vendorPart, outputs, hasOutputs := strings.Cut(strings.TrimSpace(s), ":")
	vendor, err := model.ParseVendor(vendorPart)
	if err != nil {
		return stageSpec{}, err
	}
	spec := stageSpec{Vendor: vendor}
	if hasOutputs {
		for _, k := range strings.Split(outputs, ",") {
			if k = strings.TrimSpace(k); k != "" {
				spec.Outputs = append(spec.Outputs, k)
			}
		}
		if len(spec.Outputs) == 0 {
			return stageSpec{}, fmt.Errorf("stage %q: empty output list", s)
		}
	}
	return spec, nil
}

func parseInputs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("input %q: want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

func buildStages(specs []string, submit func(model.Vendor) task.SubmitFunc, timeout time.Duration) ([]task.Stage, error) {
	stages := make([]task.Stage, 0, len(specs))
	for i, raw := range specs {
		spec, err := parseStageSpec(raw)
		if err != nil {
			return nil, err
		}
		stages = append(stages, task.Stage{
			Name:    strconv.Itoa(i+1) + "-" + string(spec.Vendor),
			Vendor:  spec.Vendor,
			Submit:  submit(spec.Vendor),
			Outputs: spec.Outputs,
			Timeout: timeout,
		})
	}
	return stages, nil
}

func printPipeline(w io.Writer, res task.PipelineResult) error {
	for _, run := range res.Stages {
		if err := writef(w, "stage %s: %s %s\n", run.Stage, run.Result.Status, run.Result.JobID); err != nil {
			return err
		}
	}
	for _, k := range slices.Sorted(maps.Keys(res.Output)) {
		if err := writef(w, "%s=%s\n", k, res.Output[k]); err != nil {
			return err
		}
	}
	return nil
}

func newRunCmd(cmdCtx *commandContext) *cobra.Command {
	var (
		inputs  []string
		message string
		timeout time.Duration
		keep    bool
	)
	cmd := &cobra.Command{
		Use:   "run <vendor[:key,...]>...",
		Short: "Submit a chain of vendor jobs and wait for each callback",
		Long: "Each stage's result data becomes the next stage's input. " +
			"Listing keys after a colon forwards only those keys. " +
			"Callbacks are received by a running taskrelay HTTP service sharing the same Redis.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			input, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			eng, err := openEngine(cmdCtx, false)
			if err != nil {
				return err
			}
			defer eng.Close()

			client := eng.services.Vendors
			if client == nil {
				return errors.New("no vendor providers configured (VENDORS_*_URL and a callback base URL)")
			}
			stages, err := buildStages(args, func(v model.Vendor) task.SubmitFunc {
				return client.SubmitFunc(v, message)
			}, timeout)
			if err != nil {
				return err
			}

			pipeline, err := task.NewPipeline(task.PipelineOptions{
				Orchestrator:    eng.services.Orchestrator,
				Logger:          cmdCtx.Logger,
				CleanupConsumed: !keep,
			}, stages...)
			if err != nil {
				return err
			}

			res, runErr := pipeline.Run(cmdCtx.Ctx, input)
			if err := printPipeline(cmdCtx.Out, res); err != nil {
				return errors.Join(runErr, err)
			}
			return runErr
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "initial input as key=value (repeatable)")
	cmd.Flags().StringVar(&message, "message", "", "business message echoed back by vendors")
	cmd.Flags().DurationVar(&timeout, "stage-timeout", 0, "per-stage wait bound (0 uses TASK_DEFAULT_TIMEOUT)")
	cmd.Flags().BoolVar(&keep, "keep", false, "keep consumed stage results in the store")
	return cmd
}
