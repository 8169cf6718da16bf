package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/target/taskrelay/internal/bootstrap"
	"github.com/target/taskrelay/internal/data"
	"github.com/target/taskrelay/internal/domain/model"
)

var errNoRawCallback = errors.New("archived task has no raw callback")

func parseIdentity(args []string) (model.JobIdentity, error) {
	if len(args) != 2 {
		return model.JobIdentity{}, errors.New("expected <vendor> <jobId>")
	}
	vendor, err := model.ParseVendor(args[0])
	if err != nil {
		return model.JobIdentity{}, err
	}
	id := model.NewJobIdentity(args[1], vendor)
	if err := id.Validate(); err != nil {
		return model.JobIdentity{}, err
	}
	return id, nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(toCells(header)...)
	for _, row := range rows {
		if err := table.Append(toCells(row)...); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	return table.Render()
}

func toCells(row []string) []any {
	cells := make([]any, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return cells
}

// printResult renders res as a key/value table, or as indented JSON when asJSON is set.
func printResult(w io.Writer, res model.TaskResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	rows := [][]string{
		{"Job", res.JobID},
		{"Vendor", string(res.Vendor)},
		{"Status", string(res.Status)},
	}
	if res.ErrorCode != "" {
		rows = append(rows, []string{"Error", res.ErrorCode + ": " + res.ErrorMessage})
	}
	if res.BusinessMessage != "" {
		rows = append(rows, []string{"Business Message", res.BusinessMessage})
	}
	if !res.CallbackTime.IsZero() {
		rows = append(rows, []string{"Callback Time", res.CallbackTime.UTC().Format(time.RFC3339)})
	}
	for _, k := range slices.Sorted(maps.Keys(res.Data)) {
		rows = append(rows, []string{"data." + k, res.Data[k]})
	}
	return renderTable(w, []string{"Field", "Value"}, rows)
}

func newCheckCmd(cmdCtx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check <vendor> <jobId>",
		Short: "Show the stored result of a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseIdentity(args)
			if err != nil {
				return err
			}
			eng, err := openEngine(cmdCtx, false)
			if err != nil {
				return err
			}
			defer eng.Close()

			res, found, err := eng.services.Orchestrator.Check(cmdCtx.Ctx, id)
			if err != nil {
				return fmt.Errorf("check %s: %w", id, err)
			}
			if !found {
				return writef(cmdCtx.Out, "no result stored for %s\n", id)
			}
			return printResult(cmdCtx.Out, res, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw canonical result")
	return cmd
}

func newProgressCmd(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <vendor> <jobId>",
		Short: "Show the latest progress text of a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseIdentity(args)
			if err != nil {
				return err
			}
			eng, err := openEngine(cmdCtx, false)
			if err != nil {
				return err
			}
			defer eng.Close()

			text, found, err := eng.services.Orchestrator.Progress(cmdCtx.Ctx, id)
			if err != nil {
				return fmt.Errorf("progress %s: %w", id, err)
			}
			if !found {
				return writef(cmdCtx.Out, "no progress recorded for %s\n", id)
			}
			return writef(cmdCtx.Out, "%s\n", text)
		},
	}
}

func newAwaitCmd(cmdCtx *commandContext) *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "await <vendor> <jobId>",
		Short: "Block until a job reaches a final status",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseIdentity(args)
			if err != nil {
				return err
			}
			eng, err := openEngine(cmdCtx, false)
			if err != nil {
				return err
			}
			defer eng.Close()

			res, err := eng.services.Orchestrator.Await(cmdCtx.Ctx, id, timeout)
			if err != nil {
				return fmt.Errorf("await %s: %w", id, err)
			}
			return printResult(cmdCtx.Out, res, asJSON)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "wait bound (0 uses TASK_DEFAULT_TIMEOUT)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw canonical result")
	return cmd
}

func newCleanupCmd(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <vendor> <jobId>",
		Short: "Delete every stored slot of a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseIdentity(args)
			if err != nil {
				return err
			}
			eng, err := openEngine(cmdCtx, false)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.services.Orchestrator.CleanupTask(cmdCtx.Ctx, id); err != nil {
				return fmt.Errorf("cleanup %s: %w", id, err)
			}
			return writef(cmdCtx.Out, "cleaned up %s\n", id)
		},
	}
}

func newArchiveCmd(cmdCtx *commandContext) *cobra.Command {
	var (
		vendor string
		status string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "List archived terminal results",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			opts, err := archiveListOptions(vendor, status, limit, offset)
			if err != nil {
				return err
			}
			db, _, err := connectInfraWithOptions(&connectInfraOptions{
				Logger: cmdCtx.Logger,
				Config: &cmdCtx.Config,
				WantDB: true,
			})
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := closeInfra(db, nil); closeErr != nil {
					cmdCtx.Logger.Warn("db close failed", "error", closeErr)
				}
			}()

			rows, err := data.NewTaskArchiveRepo(data.TaskArchiveRepoOptions{DB: db}).List(cmdCtx.Ctx, opts)
			if err != nil {
				return fmt.Errorf("list archive: %w", err)
			}
			return printArchive(cmdCtx.Out, rows)
		},
	}
	cmd.Flags().StringVar(&vendor, "vendor", "", "only this vendor")
	cmd.Flags().StringVar(&status, "status", "", "only this terminal status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func archiveListOptions(vendor, status string, limit, offset int) (model.ArchiveListOptions, error) {
	opts := model.ArchiveListOptions{Limit: limit, Offset: offset}
	if vendor != "" {
		v, err := model.ParseVendor(vendor)
		if err != nil {
			return opts, err
		}
		opts.Vendor = v
	}
	if status != "" {
		s, err := model.ParseTaskStatus(status)
		if err != nil {
			return opts, err
		}
		opts.Status = s
	}
	if opts.Limit <= 0 {
		return opts, errors.New("--limit must be positive")
	}
	if opts.Offset < 0 {
		return opts, errors.New("--offset must not be negative")
	}
	return opts, nil
}

func printArchive(w io.Writer, rows []*model.ArchivedTask) error {
	if len(rows) == 0 {
		return writef(w, "no archived tasks\n")
	}
	cells := make([][]string, 0, len(rows))
	for _, row := range rows {
		cleaned := "-"
		if row.CleanedAt != nil {
			cleaned = row.CleanedAt.UTC().Format(time.RFC3339)
		}
		cells = append(cells, []string{
			string(row.Vendor), row.JobID, string(row.Status), orDash(row.ErrorCode),
			row.UpdatedAt.UTC().Format(time.RFC3339), cleaned,
		})
	}
	return renderTable(w, []string{"Vendor", "Job", "Status", "Error", "Updated", "Cleaned"}, cells)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newReplayCmd(cmdCtx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "replay <vendor> <jobId>",
		Short: "Re-dispatch an archived raw callback through its converter",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseIdentity(args)
			if err != nil {
				return err
			}
			eng, err := openEngine(cmdCtx, true)
			if err != nil {
				return err
			}
			defer eng.Close()

			archived, err := eng.services.Archive.Get(cmdCtx.Ctx, id)
			if err != nil {
				return fmt.Errorf("load archived %s: %w", id, err)
			}
			if len(archived.RawCallback) == 0 || string(archived.RawCallback) == "null" {
				return fmt.Errorf("%s: %w", id, errNoRawCallback)
			}
			endpoint, ok := eng.services.Registry.EndpointFor(id.Vendor)
			if !ok {
				return fmt.Errorf("no callback endpoint serves %s", id.Vendor)
			}
			res := eng.services.Dispatcher.Handle(cmdCtx.Ctx, endpoint, archived.RawCallback)
			return printResult(cmdCtx.Out, res, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw canonical result")
	return cmd
}

func newPurgeCmd(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Run one archive reaper sweep",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			db, _, err := connectInfraWithOptions(&connectInfraOptions{
				Logger: cmdCtx.Logger,
				Config: &cmdCtx.Config,
				WantDB: true,
			})
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := closeInfra(db, nil); closeErr != nil {
					cmdCtx.Logger.Warn("db close failed", "error", closeErr)
				}
			}()

			runner, err := bootstrap.NewReaperRunner(bootstrap.ReaperConfig{
				DB:     db,
				Logger: cmdCtx.Logger,
				Config: cmdCtx.Config.Reaper,
			})
			if err != nil {
				return err
			}
			purged, err := runner.RunOnce(cmdCtx.Ctx)
			if err != nil {
				return err
			}
			return writef(cmdCtx.Out, "purged %d archived tasks\n", purged)
		},
	}
}
