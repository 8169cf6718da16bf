// Command taskrelay-admin inspects and drives the task store from a shell.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/target/taskrelay/config"
	"github.com/target/taskrelay/internal/bootstrap"
	"github.com/target/taskrelay/internal/migrate"
)

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Out    io.Writer
}

const defaultMigrationTimeout = 5 * time.Minute

func main() {
	cmdCtx := &commandContext{Out: os.Stdout}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(cmdCtx).ExecuteContext(ctx); err != nil {
		logger := cmdCtx.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.ErrorContext(ctx, "command failed", "error", err)
		stop()
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func newRootCmd(cmdCtx *commandContext) *cobra.Command {
	var envFiles []string
	root := &cobra.Command{
		Use:           "taskrelay-admin",
		Short:         "Inspect and drive vendor task correlation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := bootstrap.LoadConfigWithOptions(bootstrap.LoadOptions{EnvFiles: envFiles})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmdCtx.Ctx = cmd.Context()
			cmdCtx.Config = cfg
			cmdCtx.Logger = bootstrap.InitLogger(cfg.IsDev)
			if cmdCtx.Out == nil {
				cmdCtx.Out = cmd.OutOrStdout()
			}
			return nil
		},
	}

	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil,
		"dotenv file to load before the environment (repeatable; default ./.env if present)")

	root.AddCommand(
		newMigrateCmd(cmdCtx),
		newCheckCmd(cmdCtx),
		newProgressCmd(cmdCtx),
		newAwaitCmd(cmdCtx),
		newCleanupCmd(cmdCtx),
		newArchiveCmd(cmdCtx),
		newReplayCmd(cmdCtx),
		newPurgeCmd(cmdCtx),
		newRunCmd(cmdCtx),
	)
	return root
}

func newMigrateCmd(cmdCtx *commandContext) *cobra.Command {
	var (
		timeout time.Duration
		status  bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run task archive migrations",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runMigrations(cmdCtx, timeout, status)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultMigrationTimeout, "overall migration timeout")
	cmd.Flags().BoolVar(&status, "status", false, "list migrations and when they were applied instead of running them")
	return cmd
}

func runMigrations(cmdCtx *commandContext, timeout time.Duration, statusOnly bool) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	if statusOnly {
		all, statusErr := migrate.Status(ctx, db)
		if statusErr != nil {
			return fmt.Errorf("migration status: %w", statusErr)
		}
		return printMigrations(cmdCtx.Out, all)
	}

	cmdCtx.Logger.Info("running database migrations")
	if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
		return fmt.Errorf("run migrations: %w", migrateErr)
	}
	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}

func printMigrations(out io.Writer, all []migrate.Migration) error {
	rows := make([][]string, 0, len(all))
	for _, m := range all {
		applied := "pending"
		if m.Applied() {
			applied = m.AppliedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{m.Version, applied})
	}
	return renderTable(out, []string{"Version", "Applied"}, rows)
}
