// Package main - одноразовый запуск сегментации учеников по уровням.
//
// Команды:
//   - run      выполнить кластеризацию и сохранить снимок
//   - status   показать состояние последнего прогона
//   - report   показать отчёт последнего прогона
//   - migrate  применить миграции схемы
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alem-hub/learner-tiers/config"
	"github.com/alem-hub/learner-tiers/internal/app"
	"github.com/alem-hub/learner-tiers/internal/application/command"
	"github.com/alem-hub/learner-tiers/internal/infrastructure/messaging"
	"github.com/alem-hub/learner-tiers/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/learner-tiers/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		app.PrintFailure(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cluster",
		Short: "Segment learners into performance tiers",
		Long: `Extracts per-student activity features, clusters them with k-means
and persists the labelled tier snapshot together with a run report.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(reportCmd())
	root.AddCommand(migrateCmd())

	return root
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// runCmd executes one clustering run.
func runCmd() *cobra.Command {
	var (
		k           int
		checkPolicy bool
		migrate     bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the clustering pipeline once",
		Long: `Run the full pipeline: extract, normalize, cluster, label and persist.

Examples:
  # Unconditional run with the configured cluster count
  cluster run

  # Run only when the tiers are stale
  cluster run --check-policy

  # Request two clusters and print the report as JSON
  cluster run --k=2 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if k < 0 {
				return fmt.Errorf("--k must be positive")
			}

			cfg, log, err := setup()
			if err != nil {
				return err
			}

			infra, err := app.Connect(cmd.Context(), cfg, log, app.ConnectOptions{
				Migrate: migrate || cfg.Database.AutoMigrate,
			})
			if err != nil {
				return err
			}
			defer infra.Close()

			bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: log})
			defer bus.Close()
			if fanout := infra.EventFanout(); fanout != nil {
				bus.Forward(fanout)
			}
			if _, err := app.SubscribeEventHandlers(bus, infra); err != nil {
				return err
			}

			handlers := app.NewHandlers(infra, bus)

			ctx, cancel := app.RunContext(cmd.Context(), cfg)
			defer cancel()

			result, err := handlers.RunClustering.Handle(ctx, command.RunClusteringCommand{
				CheckPolicy:  checkPolicy,
				ClusterCount: k,
				Trigger:      "cli",
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.Skipped {
				fmt.Fprintf(out, "skipped: %s\n", result.Reason)
				return nil
			}
			if asJSON {
				return app.PrintJSON(out, result.Report)
			}
			return app.PrintReport(out, result.Report)
		},
	}

	cmd.Flags().IntVar(&k, "k", 0, "Requested cluster count (default: CLUSTERING_MAX_CLUSTERS)")
	cmd.Flags().BoolVar(&checkPolicy, "check-policy", false, "Run only when the run policy says the tiers are stale")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending migrations first")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")

	return cmd
}

// statusCmd prints the state of the last run and the policy decision.
func statusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last run and whether a new run is due",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			infra, err := app.Connect(cmd.Context(), cfg, log, app.ConnectOptions{SkipRedis: true})
			if err != nil {
				return err
			}
			defer infra.Close()

			status, err := app.NewHandlers(infra, nil).Status.Handle(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return app.PrintJSON(cmd.OutOrStdout(), status)
			}
			app.PrintStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

// reportCmd prints the latest stored report.
func reportCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the report of the latest run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			infra, err := app.Connect(cmd.Context(), cfg, log, app.ConnectOptions{})
			if err != nil {
				return err
			}
			defer infra.Close()

			report, err := app.NewHandlers(infra, nil).Report.Handle(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return app.PrintJSON(cmd.OutOrStdout(), report)
			}
			return app.PrintReport(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

// migrateCmd manages the database schema.
func migrateCmd() *cobra.Command {
	var (
		down   bool
		status bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply pending schema migrations.

Examples:
  cluster migrate
  cluster migrate --status
  cluster migrate --down   # roll back the latest migration`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if down && status {
				return errors.New("--down and --status are mutually exclusive")
			}

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			infra, err := app.Connect(cmd.Context(), cfg, log, app.ConnectOptions{SkipRedis: true})
			if err != nil {
				return err
			}
			defer infra.Close()

			migrator := postgres.NewMigrator(infra.DB)
			switch {
			case status:
				migrations, err := migrator.Status(cmd.Context())
				if err != nil {
					return err
				}
				return app.PrintMigrations(cmd.OutOrStdout(), migrations)
			case down:
				if err := migrator.Rollback(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back latest migration")
				return nil
			default:
				applied, err := migrator.Migrate(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "Roll back the latest applied migration")
	cmd.Flags().BoolVar(&status, "status", false, "Show migration status")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setup загружает конфигурацию и настраивает логирование. Логи идут в stderr,
// чтобы stdout оставался для отчёта.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	opts := app.LoggerOptions(cfg)
	opts.Output = os.Stderr
	return cfg, logger.Setup(opts), nil
}
