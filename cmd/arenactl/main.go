package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ayash-Bera/arena/internal/app"
	"github.com/Ayash-Bera/arena/internal/config"
	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/Ayash-Bera/arena/internal/recorder"
	"github.com/Ayash-Bera/arena/pkg/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const version = "0.1.0"

var (
	configPath     string
	migrationsPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "arenactl",
		Short: "Arena operations CLI",
		Long: `arenactl runs the background side of the arena: the learning extraction
worker, lifecycle sweeps and stats maintenance. Output is JSON.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			// Keep stdout for JSON results.
			if os.Getenv("LOG_FILE") == "" {
				utils.GetLogger().SetOutput(os.Stderr)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&migrationsPath, "migrations", "", "Run SQL migrations from this directory first")

	rootCmd.AddCommand(newWorkerCommand())
	rootCmd.AddCommand(newSweepCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newLearningsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func build() (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return app.Build(cfg, app.Options{MigrationsPath: migrationsPath}, utils.GetLogger())
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newWorkerCommand() *cobra.Command {
	var sweepEvery time.Duration

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume extraction jobs and run periodic lifecycle sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			arena, err := build()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			defer arena.Close(context.Background())

			worker, err := arena.Worker()
			if err != nil {
				return err
			}
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return worker.Run(ctx) })
			g.Go(func() error {
				arena.RunSweeps(ctx, sweepEvery)
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().DurationVar(&sweepEvery, "sweep-interval", 0, "Override learning.sweep_interval (0 keeps config)")
	return cmd
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Flush expired feedback windows, then archive and promote learnings once",
		RunE: func(cmd *cobra.Command, args []string) error {
			arena, err := build()
			if err != nil {
				return err
			}
			defer arena.Close(context.Background())

			resp, err := arena.Service.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func newStatsCommand() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Inspect and maintain expert stats",
	}

	var rebuild bool
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Recompute expert stats from competition records",
		RunE: func(cmd *cobra.Command, args []string) error {
			arena, err := build()
			if err != nil {
				return err
			}
			defer arena.Close(context.Background())

			stats := arena.Repos.ExpertStats
			replayed, err := stats.Replay(cmd.Context())
			if err != nil {
				return err
			}
			stored, err := stats.List(cmd.Context(), "")
			if err != nil {
				return err
			}
			drift := recorder.CompareStats(stored, replayed)

			if rebuild && len(drift) > 0 {
				if err := stats.Rebuild(cmd.Context()); err != nil {
					return err
				}
			}
			return printJSON(map[string]interface{}{
				"replayed": replayed,
				"drift":    drift,
				"rebuilt":  rebuild && len(drift) > 0,
			})
		},
	}
	replayCmd.Flags().BoolVar(&rebuild, "rebuild", false, "Replace the stats table with the replayed aggregates")

	var category string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show the leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			arena, err := build()
			if err != nil {
				return err
			}
			defer arena.Close(context.Background())

			views, err := arena.Service.ExpertStats(cmd.Context(), category)
			if err != nil {
				return err
			}
			return printJSON(views)
		},
	}
	listCmd.Flags().StringVar(&category, "category", "", "Task category (empty for all)")

	statsCmd.AddCommand(replayCmd, listCmd)
	return statsCmd
}

func newLearningsCommand() *cobra.Command {
	learningsCmd := &cobra.Command{
		Use:   "learnings",
		Short: "Review learnings",
	}

	var state, scope, agentID string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List learnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			arena, err := build()
			if err != nil {
				return err
			}
			defer arena.Close(context.Background())

			learnings, err := arena.Service.ListLearnings(cmd.Context(), models.LearningFilter{
				State:   models.LearningState(state),
				Scope:   models.LearningScope(scope),
				AgentID: agentID,
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			return printJSON(learnings)
		},
	}
	listCmd.Flags().StringVar(&state, "state", "proposed", "proposed, approved, rejected or archived")
	listCmd.Flags().StringVar(&scope, "scope", "", "platform or agent")
	listCmd.Flags().StringVar(&agentID, "agent", "", "Agent ID")
	listCmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows")

	var approver string
	approveCmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a learning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arena, err := build()
			if err != nil {
				return err
			}
			defer arena.Close(context.Background())

			l, err := arena.Service.ApproveLearning(cmd.Context(), args[0], approver)
			if err != nil {
				return err
			}
			return printJSON(l)
		},
	}
	approveCmd.Flags().StringVar(&approver, "by", os.Getenv("USER"), "Approver ID")

	var reason string
	rejectCmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a learning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arena, err := build()
			if err != nil {
				return err
			}
			defer arena.Close(context.Background())

			l, err := arena.Service.RejectLearning(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return printJSON(l)
		},
	}
	rejectCmd.Flags().StringVar(&reason, "reason", "", "Why the learning is rejected")
	_ = rejectCmd.MarkFlagRequired("reason")

	learningsCmd.AddCommand(listCmd, approveCmd, rejectCmd)
	return learningsCmd
}
