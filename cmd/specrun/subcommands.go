package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/3cpo-dev/specrun/internal/config"
	"github.com/3cpo-dev/specrun/internal/enrich"
	"github.com/3cpo-dev/specrun/internal/runner"
	"github.com/3cpo-dev/specrun/internal/scheduler"
	"github.com/3cpo-dev/specrun/internal/specs"
	"github.com/3cpo-dev/specrun/internal/store"
	"github.com/3cpo-dev/specrun/internal/telemetry"
	"github.com/3cpo-dev/specrun/pkg/api"
)

// configPath returns the --config value, or the default location.
func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	return path
}

// buildScheduler turns a loaded configuration into a scheduler, applying the
// --suite override when set.
func buildScheduler(cfg *config.Config, suite string) (*scheduler.Scheduler, error) {
	if suite != "" {
		cfg.Suite = suite
	}
	sc, err := cfg.Scheduler()
	if err != nil {
		return nil, err
	}
	return scheduler.New(sc, scheduler.Options{
		Resolver:  specs.NewResolver(),
		Enrichers: enrich.DefaultRegistry(),
	})
}

// Dry-run the dispatch order
func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show lanes and the order in which tasks would be dispatched",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd)
			suite, _ := cmd.Flags().GetString("suite")
			watch, _ := cmd.Flags().GetBool("watch")

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := printPlan(cmd.Context(), cmd.OutOrStdout(), cfg, suite); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			log.Info().Str("config", path).Msg("watching for changes")
			return config.Watch(cmd.Context(), path, func(cfg *config.Config, err error) {
				if err != nil {
					log.Error().Err(err).Msg("reload failed")
					return
				}
				if err := printPlan(cmd.Context(), cmd.OutOrStdout(), cfg, suite); err != nil {
					log.Error().Err(err).Msg("plan failed")
				}
			})
		},
	}
	cmd.Flags().String("suite", "", "comma separated suites to run instead of specs")
	cmd.Flags().Bool("watch", false, "re-plan whenever the config changes")
	return cmd
}

// printPlan claims and immediately releases every task, so the printed order is
// the fair rotation with each task in its own slot.
func printPlan(ctx context.Context, w io.Writer, cfg *config.Config, suite string) error {
	s, err := buildScheduler(cfg, suite)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "lanes (max concurrency %d, %d tasks):\n", s.MaxConcurrency(), s.Outstanding())
	for _, l := range s.Lanes() {
		kind := l.Kind
		if kind == "" {
			kind = "-"
		}
		fmt.Fprintf(w, "  #%d\tlane=%d\treplica=%d\t%s\tmaxInstances=%d\tunits=%d\tsharded=%t\n",
			l.Position, l.Lane, l.Replica, kind, l.MaxConcurrency, l.Units, l.Sharded)
	}
	fmt.Fprintln(w, "dispatch order:")
	for s.Outstanding() > 0 {
		task, err := s.NextTask(ctx)
		if err != nil {
			var ee *scheduler.EnrichError
			if errors.As(err, &ee) {
				fmt.Fprintf(w, "  %s\tERROR %v\n", ee.TaskID, ee.Err)
				continue
			}
			return err
		}
		if task == nil {
			break
		}
		fmt.Fprintf(w, "  %s\t%s\n", task.TaskID, strings.Join(relativeSpecs(cfg.ConfigDir, task.Specs), " "))
		task.Release()
	}
	return nil
}

func relativeSpecs(base string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if rel, err := filepath.Rel(base, p); err == nil && !strings.HasPrefix(rel, "..") {
			p = rel
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		out = append(out, "(no specs)")
	}
	return out
}

// Drive a full run
func newDrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Dispatch every task, holding each slot for --hold, and journal the run",
		RunE: func(cmd *cobra.Command, args []string) error {
			suite, _ := cmd.Flags().GetString("suite")
			hold, _ := cmd.Flags().GetDuration("hold")
			perSecond, _ := cmd.Flags().GetFloat64("rate")
			dbPath, _ := cmd.Flags().GetString("db")

			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}
			s, err := buildScheduler(cfg, suite)
			if err != nil {
				return err
			}

			collector := telemetry.NewCollector(true, 30*time.Second)
			defer collector.Shutdown()

			r := &runner.Runner{
				Scheduler: s,
				Executor:  runner.HoldExecutor{Hold: hold},
				Collector: collector,
			}
			if perSecond > 0 {
				r.Limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
			}
			if dbPath != "" {
				db, err := store.Open(dbPath)
				if err != nil {
					return err
				}
				defer db.Close()
				r.Journal = db
			}

			res, err := r.Run(cmd.Context())
			if res != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s tasks, %d failed, %s\n",
					res.RunID, humanize.Comma(int64(res.Dispatched)), len(res.Failed), res.Duration.Round(time.Millisecond))
			}
			return err
		},
	}
	cmd.Flags().String("suite", "", "comma separated suites to run instead of specs")
	cmd.Flags().Duration("hold", time.Second, "time each task occupies its slot")
	cmd.Flags().Float64("rate", 0, "maximum task dispatches per second (0 for unlimited)")
	cmd.Flags().String("db", "specrun.db", "SQLite journal path (empty to disable)")
	return cmd
}

// Show a journaled run
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the journal of the latest or a given run",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")
			runID, _ := cmd.Flags().GetString("run")

			db, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
			return printHistory(cmd.Context(), cmd.OutOrStdout(), db, runID)
		},
	}
	cmd.Flags().String("db", "specrun.db", "SQLite journal path")
	cmd.Flags().String("run", "", "run id (default latest)")
	return cmd
}

func printHistory(ctx context.Context, w io.Writer, db *store.Store, runID string) error {
	var summary *api.RunSummary
	var err error
	if runID == "" {
		summary, err = db.LatestRun(ctx)
	} else {
		summary, err = db.Summary(ctx, runID)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "run %s started %s: %d tasks, %d failed\n",
		summary.RunID, humanize.Time(summary.StartedAt), summary.Tasks, summary.Failed)

	list, err := db.ListDispatches(ctx, summary.RunID)
	if err != nil {
		return err
	}
	for _, d := range list {
		took := "running"
		if d.ReleasedAt != nil {
			took = d.Duration().Round(time.Millisecond).String()
		}
		line := fmt.Sprintf("  %s\tlane=%d\t%s\t%s\t%d specs", d.TaskID, d.Lane, d.Status, took, len(d.Specs))
		if d.Error != "" {
			line += "\t" + d.Error
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
