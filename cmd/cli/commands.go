package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/vk/weftgo/internal/app"
	"github.com/vk/weftgo/internal/engine"
	"github.com/vk/weftgo/internal/graph"
	"github.com/vk/weftgo/internal/scheduler"
)

// withEngine handles the shared setup and teardown around a single engine
// operation: config validation, logger wiring, plan loading, and store
// lifetime.
func withEngine(flags *rootFlags, fn func(ctx context.Context, a *app.App, eng *engine.Engine) error) error {
	cfg, err := app.NewConfig(app.Config{
		PlanPath:  flags.planPath,
		StoreDir:  flags.storeDir,
		LogLevel:  flags.logLevel,
		LogFormat: flags.logFormat,
		Workers:   flags.workers,
	})
	if err != nil {
		return err
	}
	a := app.New(cfg, nil)
	ctx := a.Context(context.Background(), os.Stderr)
	eng, closeStore, err := a.OpenEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, a, eng)
}

func newRunCmd(flags *rootFlags, outW io.Writer) *cobra.Command {
	var force []string
	var upTo string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the pipeline, rebuilding only what is stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(flags, func(ctx context.Context, a *app.App, eng *engine.Engine) error {
				report, err := eng.Run(ctx, engine.RunOptions{
					Workers: a.Workers(),
					Force:   force,
					UpTo:    upTo,
				})
				if err != nil {
					return err
				}
				printReport(outW, report)
				if report.Failed {
					return errors.New("run finished with errors")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&force, "force", nil, "Tasks to rebuild regardless of freshness.")
	cmd.Flags().StringVar(&upTo, "up-to", "", "Run only the named task and its ancestors.")
	return cmd
}

func printReport(outW io.Writer, report *scheduler.RunReport) {
	completed, skipped := 0, 0
	for _, n := range report.Nodes {
		switch n.Status {
		case graph.StatusCompleted:
			completed++
			fmt.Fprintf(outW, "built    %s (%s)\n", n.ID, n.Duration.Round(time.Millisecond))
		case graph.StatusSkipped:
			skipped++
			fmt.Fprintf(outW, "skipped  %s\n", n.ID)
		case graph.StatusErrored:
			fmt.Fprintf(outW, "errored  %s: %s\n", n.ID, n.Error)
		case graph.StatusPending:
			fmt.Fprintf(outW, "blocked  %s\n", n.ID)
		}
		for _, w := range n.Warnings {
			fmt.Fprintf(outW, "  warning: %s\n", w)
		}
	}
	fmt.Fprintf(outW, "%d built, %d skipped in %s\n",
		completed, skipped, report.Finished.Sub(report.Started).Round(time.Millisecond))
}

func newStatusCmd(flags *rootFlags, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report which tasks are stale without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(flags, func(ctx context.Context, a *app.App, eng *engine.Engine) error {
				statuses, err := eng.Status(ctx)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(statuses))
				for name := range statuses {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					f := statuses[name]
					if f.Stale {
						fmt.Fprintf(outW, "stale  %s (%s)\n", name, f.Reason)
					} else {
						fmt.Fprintf(outW, "fresh  %s\n", name)
					}
				}
				return nil
			})
		},
	}
}

func newReadCmd(flags *rootFlags, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "read <node>",
		Short: "Print the stored value of a task or branch as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(flags, func(ctx context.Context, a *app.App, eng *engine.Engine) error {
				v, err := eng.ReadValue(ctx, args[0])
				if err != nil {
					return err
				}
				out, err := ctyjson.Marshal(v, v.Type())
				if err != nil {
					return err
				}
				fmt.Fprintln(outW, string(out))
				return nil
			})
		},
	}
}

func newInvalidateCmd(flags *rootFlags, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <task>...",
		Short: "Force-mark tasks stale without deleting stored data",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(flags, func(ctx context.Context, a *app.App, eng *engine.Engine) error {
				for _, name := range args {
					if err := eng.Invalidate(ctx, name); err != nil {
						return err
					}
					fmt.Fprintf(outW, "invalidated %s\n", name)
				}
				return nil
			})
		},
	}
}

func newDeleteCmd(flags *rootFlags, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task>...",
		Short: "Purge the stored values and records of tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(flags, func(ctx context.Context, a *app.App, eng *engine.Engine) error {
				for _, name := range args {
					if err := eng.Delete(ctx, name); err != nil {
						return err
					}
					fmt.Fprintf(outW, "deleted %s\n", name)
				}
				return nil
			})
		},
	}
}

func newPruneCmd(flags *rootFlags, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete stored entries that no longer belong to the plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(flags, func(ctx context.Context, a *app.App, eng *engine.Engine) error {
				n, err := eng.Prune(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(outW, "pruned %d entries\n", n)
				return nil
			})
		},
	}
}
