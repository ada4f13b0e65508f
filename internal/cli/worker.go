package cli

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"jobloop/internal/app"
	"jobloop/internal/config"
	"jobloop/internal/runtime/supervisor"
	"jobloop/internal/worker"
	"jobloop/pkg/logx"
)

type loopFlags struct {
	queue    string
	count    int
	interval string
	logging  bool
	verbose  bool
}

func (f *loopFlags) registerInterval(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.interval, "interval", "5", "poll interval in seconds or as a duration (1500ms)")
	cmd.Flags().BoolVarP(&f.logging, "logging", "l", false, "log every job")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log every job with its arguments")
}

func (f *loopFlags) registerWorkers(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.queue, "queue", config.DefaultQueue, "comma separated queues in priority order, or '*' for all")
	cmd.Flags().IntVar(&f.count, "count", config.DefaultCount, "number of worker units")
	f.registerInterval(cmd)
}

// applyWorker layers the worker flags the user set onto s.
func (f *loopFlags) applyWorker(cmd *cobra.Command, s *config.Settings) error {
	fl := cmd.Flags()
	if fl.Changed("queue") {
		s.Worker.Queues = config.ParseQueues(f.queue)
	}
	if fl.Changed("count") {
		s.Worker.Count = f.count
	}
	if fl.Changed("interval") {
		d, err := config.ParseInterval("--interval", f.interval, s.Worker.Interval)
		if err != nil {
			return err
		}
		s.Worker.Interval = d
	}
	s.Worker.Logging = s.Worker.Logging || f.logging
	s.Worker.Verbose = s.Worker.Verbose || f.verbose
	return nil
}

func (f *loopFlags) applyScheduler(cmd *cobra.Command, s *config.Settings) error {
	if cmd.Flags().Changed("interval") {
		d, err := config.ParseInterval("--interval", f.interval, s.Scheduler.Interval)
		if err != nil {
			return err
		}
		s.Scheduler.Interval = d
	}
	s.Scheduler.Logging = s.Scheduler.Logging || f.logging
	s.Scheduler.Verbose = s.Scheduler.Verbose || f.verbose
	return nil
}

func (r *root) workerCommand() *cobra.Command {
	var (
		f        loopFlags
		isolate  bool
		workerID int
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run worker units that drain the ready queues",
		Long: "Starts --count worker units. Units 0..count-2 run detached (goroutines, or child " +
			"processes with --isolate); the last unit runs in the foreground.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := r.open(cmd, func(s *config.Settings) error {
				if workerID >= 0 {
					s.Metrics.Enabled = false
				}
				return f.applyWorker(cmd, s)
			})
			if err != nil {
				return err
			}
			defer a.Close()

			if workerID >= 0 {
				return runChild(ctx(cmd), a, workerID)
			}
			var launcher *worker.ProcessLauncher
			if isolate {
				launcher = &worker.ProcessLauncher{
					Args:   childArgs(os.Args[1:]),
					Stdout: cmd.OutOrStdout(),
					Stderr: cmd.ErrOrStderr(),
				}
			}
			pool, err := a.NewPool(launcher)
			if err != nil {
				return err
			}
			return a.Serve(ctx(cmd), "worker", pool.Run)
		},
	}
	f.registerWorkers(cmd)
	cmd.Flags().BoolVar(&isolate, "isolate", false, "run detached units as child processes")
	cmd.Flags().IntVar(&workerID, "worker-id", -1, "run only this unit (used by --isolate)")
	_ = cmd.Flags().MarkHidden("worker-id")
	return cmd
}

// runChild is the body of an isolated unit. The parent owns metrics, config
// reload and systemd notifications.
func runChild(ctx context.Context, a *app.App, id int) error {
	w, err := a.NewQueueWorker(id)
	if err != nil {
		return err
	}
	a.Logger().Debug("worker.child_started", logx.Int("worker", id), logx.Int("pid", os.Getpid()))
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// childArgs rebuilds the parent's command line for unit id, without the
// flags that only make sense in the parent.
func childArgs(parent []string) func(id int) []string {
	kept := make([]string, 0, len(parent))
	for i := 0; i < len(parent); i++ {
		a := parent[i]
		switch {
		case a == "--isolate" || strings.HasPrefix(a, "--isolate="):
		case strings.HasPrefix(a, "--worker-id="):
		case a == "--worker-id":
			i++
		default:
			kept = append(kept, a)
		}
	}
	return func(id int) []string {
		out := make([]string, 0, len(kept)+1)
		out = append(out, kept...)
		return append(out, "--worker-id="+strconv.Itoa(id))
	}
}

func (r *root) schedulerCommand() *cobra.Command {
	var f loopFlags
	cmd := &cobra.Command{
		Use:   "scheduler-worker",
		Short: "Move due delayed entries onto their ready queues",
		Long: "Resyncs all recurring jobs once, then polls the delayed store every " +
			"--interval and pushes due entries to their queues.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := r.open(cmd, func(s *config.Settings) error { return f.applyScheduler(cmd, s) })
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.NewPoller()
			if err != nil {
				return err
			}
			return a.Serve(ctx(cmd), "scheduler", p.Run)
		},
	}
	f.registerInterval(cmd)
	return cmd
}

func (r *root) runCommand() *cobra.Command {
	var f loopFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and the workers in one process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := r.open(cmd, func(s *config.Settings) error {
				if err := f.applyWorker(cmd, s); err != nil {
					return err
				}
				return f.applyScheduler(cmd, s)
			})
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.NewPoller()
			if err != nil {
				return err
			}
			pool, err := a.NewPool(nil)
			if err != nil {
				return err
			}
			return a.Serve(ctx(cmd), "run", func(ctx context.Context) error {
				sup := supervisor.New(ctx,
					supervisor.WithLogger(a.Logger().With(logx.String("comp", "run"))),
					supervisor.WithCancelOnError(true),
				)
				sup.Go("scheduler", p.Run)
				sup.Go("workers", pool.Run)
				<-sup.Context().Done()
				return sup.Stop(context.Background())
			})
		},
	}
	f.registerWorkers(cmd)
	return cmd
}
