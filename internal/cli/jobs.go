package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"jobloop/internal/app"
	"jobloop/internal/errs"
	"jobloop/internal/job"
	"jobloop/internal/store"
	"jobloop/pkg/logx"
)

func (r *root) populateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "populate [job...]",
		Short: "Resync recurring jobs into the delayed store",
		Long: "Removes the pending entry of every recurring job (or only the named ones) " +
			"and schedules it again at its next execution time.",
		RunE: func(cmd *cobra.Command, names []string) error {
			a, err := r.open(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Registrar().Populate(ctx(cmd), a.Now(), names...)
			fmt.Fprintf(cmd.OutOrStdout(), "A total number of %d jobs were enqueued.\n", n)
			return err
		},
	}
}

type identityFlags struct {
	queue string
	args  string
	at    string
}

func (f *identityFlags) register(cmd *cobra.Command, atUsage string) {
	cmd.Flags().StringVar(&f.queue, "queue", job.DefaultQueue, "queue name (defaults to the job's own queue)")
	cmd.Flags().StringVar(&f.args, "args", "[]", "job arguments as a JSON array")
	cmd.Flags().StringVar(&f.at, "at", "", atUsage)
}

// resolve validates the job name and arguments. An unset --queue means the
// queue the job is defined with.
func (f *identityFlags) resolve(cmd *cobra.Command, a *app.App, name string) (job.Definition, string, job.Args, error) {
	def, err := a.Registry().Resolve(name)
	if err != nil {
		return job.Definition{}, "", nil, err
	}
	queue := def.QueueName()
	if cmd.Flags().Changed("queue") {
		if f.queue == "" {
			return job.Definition{}, "", nil, errs.Configuration("cli", errors.New("--queue must not be empty"))
		}
		queue = f.queue
	}
	args, err := job.ParseArgs(f.args)
	if err != nil {
		return job.Definition{}, "", nil, errs.Configuration("cli", err)
	}
	return def, queue, args, nil
}

func parseAt(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errs.Configuration("cli", fmt.Errorf("--at: %w", err))
	}
	return t, nil
}

func (r *root) enqueueCommand() *cobra.Command {
	var f identityFlags
	cmd := &cobra.Command{
		Use:   "enqueue <job>",
		Short: "Push a one-shot job onto a ready queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			a, err := r.open(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			def, queue, args, err := f.resolve(cmd, a, argv[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if f.at != "" {
				at, err := parseAt(f.at)
				if err != nil {
					return err
				}
				e := store.NewEntry(at, queue, def.Name, args)
				if err := a.Backend().Insert(ctx(cmd), e); err != nil {
					return err
				}
				a.Logger().Info("entry.scheduled", logx.String("job", def.Name), logx.String("queue", queue), logx.Time("run_at", e.RunAt))
				fmt.Fprintf(out, "Scheduled job '%s' in queue '%s' for %s.\n", def.Name, queue, e.RunAt.In(at.Location()).Format(time.RFC1123Z))
				return nil
			}

			in := job.NewInstance(def.Name, queue, args)
			if err := a.Backend().Push(ctx(cmd), in); err != nil {
				return err
			}
			a.Logger().Info("job.enqueued", logx.String("job", def.Name), logx.String("queue", queue), logx.String("id", in.ID))
			fmt.Fprintf(out, "Enqueued job '%s' in queue '%s'.\n", def.Name, queue)
			return nil
		},
	}
	f.register(cmd, "schedule for this RFC3339 time instead of running now")
	return cmd
}

func (r *root) unscheduleCommand() *cobra.Command {
	var f identityFlags
	cmd := &cobra.Command{
		Use:   "unschedule <job>",
		Short: "Remove pending delayed entries of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			a, err := r.open(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			def, queue, args, err := f.resolve(cmd, a, argv[0])
			if err != nil {
				return err
			}
			var n int
			if f.at != "" {
				at, err := parseAt(f.at)
				if err != nil {
					return err
				}
				n, err = a.Backend().RemoveExact(ctx(cmd), store.NewEntry(at, queue, def.Name, args))
				if err != nil {
					return err
				}
			} else {
				n, err = a.Backend().RemoveAll(ctx(cmd), queue, def.Name, args)
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries of job '%s' from queue '%s'.\n", n, def.Name, queue)
			return nil
		},
	}
	f.register(cmd, "only remove the entry due at this RFC3339 time")
	return cmd
}
