// Package cli is the jobloop command tree.
//
//	jobloop show                      list jobs with next run and ETA
//	jobloop populate [job...]         resync recurring jobs into the delayed store
//	jobloop enqueue <job>             push a one-shot job (--queue, --args, --at)
//	jobloop unschedule <job>          remove delayed entries of a job
//	jobloop worker                    run worker units (--queue, --count, --interval, -l, -v)
//	jobloop scheduler-worker          run the delayed-entry poller
//	jobloop run                       poller and workers in one process
//
// Every command takes --config plus the backend flags. Values resolve as
// defaults < environment < config file < flags.
package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"jobloop/internal/app"
	"jobloop/internal/config"
	"jobloop/internal/errs"
)

type globalFlags struct {
	config    string
	driver    string
	redis     string
	database  int
	namespace string
	sqlite    string
}

type root struct {
	base  app.Options
	flags globalFlags
}

// NewRoot builds the command tree. base carries the job definitions and
// anything the caller wants to inject; per-command settings are layered on
// top of it.
func NewRoot(base app.Options) *cobra.Command {
	r := &root{base: base}

	cmd := &cobra.Command{
		Use:           "jobloop",
		Short:         "Delayed and recurring jobs over a resque-compatible backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&r.flags.config, "config", "c", "", "config file (JSON or YAML)")
	pf.StringVar(&r.flags.driver, "driver", config.DefaultDriver, "backend driver: redis, sqlite or memory")
	pf.StringVar(&r.flags.redis, "redis-backend", config.DefaultRedisAddr, "redis address or redis:// URL")
	pf.IntVar(&r.flags.database, "redis-database", config.DefaultRedisDB, "redis database number")
	pf.StringVar(&r.flags.namespace, "namespace", "resque:", "redis key prefix")
	pf.StringVar(&r.flags.sqlite, "sqlite-path", config.DefaultSQLite, "sqlite database file")

	cmd.AddCommand(
		r.showCommand(),
		r.populateCommand(),
		r.enqueueCommand(),
		r.unscheduleCommand(),
		r.workerCommand(),
		r.schedulerCommand(),
		r.runCommand(),
	)
	return cmd
}

// applyGlobal copies the backend flags the user actually set.
func (r *root) applyGlobal(cmd *cobra.Command, s *config.Settings) {
	f := cmd.Flags()
	if f.Changed("driver") {
		s.Backend.Driver = strings.ToLower(strings.TrimSpace(r.flags.driver))
	}
	if f.Changed("redis-backend") {
		s.Backend.Addr = r.flags.redis
	}
	if f.Changed("redis-database") {
		s.Backend.Database = r.flags.database
	}
	if f.Changed("namespace") {
		s.Backend.Namespace = r.flags.namespace
	}
	if f.Changed("sqlite-path") {
		s.Backend.Path = r.flags.sqlite
	}
}

// open builds the app for cmd. extra applies command-specific flags.
func (r *root) open(cmd *cobra.Command, extra func(*config.Settings) error) (*app.App, error) {
	return r.openWith(cmd, r.base, extra)
}

func (r *root) openWith(cmd *cobra.Command, opts app.Options, extra func(*config.Settings) error) (*app.App, error) {
	opts.ConfigPath = r.flags.config
	if opts.Out == nil {
		opts.Out = cmd.OutOrStdout()
	}
	base := opts.Override
	opts.Override = func(s *config.Settings) error {
		if base != nil {
			if err := base(s); err != nil {
				return err
			}
		}
		r.applyGlobal(cmd, s)
		if extra != nil {
			return errs.Configuration("cli", extra(s))
		}
		return nil
	}
	return app.New(ctx(cmd), opts)
}

func ctx(cmd *cobra.Command) context.Context {
	if c := cmd.Context(); c != nil {
		return c
	}
	return context.Background()
}
