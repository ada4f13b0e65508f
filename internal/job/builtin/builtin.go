// Package builtin holds the jobs every jobloop binary ships with.
package builtin

import (
	"context"
	"time"

	"jobloop/internal/job"
	"jobloop/internal/schedule"
	"jobloop/pkg/logx"
)

// PingSchedule runs Ping every quarter hour.
const PingSchedule = "*/15 * * * *"

// Definitions returns the builtin job types. Jobs log through log.
func Definitions(log logx.Logger) []job.Definition {
	return []job.Definition{
		{
			Name:        "Ping",
			Schedule:    &schedule.Spec{Expression: PingSchedule},
			Timeout:     time.Minute,
			Description: "heartbeat; proves the scheduler and a worker are alive",
			New:         func() job.Job { return &Ping{log: log.With(logx.String("job", "Ping"))} },
		},
		{
			Name:        "Echo",
			Description: "logs its arguments",
			New:         func() job.Job { return &Echo{log: log.With(logx.String("job", "Echo"))} },
		},
	}
}

// Ping logs a heartbeat.
type Ping struct {
	log     logx.Logger
	started time.Time
}

func (p *Ping) SetUp(context.Context) error {
	p.started = time.Now()
	return nil
}

func (p *Ping) Execute(ctx context.Context, _ job.Args) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.log.Info("ping.pong")
	return nil
}

func (p *Ping) TearDown(context.Context) {
	p.log.Debug("ping.done", logx.Duration("took", time.Since(p.started)))
}

// Echo logs its arguments.
type Echo struct {
	log logx.Logger
}

func (e *Echo) Execute(_ context.Context, args job.Args) error {
	raw, err := args.Encode()
	if err != nil {
		return err
	}
	e.log.Info("echo", logx.String("args", string(raw)))
	return nil
}
