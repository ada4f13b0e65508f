package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"jobloop/internal/errs"
	"jobloop/internal/runtime/supervisor"
	"jobloop/pkg/logx"
)

// ProcessLauncher re-executes a binary once per detached unit. Children are
// interrupted when the pool's context ends and killed after WaitDelay.
type ProcessLauncher struct {
	// Path defaults to the running executable.
	Path string
	// Args returns the command line for unit id.
	Args      func(id int) []string
	Env       []string
	Stdout    io.Writer
	Stderr    io.Writer
	WaitDelay time.Duration
	Log       logx.Logger
}

func (l *ProcessLauncher) path() (string, error) {
	if l.Path != "" {
		return l.Path, nil
	}
	return os.Executable()
}

func (l *ProcessLauncher) command(ctx context.Context, id int) (*exec.Cmd, error) {
	path, err := l.path()
	if err != nil {
		return nil, err
	}
	var args []string
	if l.Args != nil {
		args = l.Args(id)
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = l.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 10 * time.Second
	}
	return cmd, nil
}

// startAll starts n children. If any fails to start, the ones already running
// are killed and reaped before the error is returned.
func (l *ProcessLauncher) startAll(sup *supervisor.Supervisor, n int) error {
	ctx := sup.Context()
	started := make([]*exec.Cmd, 0, n)
	for id := 0; id < n; id++ {
		cmd, err := l.command(ctx, id)
		if err == nil {
			err = cmd.Start()
		}
		if err != nil {
			for _, c := range started {
				_ = c.Process.Kill()
				_ = c.Wait()
			}
			return errs.Resource("worker.spawn", fmt.Errorf("start worker %d: %w", id, err))
		}
		started = append(started, cmd)
	}
	for id, cmd := range started {
		l.Log.Debug("worker.process_started", logx.Int("worker", id), logx.Int("pid", cmd.Process.Pid))
		sup.Go(unitName(id), func(ctx context.Context) error {
			err := cmd.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	return nil
}
