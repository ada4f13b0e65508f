package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"jobloop/internal/app"
	"jobloop/internal/cli"
	"jobloop/internal/job"
	"jobloop/internal/job/builtin"
	"jobloop/pkg/logx"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Add application jobs next to the builtin ones.
	defs := func(log logx.Logger) []job.Definition {
		return builtin.Definitions(log)
	}

	root := cli.NewRoot(app.Options{Definitions: defs})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
