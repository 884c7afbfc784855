package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/jobcast/internal/log"
	"github.com/CZERTAINLY/jobcast/internal/model"
)

var runCmd = &cobra.Command{
	Use:   "run <jobType>",
	Short: "run executes one configured job and prints its events as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return doRun(cmd.Context(), model.JobType(args[0]), os.Stdout)
	},
}

// doRun fails unless the job completes. An interrupt cancels the job and
// waits for its terminal event.
func doRun(ctx context.Context, typ model.JobType, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("jobcast",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	reg, err := newRegistry(config)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = reg.Close(closeCtx)
	}()

	job, err := reg.Launch(ctx, typ)
	if err != nil {
		return fmt.Errorf("launching %s: %w", typ, err)
	}
	sub := job.Subscribe()
	defer sub.Close()
	stopCancel := context.AfterFunc(ctx, job.Cancel)
	defer stopCancel()

	enc := json.NewEncoder(out)
	for e := range sub.All(context.WithoutCancel(ctx)) {
		if err := enc.Encode(e); err != nil {
			job.Cancel()
			return fmt.Errorf("writing event: %w", err)
		}
	}
	if err := sub.Err(); err != nil {
		job.Cancel()
		return fmt.Errorf("reading events: %w", err)
	}

	state, err := job.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	if state != model.StateCompleted {
		return fmt.Errorf("job %s %s", typ, state)
	}
	return nil
}
