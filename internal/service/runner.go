package service

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/CZERTAINLY/jobcast/internal/lineproto"
	"github.com/CZERTAINLY/jobcast/internal/model"
	"golang.org/x/sync/errgroup"
)

// maxLineSize is the longest worker output line accepted, longer lines are
// truncated
const maxLineSize = 1024 * 1024

// outputGrace is how long the readers may drain the pipes after the worker
// exited. Processes the worker left behind holding the pipes open are killed
// after it.
const outputGrace = time.Second

var ErrNoCommand = errors.New("command path is empty")

// EventFunc receives every parsed event of a worker. It is called from the
// stdout and stderr reader goroutines concurrently, so it must be safe for
// concurrent use.
type EventFunc func(ctx context.Context, e model.Event)

// Runner owns a single worker process for the lifetime of one job.
type Runner struct {
	mx        sync.Mutex
	cmd       *exec.Cmd
	cancelled bool
	exited    bool
	result    Result
	done      chan struct{}
}

type Result struct {
	Path     string
	Args     []string
	Started  time.Time
	Stopped  time.Time
	ExitCode int
	Err      error
	Outcome  model.State
}

// StartRunner spawns the worker and returns once the process is started. It
// returns a spawn error (*exec.Error, *fs.PathError) when the executable
// cannot be launched; sink is never called in that case.
//
// Worker output is consumed by two goroutines, one per stream, which parse
// each line and pass it to sink. Lines within a stream keep their order,
// there is no ordering between streams. After the process exits and both
// streams are drained, sink receives exactly one Terminal event.
func StartRunner(ctx context.Context, proto model.Command, sink EventFunc) (*Runner, error) {
	if proto.Path == "" {
		return nil, ErrNoCommand
	}

	cmd := exec.Command(proto.Path, proto.Args...)
	cmd.Dir = proto.Dir
	if len(proto.Env) > 0 {
		cmd.Env = append(os.Environ(), proto.Env...)
	}
	configure(cmd)

	// *os.File outputs make cmd.Wait return on process exit, not when
	// every holder of the pipes is gone
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdout, stdoutW)
		return nil, err
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	r := &Runner{
		cmd: cmd,
		result: Result{
			Path: proto.Path,
			Args: append([]string(nil), proto.Args...),
		},
		done: make(chan struct{}),
	}

	r.result.Started = time.Now().UTC()
	err = cmd.Start()
	closeAll(stdoutW, stderrW)
	if err != nil {
		closeAll(stdout, stderr)
		return nil, err
	}
	slog.DebugContext(ctx, "worker started", "path", proto.Path, "pid", cmd.Process.Pid)

	var g errgroup.Group
	g.Go(func() error {
		return readLines(ctx, stdout, lineproto.Parse, sink)
	})
	g.Go(func() error {
		return readLines(ctx, stderr, lineproto.ParseStderr, sink)
	})
	go r.wait(ctx, &g, sink, stdout, stderr)
	return r, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// readLines passes every line of rd to sink. A line longer than maxLineSize
// is cut, followed by an Error event saying so, and reading goes on with the
// next line.
func readLines(ctx context.Context, rd io.Reader, parse func(string) model.Event, sink EventFunc) error {
	br := bufio.NewReaderSize(rd, 64*1024)
	line := make([]byte, 0, 64*1024)
	var truncated bool
	for {
		frag, err := br.ReadSlice('\n')
		if room := maxLineSize - len(line); len(frag) > room {
			frag = frag[:room]
			truncated = true
		}
		line = append(line, frag...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if len(line) > 0 || truncated {
			text := strings.TrimSuffix(string(line), "\n")
			sink(ctx, parse(text))
			if truncated {
				sink(ctx, model.Error("output line truncated to "+strconv.Itoa(maxLineSize)+" bytes"))
			}
		}
		line, truncated = line[:0], false

		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed):
			return nil
		default:
			slog.ErrorContext(ctx, "reading worker output", "error", err)
			// worker must never block on a full pipe
			_, _ = io.Copy(io.Discard, rd)
			return err
		}
	}
}

func (r *Runner) wait(ctx context.Context, g *errgroup.Group, sink EventFunc, pipes ...*os.File) {
	err := r.cmd.Wait()
	stopped := time.Now().UTC()

	// Cancel is a no-op from now on: the outcome is decided by the exit
	// alone. A Cancel racing the exit itself counts as a cancellation.
	r.mx.Lock()
	r.exited = true
	r.result.Stopped = stopped
	r.result.Err = err
	r.result.ExitCode = r.cmd.ProcessState.ExitCode()
	outcome, detail := r.outcome(err)
	r.result.Outcome = outcome
	r.mx.Unlock()
	slog.DebugContext(ctx, "worker exited", "outcome", outcome, "detail", detail)

	drained := make(chan struct{})
	go func() {
		_ = g.Wait() // read errors are logged by readLines
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(outputGrace):
		slog.WarnContext(ctx, "worker left processes holding its output: killing them", "pid", r.cmd.Process.Pid)
		if err := kill(r.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.WarnContext(ctx, "killing leftover processes", "error", err)
		}
		closeAll(pipes...)
		<-drained
	}
	closeAll(pipes...)

	sink(ctx, model.Terminal(outcome, detail))
	close(r.done)
}

// outcome maps process exit to a terminal state: exit code 0 is the only
// success, anything else is a cancellation if Cancel was called before.
func (r *Runner) outcome(err error) (model.State, string) {
	if err == nil {
		return model.StateCompleted, ""
	}
	var detail string
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		detail = "exit code " + strconv.Itoa(exitErr.ExitCode())
	} else {
		detail = err.Error()
	}
	if r.cancelled {
		return model.StateCancelled, detail
	}
	return model.StateFailed, detail
}

// Cancel asks the worker to terminate. It does not wait for the exit and is
// a no-op when called again or after the worker exited.
func (r *Runner) Cancel() {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cancelled || r.exited {
		return
	}
	r.cancelled = true
	if err := terminate(r.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Warn("terminating worker", "pid", r.cmd.Process.Pid, "error", err)
	}
}

// Kill forcibly stops a worker which ignored Cancel.
func (r *Runner) Kill() {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.exited {
		return
	}
	r.cancelled = true
	if err := kill(r.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Warn("killing worker", "pid", r.cmd.Process.Pid, "error", err)
	}
}

// Done is closed after the Terminal event was passed to the sink.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Result returns the process result, it is complete once Done is closed.
func (r *Runner) Result() Result {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.result
}

func (r *Runner) Pid() int {
	return r.cmd.Process.Pid
}
