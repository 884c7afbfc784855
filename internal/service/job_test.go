package service_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/jobcast/internal/model"
	"github.com/CZERTAINLY/jobcast/internal/service"
	"github.com/stretchr/testify/require"
)

func shell(t *testing.T, script string) model.Command {
	t.Helper()
	return model.Command{Path: lookSh(t), Args: []string{"-c", script}}
}

func wait(t *testing.T, job *service.Job) model.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	state, err := job.Wait(ctx)
	require.NoError(t, err)
	return state
}

func requireHistory(t *testing.T, events []model.Event) {
	t.Helper()
	for i, e := range events {
		require.Equal(t, i, e.Seq)
		require.NotZero(t, e.Time)
		if i < len(events)-1 {
			require.False(t, e.IsTerminal(), "terminal event at %d of %d", i, len(events))
		}
	}
}

func TestJobCompleted(t *testing.T) {
	t.Parallel()

	reg := service.NewRegistry()
	job, err := reg.Start(t.Context(), "titles", shell(t, `echo "[1/2] (50%) a"; echo "[2/2] (100%) b"`))
	require.NoError(t, err)
	require.NotEmpty(t, job.ID())
	require.Equal(t, model.JobType("titles"), job.Type())

	require.Equal(t, model.StateCompleted, wait(t, job))

	history := job.History()
	requireHistory(t, history)
	require.Len(t, history, 3)
	require.Equal(t, model.KindProgress, history[0].Kind)
	last := history[len(history)-1]
	require.Equal(t, model.KindTerminal, last.Kind)
	require.Equal(t, model.StateCompleted, last.Outcome)

	st, err := reg.Status("titles")
	require.NoError(t, err)
	require.Equal(t, job.ID(), st.ID)
	require.Equal(t, model.StateCompleted, st.State)
	require.True(t, st.IsTerminal)
	require.Equal(t, 3, st.Buffered)
	require.NotNil(t, st.StartedAt)
	require.NotNil(t, st.EndedAt)
	require.Len(t, st.Recent, 3)
}

func TestJobFailed(t *testing.T) {
	t.Parallel()

	reg := service.NewRegistry()
	job, err := reg.Start(t.Context(), "images", shell(t, `echo "__ERROR__ disk full" ; echo oops 1>&2; exit 2`))
	require.NoError(t, err)
	require.Equal(t, model.StateFailed, wait(t, job))

	history := job.History()
	requireHistory(t, history)
	last := history[len(history)-1]
	require.Equal(t, model.StateFailed, last.Outcome)
	require.Equal(t, "exit code 2", last.Detail)

	var errs []string
	for _, e := range history {
		if e.Kind == model.KindError {
			errs = append(errs, e.Message)
		}
	}
	require.ElementsMatch(t, []string{"disk full", "oops"}, errs)
}

func TestJobSpawnError(t *testing.T) {
	t.Parallel()

	reg := service.NewRegistry()
	job, err := reg.Start(t.Context(), "missing", model.Command{Path: "does-not-exist"})
	require.NoError(t, err)
	require.Equal(t, model.StateFailed, job.State())
	require.Equal(t, model.StateFailed, wait(t, job))

	history := job.History()
	require.Len(t, history, 1)
	require.Equal(t, model.KindTerminal, history[0].Kind)
	require.Contains(t, history[0].Detail, "does-not-exist")

	st := job.Status()
	require.Nil(t, st.StartedAt)
	require.NotNil(t, st.EndedAt)
}

func TestJobCancel(t *testing.T) {
	t.Parallel()

	reg := service.NewRegistry()
	job, err := reg.Start(t.Context(), "cancel", shell(t, `trap "exit 3" TERM; echo started; while :; do sleep 0.05; done`))
	require.NoError(t, err)
	require.Equal(t, model.StateRunning, job.State())

	waitStarted(t, job)

	require.NoError(t, reg.Cancel("cancel"))
	require.NoError(t, reg.Cancel("cancel"))
	require.Equal(t, model.StateCancelled, wait(t, job))
	require.NoError(t, reg.Cancel("cancel"))

	history := job.History()
	requireHistory(t, history)
	last := history[len(history)-1]
	require.Equal(t, model.StateCancelled, last.Outcome)
	require.Equal(t, "exit code 3", last.Detail)
}

func waitStarted(t *testing.T, job *service.Job) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, e := range job.History() {
			if e.Kind == model.KindLog && e.Message == "started" {
				return true
			}
		}
		return false
	}, 10*time.Second, 10*time.Millisecond)
}

func TestNotFound(t *testing.T) {
	t.Parallel()

	reg := service.NewRegistry()
	_, err := reg.Subscribe("unknown")
	require.ErrorIs(t, err, model.ErrNotFound)
	require.ErrorIs(t, reg.Cancel("unknown"), model.ErrNotFound)
	_, err = reg.Status("unknown")
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = reg.Launch(t.Context(), "unknown")
	require.ErrorIs(t, err, model.ErrUnknownJobType)
}

func TestSingleActiveJob(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	counter := filepath.Join(t.TempDir(), "spawned")
	cmd := model.Command{
		Path: sh,
		Args: []string{"-c", `echo x >> "$COUNTER"; exec sleep 10`},
		Env:  []string{"COUNTER=" + counter},
	}
	reg := service.NewRegistry()

	const callers = 16
	jobs := make([]*service.Job, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Go(func() {
			jobs[i], errs[i] = reg.Start(t.Context(), "single", cmd)
		})
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		require.Same(t, jobs[0], jobs[i])
	}

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(counter)
		return err == nil && len(b) > 0
	}, 5*time.Second, 10*time.Millisecond)
	jobs[0].Cancel()
	require.Equal(t, model.StateCancelled, wait(t, jobs[0]))

	b, err := os.ReadFile(counter)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(b), "x"))
}

func TestSupersede(t *testing.T) {
	t.Parallel()

	reg := service.NewRegistry()
	first, err := reg.Start(t.Context(), "again", shell(t, "exit 0"))
	require.NoError(t, err)
	wait(t, first)

	second, err := reg.Start(t.Context(), "again", shell(t, "exit 1"))
	require.NoError(t, err)
	require.NotEqual(t, first.ID(), second.ID())
	require.Equal(t, model.StateFailed, wait(t, second))
	// the first job keeps its outcome
	require.Equal(t, model.StateCompleted, first.State())

	st, err := reg.Status("again")
	require.NoError(t, err)
	require.Equal(t, second.ID(), st.ID)
}

func TestReplayCompleteness(t *testing.T) {
	t.Parallel()

	reg := service.NewRegistry(service.WithBuffer(1024))
	job, err := reg.Start(t.Context(), "replay", shell(t, `i=0; while [ $i -lt 200 ]; do i=$((i+1)); echo "[$i/200] ($((i/2))%) f$i"; done`))
	require.NoError(t, err)

	// subscribers join at different points while the worker is writing
	var subs []func() []model.Event
	for range 5 {
		sub, err := reg.Subscribe("replay")
		require.NoError(t, err)
		t.Cleanup(sub.Close)
		subs = append(subs, func() []model.Event {
			got := sub.Replay()
			for e := range sub.Live() {
				got = append(got, e)
			}
			require.NoError(t, sub.Err())
			return got
		})
		time.Sleep(time.Millisecond)
	}

	wait(t, job)
	history := job.History()
	require.Len(t, history, 201)
	requireHistory(t, history)
	for _, collect := range subs {
		require.Equal(t, history, collect())
	}

	// late subscriber of a terminated job gets everything too
	sub, err := reg.Subscribe("replay")
	require.NoError(t, err)
	defer sub.Close()
	require.Equal(t, history, sub.Replay())
	_, ok := <-sub.Live()
	require.False(t, ok)
}

func TestObserver(t *testing.T) {
	t.Parallel()

	var mx sync.Mutex
	var seen []model.Event
	var infos []service.Info
	reg := service.NewRegistry(service.WithObserver(func(_ context.Context, info service.Info, e model.Event) {
		mx.Lock()
		defer mx.Unlock()
		seen = append(seen, e)
		infos = append(infos, info)
	}))
	job, err := reg.Start(t.Context(), "observed", shell(t, "echo one; echo two"))
	require.NoError(t, err)
	wait(t, job)

	mx.Lock()
	defer mx.Unlock()
	require.Equal(t, job.History(), seen)
	last := infos[len(infos)-1]
	require.Equal(t, job.ID(), last.ID)
	require.Equal(t, model.StateCompleted, last.State)
	require.False(t, last.EndedAt.IsZero())
}

func TestLaunch(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	reg := service.NewRegistry(service.WithLaunchSpecs(map[string]model.JobSpec{
		"hello": {Path: sh, Args: []string{"-c", `echo "$GREETING"`}, Env: map[string]string{"GREETING": "hi"}},
		"bye":   {Path: sh, Args: []string{"-c", "true"}},
	}))
	require.Equal(t, []model.JobType{"bye", "hello"}, reg.Types())

	job, err := reg.Launch(t.Context(), "hello")
	require.NoError(t, err)
	require.Equal(t, model.StateCompleted, wait(t, job))
	require.Equal(t, "hi", job.History()[0].Message)

	list := reg.List()
	require.Len(t, list, 1)
	require.Equal(t, model.JobType("hello"), list[0].Type)
}
