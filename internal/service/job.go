package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CZERTAINLY/jobcast/internal/broadcast"
	"github.com/CZERTAINLY/jobcast/internal/model"
	"github.com/google/uuid"
)

// recentEvents is how many last events a Status carries
const recentEvents = 20

// Info is a point in time view of a job passed to observers.
type Info struct {
	ID        string
	Type      model.JobType
	State     model.State
	StartedAt time.Time
	EndedAt   time.Time
}

// Observer is notified about every event entering a job history, in history
// order. It is called with the job locked: it must not block and must not
// call back into the job or the registry.
type Observer func(ctx context.Context, info Info, e model.Event)

// Job is one run of a worker for a given job type.
type Job struct {
	id        string
	typ       model.JobType
	command   model.Command
	now       func() time.Time
	observers []Observer

	mx      sync.Mutex
	state   model.State
	started time.Time
	ended   time.Time
	runner  *Runner
	events  *broadcast.Channel[model.Event]
	done    chan struct{}
}

func newJob(typ model.JobType, command model.Command, now func() time.Time, observers []Observer, opts ...broadcast.Option) *Job {
	return &Job{
		id:        uuid.NewString(),
		typ:       typ,
		command:   command,
		now:       now,
		observers: observers,
		state:     model.StateQueued,
		events:    broadcast.New[model.Event](opts...),
		done:      make(chan struct{}),
	}
}

// launch spawns the worker. The job stays locked until the state is
// settled, so events of a fast worker can't overtake the Running transition.
func (j *Job) launch(ctx context.Context) {
	j.mx.Lock()
	runner, err := StartRunner(ctx, j.command, j.publish)
	if err != nil {
		j.mx.Unlock()
		slog.ErrorContext(ctx, "spawning worker failed", "path", j.command.Path, "error", err)
		j.publish(ctx, model.Terminal(model.StateFailed, err.Error()))
		return
	}
	j.runner = runner
	j.state = model.StateRunning
	j.started = j.now()
	j.mx.Unlock()
	slog.InfoContext(ctx, "job started", "pid", runner.Pid())
}

// publish appends e to the history. Events after the terminal one are
// dropped.
func (j *Job) publish(ctx context.Context, e model.Event) {
	j.mx.Lock()
	defer j.mx.Unlock()
	if j.state.Terminal() {
		slog.WarnContext(ctx, "event after job end: ignoring", "kind", e.Kind)
		return
	}

	e.Seq = j.events.Size()
	e.Time = j.now().UTC()
	if e.IsTerminal() {
		j.state = e.Outcome
		j.ended = e.Time
		_ = j.events.Close(e)
		close(j.done)
		slog.InfoContext(ctx, "job finished", "outcome", e.Outcome, "detail", e.Detail)
	} else {
		_ = j.events.Publish(e)
	}

	info := j.info()
	for _, o := range j.observers {
		o(ctx, info, e)
	}
}

func (j *Job) info() Info {
	return Info{
		ID:        j.id,
		Type:      j.typ,
		State:     j.state,
		StartedAt: j.started,
		EndedAt:   j.ended,
	}
}

func (j *Job) ID() string {
	return j.id
}

func (j *Job) Type() model.JobType {
	return j.typ
}

func (j *Job) State() model.State {
	j.mx.Lock()
	defer j.mx.Unlock()
	return j.state
}

func (j *Job) Info() Info {
	j.mx.Lock()
	defer j.mx.Unlock()
	return j.info()
}

// Cancel requests termination of the worker. It returns immediately, the
// outcome arrives as the Terminal event. Calling it on a finished job is a
// no-op.
func (j *Job) Cancel() {
	j.mx.Lock()
	runner := j.runner
	terminal := j.state.Terminal()
	j.mx.Unlock()
	if terminal || runner == nil {
		return
	}
	runner.Cancel()
}

func (j *Job) kill() {
	j.mx.Lock()
	runner := j.runner
	terminal := j.state.Terminal()
	j.mx.Unlock()
	if terminal || runner == nil {
		return
	}
	runner.Kill()
}

// Subscribe attaches a new observer. The caller owns the subscription and
// must Close it.
func (j *Job) Subscribe() *broadcast.Subscription[model.Event] {
	return j.events.Attach()
}

// History returns a copy of all events so far.
func (j *Job) History() []model.Event {
	return j.events.History()
}

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job ends or ctx is done.
func (j *Job) Wait(ctx context.Context) (model.State, error) {
	select {
	case <-j.done:
		return j.State(), nil
	default:
	}
	select {
	case <-j.done:
		return j.State(), nil
	case <-ctx.Done():
		return j.State(), ctx.Err()
	}
}

type Status struct {
	ID          string        `json:"id"`
	Type        model.JobType `json:"type"`
	State       model.State   `json:"state"`
	IsTerminal  bool          `json:"is_terminal"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	Buffered    int           `json:"buffered_events"`
	Subscribers int           `json:"subscribers"`
	Recent      []model.Event `json:"recent_events"`
}

func (j *Job) Status() Status {
	j.mx.Lock()
	defer j.mx.Unlock()
	st := Status{
		ID:          j.id,
		Type:        j.typ,
		State:       j.state,
		IsTerminal:  j.state.Terminal(),
		Buffered:    j.events.Size(),
		Subscribers: j.events.Subscribers(),
		Recent:      j.events.Tail(recentEvents),
	}
	if !j.started.IsZero() {
		started := j.started
		st.StartedAt = &started
	}
	if !j.ended.IsZero() {
		ended := j.ended
		st.EndedAt = &ended
	}
	return st
}

// expired reports whether a terminal job ended at least retention ago.
func (j *Job) expired(now time.Time, retention time.Duration) bool {
	j.mx.Lock()
	defer j.mx.Unlock()
	return j.state.Terminal() && !now.Before(j.ended.Add(retention))
}
