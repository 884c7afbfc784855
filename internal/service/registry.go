package service

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/CZERTAINLY/jobcast/internal/broadcast"
	"github.com/CZERTAINLY/jobcast/internal/log"
	"github.com/CZERTAINLY/jobcast/internal/model"
)

// DefaultRetention is how long a terminated job stays queryable.
const DefaultRetention = 5 * time.Minute

type registryOptions struct {
	retention time.Duration
	buffer    int
	now       func() time.Time
	observers []Observer
	specs     map[model.JobType]model.JobSpec
	onDrop    func(model.JobType)
}

type RegistryOption func(*registryOptions)

func WithRetention(d time.Duration) RegistryOption {
	return func(o *registryOptions) {
		if d >= 0 {
			o.retention = d
		}
	}
}

// WithBuffer sets how many undelivered events a subscriber may hold before
// it gets dropped.
func WithBuffer(n int) RegistryOption {
	return func(o *registryOptions) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithClock replaces time.Now, the clock decides event times and eviction.
func WithClock(now func() time.Time) RegistryOption {
	return func(o *registryOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func WithObserver(obs Observer) RegistryOption {
	return func(o *registryOptions) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithLaunchSpecs configures job types known to Launch.
func WithLaunchSpecs(specs map[string]model.JobSpec) RegistryOption {
	return func(o *registryOptions) {
		for name, spec := range specs {
			o.specs[model.JobType(name)] = spec
		}
	}
}

// WithDropHook is called when a slow subscriber of a job gets detached.
func WithDropHook(fn func(model.JobType)) RegistryOption {
	return func(o *registryOptions) {
		o.onDrop = fn
	}
}

// Registry keeps at most one job per job type: the running one, or the last
// terminated one until it is evicted or superseded.
type Registry struct {
	opts registryOptions

	mx     sync.Mutex
	closed bool
	jobs   map[model.JobType]*Job
}

func NewRegistry(opts ...RegistryOption) *Registry {
	o := registryOptions{
		retention: DefaultRetention,
		buffer:    broadcast.DefaultBuffer,
		now:       time.Now,
		specs:     make(map[model.JobType]model.JobSpec),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry{
		opts: o,
		jobs: make(map[model.JobType]*Job),
	}
}

// Start returns the active job of type typ, or launches a new one running
// command. A worker which cannot be spawned is not an error here: the
// returned job is already Failed. Start fails only when the registry is
// closed.
func (r *Registry) Start(ctx context.Context, typ model.JobType, command model.Command) (*Job, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.closed {
		return nil, model.ErrRegistryClosed
	}

	if job, ok := r.jobs[typ]; ok && !job.State().Terminal() {
		slog.DebugContext(ctx, "job already running: attaching", "job_type", typ, "job_id", job.ID())
		return job, nil
	}

	chanOpts := []broadcast.Option{broadcast.WithBuffer(r.opts.buffer)}
	if r.opts.onDrop != nil {
		onDrop := r.opts.onDrop
		chanOpts = append(chanOpts, broadcast.WithDropHook(func() { onDrop(typ) }))
	}
	job := newJob(typ, command, r.opts.now, r.opts.observers, chanOpts...)
	r.jobs[typ] = job

	// the job outlives the request which started it
	jobCtx := log.ContextAttrs(
		context.WithoutCancel(ctx),
		slog.String("job_type", string(typ)),
		slog.String("job_id", job.ID()),
	)
	job.launch(jobCtx)
	return job, nil
}

// Launch starts typ with its configured launch spec.
func (r *Registry) Launch(ctx context.Context, typ model.JobType) (*Job, error) {
	spec, ok := r.opts.specs[typ]
	if !ok {
		return nil, model.ErrUnknownJobType
	}
	return r.Start(ctx, typ, spec.Command())
}

// Types returns the configured job types in order.
func (r *Registry) Types() []model.JobType {
	types := make([]model.JobType, 0, len(r.opts.specs))
	for typ := range r.opts.specs {
		types = append(types, typ)
	}
	slices.Sort(types)
	return types
}

// Job returns the current job of type typ.
func (r *Registry) Job(typ model.JobType) (*Job, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	job, ok := r.jobs[typ]
	if !ok {
		return nil, model.ErrNotFound
	}
	return job, nil
}

// Subscribe attaches to the job of type typ. The subscription replays the
// whole history before the live events.
func (r *Registry) Subscribe(typ model.JobType) (*broadcast.Subscription[model.Event], error) {
	job, err := r.Job(typ)
	if err != nil {
		return nil, err
	}
	return job.Subscribe(), nil
}

// Cancel requests termination of the job of type typ. Cancelling a finished
// job succeeds and does nothing.
func (r *Registry) Cancel(typ model.JobType) error {
	job, err := r.Job(typ)
	if err != nil {
		return err
	}
	job.Cancel()
	return nil
}

func (r *Registry) Status(typ model.JobType) (Status, error) {
	job, err := r.Job(typ)
	if err != nil {
		return Status{}, err
	}
	return job.Status(), nil
}

// List returns status of all known jobs ordered by job type.
func (r *Registry) List() []Status {
	r.mx.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	r.mx.Unlock()

	ret := make([]Status, 0, len(jobs))
	for _, job := range jobs {
		ret = append(ret, job.Status())
	}
	slices.SortFunc(ret, func(a, b Status) int {
		return cmp.Compare(a.Type, b.Type)
	})
	return ret
}

// Sweep evicts jobs terminated at least the retention window ago and returns
// their count. Running jobs are never evicted.
func (r *Registry) Sweep() int {
	now := r.opts.now()
	r.mx.Lock()
	defer r.mx.Unlock()
	var n int
	for typ, job := range r.jobs {
		if job.expired(now, r.opts.retention) {
			slog.Debug("evicting job", "job_type", typ, "job_id", job.ID())
			delete(r.jobs, typ)
			n++
		}
	}
	return n
}

// Close refuses new jobs, cancels the running ones and waits until they
// end. Workers still alive when ctx is done get killed.
func (r *Registry) Close(ctx context.Context) error {
	r.mx.Lock()
	r.closed = true
	var running []*Job
	for _, job := range r.jobs {
		if !job.State().Terminal() {
			running = append(running, job)
		}
	}
	r.mx.Unlock()

	for _, job := range running {
		job.Cancel()
	}

	var err error
	for _, job := range running {
		if _, werr := job.Wait(ctx); werr != nil {
			slog.WarnContext(ctx, "job did not terminate: killing", "job_type", job.Type(), "job_id", job.ID())
			job.kill()
			err = werr
		}
	}
	return err
}
