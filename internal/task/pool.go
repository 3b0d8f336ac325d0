package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/zulandar/datayard/internal/logging"
	"github.com/zulandar/datayard/internal/models"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the pool size when none is configured.
const DefaultWorkers = 4

// ErrPoolClosed is returned by Enqueue after Close.
var ErrPoolClosed = errors.New("task: pool closed")

// Func is a pipeline body. It returns the run's summary; a nil error
// means Success and ErrAborted means Aborted.
type Func func(ctx context.Context, t *Tracker) (string, error)

// Job describes one run to schedule.
type Job struct {
	Name        string
	Description string
	DatasetSlug string
	Creator     string
	Run         Func
}

// PoolStore is what the pool needs from the catalog.
type PoolStore interface {
	Store
	GetDataset(ctx context.Context, slug string) (*models.Dataset, error)
}

// Unlocker releases a dataset lock.
type Unlocker interface {
	Unlock(ctx context.Context, slug string) error
}

// Pool runs jobs on a bounded number of goroutines, each under a
// supervising wrapper that finalises the task and releases a dataset lock
// the body left behind.
type Pool struct {
	store    PoolStore
	locks    Unlocker
	sem      *semaphore.Weighted
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	onFinish func(ctx context.Context, ts *models.TaskStatus)

	mu      sync.Mutex
	closed  bool
	running map[string]*run
}

type run struct {
	signal *Signal
	done   chan struct{}
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithOnFinish registers a callback invoked with the final status of every
// run, e.g. to send notifications.
func WithOnFinish(fn func(ctx context.Context, ts *models.TaskStatus)) PoolOption {
	return func(p *Pool) { p.onFinish = fn }
}

// NewPool returns a pool running at most workers jobs at once.
func NewPool(store PoolStore, locks Unlocker, workers int, opts ...PoolOption) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		store:   store,
		locks:   locks,
		sem:     semaphore.NewWeighted(int64(workers)),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]*run),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue records a Pending task for job and schedules it. It returns the
// task id.
func (p *Pool) Enqueue(ctx context.Context, job Job) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrPoolClosed
	}
	p.mu.Unlock()

	ts, err := Create(ctx, p.store, job.Name, job.Description, job.DatasetSlug, job.Creator)
	if err != nil {
		return "", err
	}

	r := &run{signal: NewSignal(), done: make(chan struct{})}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		NewTracker(p.store, ts.ID, r.signal).Abort(ctx, "pool closed before the run was scheduled")
		return "", ErrPoolClosed
	}
	p.running[ts.ID] = r
	p.wg.Add(1)
	p.mu.Unlock()

	go p.execute(ts.ID, job, r)
	return ts.ID, nil
}

func (p *Pool) execute(id string, job Job, r *run) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.running, id)
		p.mu.Unlock()
		close(r.done)
	}()

	ctx := logging.WithTask(p.ctx, id, job.DatasetSlug)
	t := NewTracker(p.store, id, r.signal)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		t.Abort(context.WithoutCancel(ctx), "pool shut down before the run started")
		p.finished(ctx, id)
		return
	}
	defer p.sem.Release(1)

	p.supervise(ctx, t, job)
	p.finished(ctx, id)
}

// supervise runs the body and settles whatever it left unfinished.
func (p *Pool) supervise(ctx context.Context, t *Tracker, job Job) {
	log := logging.FromContext(ctx)
	final := context.WithoutCancel(ctx)

	summary, trace, err := p.call(ctx, t, job.Run)

	if err != nil && !IsAborted(err) && job.DatasetSlug != "" {
		p.releaseIfHeld(final, job.DatasetSlug, t.ID())
	}

	done, ferr := t.Finished(final)
	if ferr != nil {
		log.Error("task status unreadable", "error", ferr)
		return
	}
	if done {
		return
	}

	switch {
	case err == nil:
		ferr = t.Succeed(final, summary)
	case IsAborted(err):
		ferr = t.Abort(final, summary)
	default:
		log.Error("task failed", "error", err)
		ferr = t.Fail(final, err, trace, summary)
	}
	if ferr != nil {
		log.Error("finalise task", "error", ferr)
	}
}

// call runs fn, converting a panic into an error with a stack trace.
func (p *Pool) call(ctx context.Context, t *Tracker, fn Func) (summary, trace string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.WithStack(fmt.Errorf("task: panic: %v", r))
			trace = fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
		}
	}()
	if err := t.Start(ctx); err != nil {
		return "", "", err
	}
	summary, err = fn(ctx, t)
	return summary, Traceback(err), err
}

// releaseIfHeld unlocks slug only when this task is recorded as holder, so
// a run that failed to acquire the lock never frees another run's lock.
func (p *Pool) releaseIfHeld(ctx context.Context, slug, id string) {
	d, err := p.store.GetDataset(ctx, slug)
	if err != nil {
		return
	}
	if !d.Locked || d.CurrentTaskID == nil || *d.CurrentTaskID != id {
		return
	}
	if err := p.locks.Unlock(ctx, slug); err != nil {
		logging.FromContext(ctx).Error("release dataset lock", "error", err)
		return
	}
	logging.FromContext(ctx).Warn("released dataset lock left by failed run")
}

func (p *Pool) finished(ctx context.Context, id string) {
	if p.onFinish == nil {
		return
	}
	ts, err := p.store.GetTaskStatus(context.WithoutCancel(ctx), id)
	if err != nil {
		return
	}
	p.onFinish(ctx, ts)
}

// RequestAbort persists AbortRequested for id and raises its signal if it
// is running in this pool.
func (p *Pool) RequestAbort(ctx context.Context, id string) error {
	if err := RequestAbort(ctx, p.store, id); err != nil {
		return err
	}
	p.mu.Lock()
	r, ok := p.running[id]
	p.mu.Unlock()
	if ok {
		r.signal.Raise()
	}
	return nil
}

// Wait blocks until run id leaves the pool or ctx ends, then returns its
// persisted status.
func (p *Pool) Wait(ctx context.Context, id string) (*models.TaskStatus, error) {
	p.mu.Lock()
	r, ok := p.running[id]
	p.mu.Unlock()
	if ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.store.GetTaskStatus(ctx, id)
}

// Running lists the ids of runs currently in the pool.
func (p *Pool) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.running))
	for id := range p.running {
		ids = append(ids, id)
	}
	return ids
}

// Close stops accepting jobs and waits for scheduled ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
}

// Shutdown stops accepting jobs, asks every run to abort and waits.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	for _, r := range p.running {
		r.signal.Raise()
	}
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// Traceback renders the stack recorded on err, if any.
func Traceback(err error) string {
	var st stackTracer
	if err == nil || !errors.As(err, &st) {
		return ""
	}
	return fmt.Sprintf("%+v", err)
}
