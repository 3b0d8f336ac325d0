package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/datayard/internal/models"
)

// Store is the slice of the catalog task tracking needs.
type Store interface {
	GetTaskStatus(ctx context.Context, id string) (*models.TaskStatus, error)
	SaveTaskStatus(ctx context.Context, ts *models.TaskStatus) error
	UpdateTaskStatus(ctx context.Context, id string, from []models.TaskState, updates map[string]interface{}) (bool, error)
}

// Create persists a new Pending task status.
func Create(ctx context.Context, store Store, name, description, dataset, creator string) (*models.TaskStatus, error) {
	ts := &models.TaskStatus{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Status:      models.TaskPending,
		DatasetSlug: dataset,
		Creator:     creator,
	}
	if err := store.SaveTaskStatus(ctx, ts); err != nil {
		return nil, fmt.Errorf("task: create %s: %w", name, err)
	}
	return ts, nil
}

// RequestAbort marks a non-terminal task AbortRequested. Requesting an
// abort twice is not an error; requesting it of a finished task is.
func RequestAbort(ctx context.Context, store Store, id string) error {
	ok, err := store.UpdateTaskStatus(ctx, id, sources(models.TaskAbortRequested),
		map[string]interface{}{"status": models.TaskAbortRequested})
	if err != nil {
		return fmt.Errorf("task: request abort %s: %w", id, err)
	}
	if ok {
		return nil
	}
	ts, err := store.GetTaskStatus(ctx, id)
	if err != nil {
		return fmt.Errorf("task: request abort: %w", err)
	}
	if ts.Status == models.TaskAbortRequested {
		return nil
	}
	return fmt.Errorf("task %s is %s: %w", id, ts.Status, ErrInvalidTransition)
}

// Tracker updates one task status on behalf of the run executing it.
type Tracker struct {
	store  Store
	id     string
	signal *Signal
	now    func() time.Time
}

// NewTracker binds a tracker to task id. signal may be nil.
func NewTracker(store Store, id string, signal *Signal) *Tracker {
	if signal == nil {
		signal = NewSignal()
	}
	return &Tracker{store: store, id: id, signal: signal, now: time.Now}
}

// ID is the tracked task's id.
func (t *Tracker) ID() string { return t.id }

// Signal is the tracker's abort token.
func (t *Tracker) Signal() *Signal { return t.signal }

// Start moves the task from Pending to Started. A task whose abort was
// requested before it started returns ErrAborted.
func (t *Tracker) Start(ctx context.Context) error {
	ok, err := t.store.UpdateTaskStatus(ctx, t.id, []models.TaskState{models.TaskPending},
		map[string]interface{}{"status": models.TaskStarted, "started_at": t.now()})
	if err != nil {
		return fmt.Errorf("task: start %s: %w", t.id, err)
	}
	if ok {
		return nil
	}
	ts, err := t.store.GetTaskStatus(ctx, t.id)
	if err != nil {
		return fmt.Errorf("task: start: %w", err)
	}
	if ts.Status == models.TaskAbortRequested {
		return ErrAborted
	}
	return fmt.Errorf("task %s is %s: %w", t.id, ts.Status, ErrInvalidTransition)
}

// Progress records a progress message without touching the status, so a
// concurrent abort request is never overwritten.
func (t *Tracker) Progress(ctx context.Context, msg string) error {
	_, err := t.store.UpdateTaskStatus(ctx, t.id,
		[]models.TaskState{models.TaskStarted, models.TaskAbortRequested},
		map[string]interface{}{"message": msg})
	if err != nil {
		return fmt.Errorf("task: progress %s: %w", t.id, err)
	}
	return nil
}

// Checkpoint returns ErrAborted if the in-memory signal was raised, ctx was
// cancelled, or the persisted status is AbortRequested.
func (t *Tracker) Checkpoint(ctx context.Context) error {
	if t.signal.Raised() {
		return ErrAborted
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	}
	ts, err := t.store.GetTaskStatus(ctx, t.id)
	if err != nil {
		return fmt.Errorf("task: checkpoint: %w", err)
	}
	if ts.Status == models.TaskAbortRequested {
		t.signal.Raise()
		return ErrAborted
	}
	return nil
}

// Succeed finishes the task as Success.
func (t *Tracker) Succeed(ctx context.Context, summary string) error {
	return t.finish(ctx, models.TaskSuccess, map[string]interface{}{"summary": summary})
}

// Abort finishes the task as Aborted.
func (t *Tracker) Abort(ctx context.Context, summary string) error {
	return t.finish(ctx, models.TaskAborted, map[string]interface{}{"summary": summary})
}

// Fail finishes the task as Failure, recording the error and its trace.
func (t *Tracker) Fail(ctx context.Context, cause error, trace, summary string) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return t.finish(ctx, models.TaskFailure, map[string]interface{}{
		"summary":   summary,
		"message":   msg,
		"traceback": trace,
	})
}

func (t *Tracker) finish(ctx context.Context, to models.TaskState, updates map[string]interface{}) error {
	updates["status"] = to
	updates["ended_at"] = t.now()
	ok, err := t.store.UpdateTaskStatus(ctx, t.id, sources(to), updates)
	if err != nil {
		return fmt.Errorf("task: finish %s as %s: %w", t.id, to, err)
	}
	if !ok {
		ts, err := t.store.GetTaskStatus(ctx, t.id)
		if err != nil {
			return fmt.Errorf("task: finish: %w", err)
		}
		return fmt.Errorf("task %s is %s, cannot become %s: %w", t.id, ts.Status, to, ErrInvalidTransition)
	}
	return nil
}

// Finished reports whether the task has reached a terminal status.
func (t *Tracker) Finished(ctx context.Context) (bool, error) {
	ts, err := t.store.GetTaskStatus(ctx, t.id)
	if err != nil {
		return false, err
	}
	return ts.Status.Terminal(), nil
}

// IsAborted reports whether err is, or wraps, ErrAborted.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}
