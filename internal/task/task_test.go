package task

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/zulandar/datayard/internal/db"
	"github.com/zulandar/datayard/internal/db/dbtest"
	"github.com/zulandar/datayard/internal/lock"
	"github.com/zulandar/datayard/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.TaskState
		want     bool
	}{
		{models.TaskPending, models.TaskStarted, true},
		{models.TaskStarted, models.TaskSuccess, true},
		{models.TaskStarted, models.TaskAbortRequested, true},
		{models.TaskAbortRequested, models.TaskAborted, true},
		{models.TaskStarted, models.TaskPending, false},
		{models.TaskSuccess, models.TaskStarted, false},
		{models.TaskAborted, models.TaskAbortRequested, false},
		{models.TaskFailure, models.TaskSuccess, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSignal(t *testing.T) {
	s := NewSignal()
	if s.Raised() {
		t.Fatal("new signal raised")
	}
	s.Raise()
	s.Raise()
	if !s.Raised() {
		t.Fatal("signal not raised")
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestTracker_Lifecycle(t *testing.T) {
	s := dbtest.Open(t)
	ctx := context.Background()

	ts, err := Create(ctx, s, "import", "import u1", "d", "alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tr := NewTracker(s, ts.ID, nil)
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := tr.Progress(ctx, "10/40"); err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if err := tr.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	if err := RequestAbort(ctx, s, ts.ID); err != nil {
		t.Fatalf("RequestAbort: %v", err)
	}
	if err := RequestAbort(ctx, s, ts.ID); err != nil {
		t.Fatalf("second RequestAbort: %v", err)
	}
	// Progress after the request must not clear it.
	tr.Progress(ctx, "20/40")
	if err := tr.Checkpoint(ctx); !errors.Is(err, ErrAborted) {
		t.Fatalf("Checkpoint = %v, want ErrAborted", err)
	}
	if !tr.Signal().Raised() {
		t.Error("persisted abort did not raise the signal")
	}

	if err := tr.Abort(ctx, "20 rows kept"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	got, _ := s.GetTaskStatus(ctx, ts.ID)
	if got.Status != models.TaskAborted || got.Summary != "20 rows kept" || got.Message != "20/40" {
		t.Errorf("final = %+v", got)
	}
	if got.StartedAt == nil || got.EndedAt == nil {
		t.Error("timestamps not recorded")
	}

	if err := tr.Succeed(ctx, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Succeed after Abort = %v, want ErrInvalidTransition", err)
	}
	if err := RequestAbort(ctx, s, ts.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("RequestAbort after finish = %v, want ErrInvalidTransition", err)
	}
}

func TestTracker_AbortBeforeStart(t *testing.T) {
	s := dbtest.Open(t)
	ctx := context.Background()
	ts, _ := Create(ctx, s, "reindex", "", "d", "")
	RequestAbort(ctx, s, ts.ID)

	tr := NewTracker(s, ts.ID, nil)
	if err := tr.Start(ctx); !errors.Is(err, ErrAborted) {
		t.Errorf("Start = %v, want ErrAborted", err)
	}
}

func TestTracker_CheckpointObservesSignalAndContext(t *testing.T) {
	s := dbtest.Open(t)
	ts, _ := Create(context.Background(), s, "export", "", "", "")
	sig := NewSignal()
	tr := NewTracker(s, ts.ID, sig)
	tr.Start(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tr.Checkpoint(ctx); !IsAborted(err) {
		t.Errorf("cancelled ctx = %v, want ErrAborted", err)
	}
	sig.Raise()
	if err := tr.Checkpoint(context.Background()); !IsAborted(err) {
		t.Errorf("raised signal = %v, want ErrAborted", err)
	}
}

func TestTracker_Fail(t *testing.T) {
	s := dbtest.Open(t)
	ctx := context.Background()
	ts, _ := Create(ctx, s, "import", "", "d", "")
	tr := NewTracker(s, ts.ID, nil)
	tr.Start(ctx)

	cause := pkgerrors.WithStack(errors.New("index down"))
	if err := tr.Fail(ctx, cause, Traceback(cause), "0 rows"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, _ := s.GetTaskStatus(ctx, ts.ID)
	if got.Status != models.TaskFailure || got.Message != "index down" {
		t.Errorf("final = %+v", got)
	}
	if !strings.Contains(got.Traceback, "task_test.go") {
		t.Errorf("traceback = %q, want a stack", got.Traceback)
	}
}

func newPool(t *testing.T, workers int, opts ...PoolOption) (*Pool, *db.Store) {
	t.Helper()
	s := dbtest.Open(t)
	ctx := context.Background()
	for _, slug := range []string{"a", "b"} {
		if err := s.CreateDataset(ctx, &models.Dataset{Slug: slug, Name: slug}); err != nil {
			t.Fatalf("CreateDataset: %v", err)
		}
	}
	p := NewPool(s, lock.New(s), workers, opts...)
	t.Cleanup(p.Close)
	return p, s
}

func waitFor(t *testing.T, p *Pool, id string) *models.TaskStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ts, err := p.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return ts
}

func TestPool_Success(t *testing.T) {
	var finished atomic.Int32
	p, _ := newPool(t, 2, WithOnFinish(func(context.Context, *models.TaskStatus) { finished.Add(1) }))

	id, err := p.Enqueue(context.Background(), Job{
		Name: "import", DatasetSlug: "a",
		Run: func(ctx context.Context, tr *Tracker) (string, error) {
			return "4 rows added", tr.Progress(ctx, "4/4")
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ts := waitFor(t, p, id)
	if ts.Status != models.TaskSuccess || ts.Summary != "4 rows added" {
		t.Errorf("status = %s summary = %q", ts.Status, ts.Summary)
	}
	if finished.Load() != 1 {
		t.Errorf("onFinish calls = %d, want 1", finished.Load())
	}
}

func TestPool_FailureReleasesHeldLock(t *testing.T) {
	p, s := newPool(t, 1)
	locks := lock.New(s)

	id, _ := p.Enqueue(context.Background(), Job{
		Name: "import", DatasetSlug: "a",
		Run: func(ctx context.Context, tr *Tracker) (string, error) {
			if err := locks.LockTask(ctx, "a", tr.ID()); err != nil {
				return "", err
			}
			return "", pkgerrors.WithStack(errors.New("index down"))
		},
	})
	ts := waitFor(t, p, id)
	if ts.Status != models.TaskFailure || ts.Traceback == "" {
		t.Errorf("status = %s traceback = %q", ts.Status, ts.Traceback)
	}
	d, _ := s.GetDataset(context.Background(), "a")
	if d.Locked {
		t.Error("lock not released after failure")
	}
}

func TestPool_PanicRecovered(t *testing.T) {
	p, s := newPool(t, 1)
	locks := lock.New(s)

	id, _ := p.Enqueue(context.Background(), Job{
		Name: "reindex", DatasetSlug: "a",
		Run: func(ctx context.Context, tr *Tracker) (string, error) {
			locks.LockTask(ctx, "a", tr.ID())
			panic("boom")
		},
	})
	ts := waitFor(t, p, id)
	if ts.Status != models.TaskFailure {
		t.Fatalf("status = %s, want failure", ts.Status)
	}
	if !strings.Contains(ts.Traceback, "panic: boom") {
		t.Errorf("traceback = %q", ts.Traceback)
	}
	d, _ := s.GetDataset(context.Background(), "a")
	if d.Locked {
		t.Error("lock not released after panic")
	}
}

func TestPool_KeepsOtherRunsLock(t *testing.T) {
	p, s := newPool(t, 1)
	locks := lock.New(s)
	ctx := context.Background()
	if err := locks.LockTask(ctx, "a", "someone-else"); err != nil {
		t.Fatalf("LockTask: %v", err)
	}

	id, _ := p.Enqueue(ctx, Job{
		Name: "import", DatasetSlug: "a",
		Run: func(ctx context.Context, tr *Tracker) (string, error) {
			return "", locks.LockTask(ctx, "a", tr.ID())
		},
	})
	ts := waitFor(t, p, id)
	if ts.Status != models.TaskFailure {
		t.Errorf("status = %s, want failure", ts.Status)
	}
	d, _ := s.GetDataset(ctx, "a")
	if !d.Locked || *d.CurrentTaskID != "someone-else" {
		t.Error("another run's lock was released")
	}
}

func TestPool_Abort(t *testing.T) {
	p, _ := newPool(t, 1)
	started := make(chan struct{})

	id, _ := p.Enqueue(context.Background(), Job{
		Name: "import", DatasetSlug: "b",
		Run: func(ctx context.Context, tr *Tracker) (string, error) {
			close(started)
			for {
				if err := tr.Checkpoint(ctx); err != nil {
					return "stopped", err
				}
				time.Sleep(5 * time.Millisecond)
			}
		},
	})
	<-started
	if err := p.RequestAbort(context.Background(), id); err != nil {
		t.Fatalf("RequestAbort: %v", err)
	}
	ts := waitFor(t, p, id)
	if ts.Status != models.TaskAborted || ts.Summary != "stopped" {
		t.Errorf("status = %s summary = %q", ts.Status, ts.Summary)
	}
}

func TestPool_BoundedConcurrency(t *testing.T) {
	p, _ := newPool(t, 2)
	var active, peak atomic.Int32
	var mu sync.Mutex

	var ids []string
	for i := 0; i < 6; i++ {
		id, err := p.Enqueue(context.Background(), Job{
			Name: "export",
			Run: func(ctx context.Context, tr *Tracker) (string, error) {
				n := active.Add(1)
				mu.Lock()
				if n > peak.Load() {
					peak.Store(n)
				}
				mu.Unlock()
				time.Sleep(20 * time.Millisecond)
				active.Add(-1)
				return "", nil
			},
		})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if ts := waitFor(t, p, id); ts.Status != models.TaskSuccess {
			t.Errorf("%s status = %s", id, ts.Status)
		}
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestPool_ClosedRejects(t *testing.T) {
	p, _ := newPool(t, 1)
	p.Close()
	_, err := p.Enqueue(context.Background(), Job{Name: "x", Run: func(context.Context, *Tracker) (string, error) { return "", nil }})
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("err = %v, want ErrPoolClosed", err)
	}
}
