package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zulandar/datayard/internal/db"
	"github.com/zulandar/datayard/internal/db/dbtest"
	"github.com/zulandar/datayard/internal/models"
)

func newLocker(t *testing.T, slugs ...string) (*Locker, *db.Store) {
	t.Helper()
	s := dbtest.Open(t)
	for _, slug := range slugs {
		if err := s.CreateDataset(context.Background(), &models.Dataset{Slug: slug, Name: slug}); err != nil {
			t.Fatalf("CreateDataset: %v", err)
		}
	}
	return New(s), s
}

func TestLock_AcquireAndRelease(t *testing.T) {
	l, s := newLocker(t, "d")
	ctx := context.Background()

	if err := l.LockTask(ctx, "d", "task-1"); err != nil {
		t.Fatalf("LockTask: %v", err)
	}
	d, _ := s.GetDataset(ctx, "d")
	if !d.Locked || d.CurrentTaskID == nil || *d.CurrentTaskID != "task-1" {
		t.Errorf("after lock = locked %v task %v", d.Locked, d.CurrentTaskID)
	}

	err := l.Lock(ctx, "d")
	if !errors.Is(err, ErrDatasetLocked) {
		t.Fatalf("second Lock = %v, want ErrDatasetLocked", err)
	}
	if !IsLocked(err) {
		t.Error("IsLocked = false")
	}

	if err := l.Unlock(ctx, "d"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := l.Lock(ctx, "d"); err != nil {
		t.Fatalf("Lock after Unlock: %v", err)
	}
}

func TestLock_UnlockIsUnconditional(t *testing.T) {
	l, _ := newLocker(t, "d")
	ctx := context.Background()
	if err := l.Unlock(ctx, "d"); err != nil {
		t.Fatalf("Unlock of unlocked dataset: %v", err)
	}
}

func TestLock_MissingDataset(t *testing.T) {
	l, _ := newLocker(t)
	err := l.Lock(context.Background(), "ghost")
	if !errors.Is(err, db.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLock_ConcurrentExactlyOneWins(t *testing.T) {
	l, _ := newLocker(t, "d")
	ctx := context.Background()

	const n = 16
	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := l.Lock(ctx, "d")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrDatasetLocked):
				losses.Add(1)
			default:
				t.Errorf("Lock: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("wins = %d, want 1", wins.Load())
	}
	if losses.Load() != n-1 {
		t.Errorf("losses = %d, want %d", losses.Load(), n-1)
	}
}

// lostRace reports the lock written but a different stamp on re-read, as
// when another actor overwrote the row between the write and the re-read.
type lostRace struct {
	d models.Dataset
}

func (s *lostRace) GetDataset(context.Context, string) (*models.Dataset, error) {
	d := s.d
	return &d, nil
}

func (s *lostRace) SetDatasetLock(_ context.Context, _ string, at time.Time, _ *string) (bool, error) {
	other := at.Add(time.Millisecond)
	s.d.Locked = true
	s.d.LockedAt = &other
	return true, nil
}

func (s *lostRace) ClearDatasetLock(context.Context, string) error { return nil }

func TestLock_StampMismatchLoses(t *testing.T) {
	l := New(&lostRace{d: models.Dataset{Slug: "d"}})
	if err := l.Lock(context.Background(), "d"); !errors.Is(err, ErrDatasetLocked) {
		t.Errorf("err = %v, want ErrDatasetLocked", err)
	}
}

func TestForce(t *testing.T) {
	l, s := newLocker(t, "d")
	ctx := context.Background()
	l.LockTask(ctx, "d", "dead-task")

	prior, err := l.Force(ctx, "d")
	if err != nil {
		t.Fatalf("Force: %v", err)
	}
	if !prior.Locked || *prior.CurrentTaskID != "dead-task" {
		t.Errorf("prior = %+v", prior)
	}
	d, _ := s.GetDataset(ctx, "d")
	if d.Locked {
		t.Error("still locked after Force")
	}
}
