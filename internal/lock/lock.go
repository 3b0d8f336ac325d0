// Package lock is the per-dataset mutual-exclusion primitive. Only the
// holder may write a dataset's index documents, schema or row count.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/datayard/internal/models"
)

// ErrDatasetLocked is returned when another operation holds the lock.
var ErrDatasetLocked = errors.New("dataset is locked by another operation")

// Store is the slice of the catalog the lock needs.
type Store interface {
	GetDataset(ctx context.Context, slug string) (*models.Dataset, error)
	SetDatasetLock(ctx context.Context, slug string, at time.Time, taskID *string) (bool, error)
	ClearDatasetLock(ctx context.Context, slug string) error
}

// Locker acquires and releases dataset locks.
type Locker struct {
	store Store
	now   func() time.Time
}

// New returns a Locker over store.
func New(store Store) *Locker {
	return &Locker{store: store, now: time.Now}
}

// Lock acquires slug's lock.
func (l *Locker) Lock(ctx context.Context, slug string) error {
	return l.acquire(ctx, slug, nil)
}

// LockTask acquires slug's lock and records taskID as its holder.
func (l *Locker) LockTask(ctx context.Context, slug, taskID string) error {
	return l.acquire(ctx, slug, &taskID)
}

// acquire reads the row, writes a fresh locked_at only over an unlocked
// row, then re-reads and compares. Losing at any step means another actor
// holds the lock.
func (l *Locker) acquire(ctx context.Context, slug string, taskID *string) error {
	d, err := l.store.GetDataset(ctx, slug)
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if d.Locked {
		return fmt.Errorf("lock: dataset %q: %w", slug, ErrDatasetLocked)
	}

	stamp := l.now().UTC().Truncate(time.Microsecond)
	written, err := l.store.SetDatasetLock(ctx, slug, stamp, taskID)
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if !written {
		return fmt.Errorf("lock: dataset %q: %w", slug, ErrDatasetLocked)
	}

	d, err = l.store.GetDataset(ctx, slug)
	if err != nil {
		return fmt.Errorf("lock: re-read: %w", err)
	}
	if !d.Locked || d.LockedAt == nil || !d.LockedAt.Equal(stamp) {
		return fmt.Errorf("lock: dataset %q: %w", slug, ErrDatasetLocked)
	}
	return nil
}

// Unlock releases slug's lock unconditionally.
func (l *Locker) Unlock(ctx context.Context, slug string) error {
	if err := l.store.ClearDatasetLock(ctx, slug); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	return nil
}

// Force clears a lock left behind by a dead process and returns the state
// it found. It is the recovery step behind `dy dataset unlock`.
func (l *Locker) Force(ctx context.Context, slug string) (*models.Dataset, error) {
	d, err := l.store.GetDataset(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}
	if err := l.Unlock(ctx, slug); err != nil {
		return nil, err
	}
	return d, nil
}

// IsLocked reports whether err means the dataset was already locked.
func IsLocked(err error) bool {
	return errors.Is(err, ErrDatasetLocked)
}
