// Package maintenance runs periodic housekeeping: it reports dataset locks
// that look abandoned and removes export artifacts past their retention.
//
// Locks are never cleared here. A held lock may belong to a run in another
// process; clearing it is an operator decision (dy dataset unlock).
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"github.com/zulandar/datayard/internal/db"
	"github.com/zulandar/datayard/internal/logging"
	"github.com/zulandar/datayard/internal/models"
	"github.com/zulandar/datayard/internal/storage"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Store is the catalog slice housekeeping reads and prunes.
type Store interface {
	LockedDatasets(ctx context.Context) ([]models.Dataset, error)
	GetTaskStatus(ctx context.Context, id string) (*models.TaskStatus, error)
	ListUploads(ctx context.Context, f db.UploadFilter) ([]models.Upload, error)
	DeleteUpload(ctx context.Context, id string) error
}

// Remover deletes a mirrored copy of a file.
type Remover interface {
	Remove(ctx context.Context, name string) error
}

// Config controls what counts as stale and when the job runs.
type Config struct {
	Schedule        string
	StaleLockAfter  time.Duration
	ExportRetention time.Duration
	ExportsDir      string
}

// StaleLock is a held dataset lock with no live run behind it.
type StaleLock struct {
	Dataset string
	TaskID  string
	Reason  string
	Held    time.Duration
}

// Report is the outcome of one housekeeping pass.
type Report struct {
	StaleLocks     []StaleLock
	ExportsRemoved int
}

// Runner performs housekeeping passes.
type Runner struct {
	store  Store
	fs     afero.Fs
	mirror Remover
	cfg    Config
	now    func() time.Time
}

// New returns a Runner. mirror may be nil.
func New(store Store, fs afero.Fs, mirror Remover, cfg Config) *Runner {
	if cfg.ExportsDir == "" {
		cfg.ExportsDir = models.UploadExport.Dir()
	}
	return &Runner{store: store, fs: fs, mirror: mirror, cfg: cfg, now: time.Now}
}

// RunOnce does one pass and logs what it found.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	log := logging.FromContext(ctx)
	var rep Report
	var errs []error

	stale, err := r.StaleLocks(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	rep.StaleLocks = stale
	for _, s := range stale {
		log.Warn("dataset lock looks abandoned", "dataset", s.Dataset, "task", s.TaskID,
			"reason", s.Reason, "held", s.Held.Round(time.Second).String())
	}

	n, err := r.SweepExports(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	rep.ExportsRemoved = n
	if n > 0 {
		log.Info("expired exports removed", "count", n)
	}
	return rep, errors.Join(errs...)
}

// StaleLocks lists locked datasets whose holder is finished, unknown, or
// absent and the lock older than StaleLockAfter.
func (r *Runner) StaleLocks(ctx context.Context) ([]StaleLock, error) {
	locked, err := r.store.LockedDatasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("maintenance: %w", err)
	}
	now := r.now()
	var out []StaleLock
	for _, d := range locked {
		var held time.Duration
		if d.LockedAt != nil {
			held = now.Sub(*d.LockedAt)
		}
		s := StaleLock{Dataset: d.Slug, Held: held}
		if d.CurrentTaskID == nil {
			if r.cfg.StaleLockAfter > 0 && held > r.cfg.StaleLockAfter {
				s.Reason = fmt.Sprintf("held without a task for over %s", r.cfg.StaleLockAfter)
				out = append(out, s)
			}
			continue
		}
		s.TaskID = *d.CurrentTaskID
		ts, err := r.store.GetTaskStatus(ctx, s.TaskID)
		switch {
		case errors.Is(err, db.ErrNotFound):
			s.Reason = "holding task does not exist"
		case err != nil:
			return out, fmt.Errorf("maintenance: %w", err)
		case ts.Status.Terminal():
			s.Reason = fmt.Sprintf("holding task is %s", ts.Status)
		default:
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// SweepExports removes registered export artifacts older than the
// retention window, then any unregistered files in the exports directory
// past it.
func (r *Runner) SweepExports(ctx context.Context) (int, error) {
	if r.cfg.ExportRetention <= 0 {
		return 0, nil
	}
	cutoff := r.now().Add(-r.cfg.ExportRetention)
	ups, err := r.store.ListUploads(ctx, db.UploadFilter{Kind: models.UploadExport, Before: cutoff})
	if err != nil {
		return 0, fmt.Errorf("maintenance: %w", err)
	}
	removed := 0
	for _, u := range ups {
		if err := storage.Remove(r.fs, u.StoragePath()); err != nil {
			return removed, err
		}
		if r.mirror != nil {
			if err := r.mirror.Remove(ctx, u.StoragePath()); err != nil {
				logging.FromContext(ctx).Warn("remove mirrored export", "upload", u.ID, "error", err)
			}
		}
		if err := r.store.DeleteUpload(ctx, u.ID); err != nil && !errors.Is(err, db.ErrNotFound) {
			return removed, fmt.Errorf("maintenance: %w", err)
		}
		removed++
	}

	orphans, err := storage.Expired(r.fs, r.cfg.ExportsDir, cutoff)
	if err != nil {
		return removed, err
	}
	for _, name := range orphans {
		if err := storage.Remove(r.fs, name); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Start runs RunOnce on the configured schedule until the returned stop
// function is called.
func (r *Runner) Start(ctx context.Context) (stop func(), err error) {
	c := cron.New(cron.WithParser(cronParser))
	_, err = c.AddFunc(r.cfg.Schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			logging.FromContext(ctx).Error("maintenance pass failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("maintenance: schedule %q: %w", r.cfg.Schedule, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

// NextRun returns when a 5-field cron expression next fires after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("maintenance: schedule %q: %w", expr, err)
	}
	return sched.Next(from), nil
}
