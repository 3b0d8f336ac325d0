package maintenance

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/zulandar/datayard/internal/db"
	"github.com/zulandar/datayard/internal/db/dbtest"
	"github.com/zulandar/datayard/internal/models"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

type recordingRemover struct{ names []string }

func (r *recordingRemover) Remove(_ context.Context, name string) error {
	r.names = append(r.names, name)
	return nil
}

func newRunner(t *testing.T, cfg Config) (*Runner, *db.Store, afero.Fs, *recordingRemover) {
	t.Helper()
	store := dbtest.Open(t)
	fs := afero.NewMemMapFs()
	rm := &recordingRemover{}
	r := New(store, fs, rm, cfg)
	r.now = func() time.Time { return now }
	return r, store, fs, rm
}

func lockDataset(t *testing.T, store *db.Store, slug string, at time.Time, taskID *string) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateDataset(ctx, &models.Dataset{Slug: slug, Name: slug}); err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	if ok, err := store.SetDatasetLock(ctx, slug, at, taskID); err != nil || !ok {
		t.Fatalf("SetDatasetLock = %v, %v", ok, err)
	}
}

func TestStaleLocks(t *testing.T) {
	r, store, _, _ := newRunner(t, Config{StaleLockAfter: time.Hour})
	ctx := context.Background()
	for id, st := range map[string]models.TaskState{"running": models.TaskStarted, "done": models.TaskSuccess} {
		if err := store.SaveTaskStatus(ctx, &models.TaskStatus{ID: id, Name: "import", Status: st}); err != nil {
			t.Fatalf("SaveTaskStatus: %v", err)
		}
	}
	lockDataset(t, store, "live", now.Add(-3*time.Hour), strPtr("running"))
	lockDataset(t, store, "finished", now.Add(-time.Minute), strPtr("done"))
	lockDataset(t, store, "ghost", now.Add(-time.Minute), strPtr("missing"))
	lockDataset(t, store, "manual-old", now.Add(-2*time.Hour), nil)
	lockDataset(t, store, "manual-new", now.Add(-time.Minute), nil)
	store.CreateDataset(ctx, &models.Dataset{Slug: "free", Name: "free"})

	stale, err := r.StaleLocks(ctx)
	if err != nil {
		t.Fatalf("StaleLocks: %v", err)
	}
	got := map[string]string{}
	for _, s := range stale {
		got[s.Dataset] = s.Reason
	}
	want := map[string]string{
		"finished":   "holding task is success",
		"ghost":      "holding task does not exist",
		"manual-old": "held without a task for over 1h0m0s",
	}
	if len(got) != len(want) {
		t.Fatalf("stale = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s reason = %q, want %q", k, got[k], v)
		}
	}

	d, _ := store.GetDataset(ctx, "finished")
	if !d.Locked {
		t.Error("maintenance cleared a lock")
	}
}

func TestSweepExports(t *testing.T) {
	r, store, fs, rm := newRunner(t, Config{ExportRetention: 7 * 24 * time.Hour})
	ctx := context.Background()

	mk := func(id string, age time.Duration) *models.Upload {
		u := &models.Upload{ID: id, Kind: models.UploadExport, Filename: id + ".csv", CreatedAt: now.Add(-age), Export: &models.ExportUpload{}}
		if err := store.SaveUpload(ctx, u); err != nil {
			t.Fatalf("SaveUpload: %v", err)
		}
		afero.WriteFile(fs, u.StoragePath(), []byte("x"), 0o644)
		fs.Chtimes(u.StoragePath(), now.Add(-age), now.Add(-age))
		return u
	}
	old := mk("old", 10*24*time.Hour)
	fresh := mk("fresh", time.Hour)
	afero.WriteFile(fs, "exports/orphan.zip", []byte("x"), 0o644)
	fs.Chtimes("exports/orphan.zip", now.Add(-30*24*time.Hour), now.Add(-30*24*time.Hour))

	n, err := r.SweepExports(ctx)
	if err != nil {
		t.Fatalf("SweepExports: %v", err)
	}
	if n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}
	if _, err := store.GetUpload(ctx, old.ID); err == nil {
		t.Error("old export record kept")
	}
	if _, err := store.GetUpload(ctx, fresh.ID); err != nil {
		t.Errorf("fresh export removed: %v", err)
	}
	var left []string
	files, _ := afero.ReadDir(fs, "exports")
	for _, f := range files {
		left = append(left, f.Name())
	}
	sort.Strings(left)
	if len(left) != 1 || left[0] != "fresh.csv" {
		t.Errorf("files left = %v", left)
	}
	if len(rm.names) != 1 || rm.names[0] != "exports/old.csv" {
		t.Errorf("mirror removals = %v", rm.names)
	}
}

func TestSweepExports_NoRetention(t *testing.T) {
	r, _, _, _ := newRunner(t, Config{})
	if n, err := r.SweepExports(context.Background()); n != 0 || err != nil {
		t.Errorf("SweepExports = %d, %v", n, err)
	}
}

func TestRunOnce(t *testing.T) {
	r, store, _, _ := newRunner(t, Config{StaleLockAfter: time.Hour, ExportRetention: time.Hour})
	lockDataset(t, store, "ghost", now, strPtr("missing"))
	rep, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(rep.StaleLocks) != 1 || rep.ExportsRemoved != 0 {
		t.Errorf("report = %+v", rep)
	}
}

func TestStart_BadSchedule(t *testing.T) {
	r, _, _, _ := newRunner(t, Config{Schedule: "not a schedule"})
	if _, err := r.Start(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}
	r.cfg.Schedule = "*/15 * * * *"
	stop, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop()
}

func TestNextRun(t *testing.T) {
	next, err := NextRun("0 3 * * *", now)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	if want := time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("NextRun = %v, want %v", next, want)
	}
	if _, err := NextRun("61 * * * *", now); err == nil {
		t.Error("expected error for bad expression")
	}
}
