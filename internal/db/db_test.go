package db_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/datayard/internal/coerce"
	"github.com/zulandar/datayard/internal/config"
	"github.com/zulandar/datayard/internal/db"
	"github.com/zulandar/datayard/internal/db/dbtest"
	"github.com/zulandar/datayard/internal/models"
	"github.com/zulandar/datayard/internal/reader"
	"github.com/zulandar/datayard/internal/schema"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want []string
	}{
		{
			name: "sqlite path",
			cfg:  config.DatabaseConfig{Driver: "sqlite", Path: "catalog.db"},
			want: []string{"catalog.db"},
		},
		{
			name: "mysql",
			cfg:  config.DatabaseConfig{Driver: "mysql", Host: "10.0.0.5", Port: 3307, Name: "datayard", User: "dy", Password: "pw"},
			want: []string{"dy:pw@tcp(10.0.0.5:3307)/datayard", "parseTime=true"},
		},
		{
			name: "postgres",
			cfg:  config.DatabaseConfig{Driver: "postgres", Host: "pg", Port: 5432, Name: "datayard", SSLMode: "disable", User: "dy"},
			want: []string{"host=pg", "port=5432", "dbname=datayard", "sslmode=disable", "user=dy"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.DSN(tt.cfg)
			if err != nil {
				t.Fatalf("DSN: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("DSN() = %q, want to contain %q", got, w)
				}
			}
		})
	}
}

func TestDSN_UnknownDriver(t *testing.T) {
	if _, err := db.DSN(config.DatabaseConfig{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestDataset_SaveAndGet(t *testing.T) {
	s := dbtest.Open(t)
	ctx := context.Background()

	d := &models.Dataset{Slug: "contributors", Name: "Contributors"}
	d.SetColumns(schema.RegenerateIndexedNames([]schema.Column{
		{Name: "id", Type: coerce.Int, Indexed: true, Min: coerce.IntValue(1), Max: coerce.IntValue(4)},
		{Name: "name"},
	}))
	if err := s.CreateDataset(ctx, d); err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	if err := s.CreateDataset(ctx, &models.Dataset{Slug: "contributors", Name: "dup"}); err == nil {
		t.Error("expected error for duplicate slug")
	}

	got, err := s.GetDataset(ctx, "contributors")
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	cols := got.Columns()
	if len(cols) != 2 {
		t.Fatalf("columns = %d, want 2", len(cols))
	}
	if cols[0].IndexedName == nil || *cols[0].IndexedName != "column_int_id" {
		t.Errorf("indexed name = %v", cols[0].IndexedName)
	}
	if !cols[0].Max.Equal(coerce.IntValue(4)) {
		t.Errorf("max = %+v", cols[0].Max)
	}
	if got.RowCount != nil {
		t.Errorf("RowCount = %v, want nil", *got.RowCount)
	}

	n := 4
	got.RowCount = &n
	if err := s.SaveDataset(ctx, got); err != nil {
		t.Fatalf("SaveDataset: %v", err)
	}
	again, _ := s.GetDataset(ctx, "contributors")
	if again.Rows() != 4 {
		t.Errorf("Rows = %d, want 4", again.Rows())
	}

	_, err = s.GetDataset(ctx, "missing")
	if !errors.Is(err, db.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDatasetLock_Guarded(t *testing.T) {
	s := dbtest.Open(t)
	ctx := context.Background()
	s.CreateDataset(ctx, &models.Dataset{Slug: "d", Name: "D"})

	at := time.Now().UTC().Truncate(time.Microsecond)
	task := "task-1"
	ok, err := s.SetDatasetLock(ctx, "d", at, &task)
	if err != nil || !ok {
		t.Fatalf("first SetDatasetLock = %v, %v", ok, err)
	}
	ok, err = s.SetDatasetLock(ctx, "d", at.Add(time.Second), nil)
	if err != nil || ok {
		t.Fatalf("second SetDatasetLock = %v, %v; want false", ok, err)
	}

	got, _ := s.GetDataset(ctx, "d")
	if !got.Locked || got.LockedAt == nil || !got.LockedAt.Equal(at) {
		t.Errorf("lock state = %v %v, want locked at %v", got.Locked, got.LockedAt, at)
	}
	if got.CurrentTaskID == nil || *got.CurrentTaskID != task {
		t.Errorf("CurrentTaskID = %v", got.CurrentTaskID)
	}

	locked, err := s.LockedDatasets(ctx)
	if err != nil || len(locked) != 1 {
		t.Errorf("LockedDatasets = %d, %v", len(locked), err)
	}

	if err := s.ClearDatasetLock(ctx, "d"); err != nil {
		t.Fatalf("ClearDatasetLock: %v", err)
	}
	got, _ = s.GetDataset(ctx, "d")
	if got.Locked || got.LockedAt != nil || got.CurrentTaskID != nil {
		t.Errorf("after clear = %+v", got)
	}
}

func TestUpload_Lifecycle(t *testing.T) {
	s := dbtest.Open(t)
	ctx := context.Background()
	slug := "d"

	u := &models.Upload{
		ID:          "u1",
		Kind:        models.UploadData,
		Filename:    "u1.csv",
		Size:        120,
		DatasetSlug: &slug,
		Data: &models.DataUpload{
			Encoding:     "utf-8",
			Format:       reader.FormatCSV,
			Dialect:      reader.Dialect{Delimiter: ","},
			Columns:      []string{"a", "b"},
			GuessedTypes: []coerce.Type{coerce.Int, coerce.Text},
		},
	}
	if err := s.SaveUpload(ctx, u); err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	s.SaveUpload(ctx, &models.Upload{ID: "e1", Kind: models.UploadExport, Filename: "e1.zip",
		Export: &models.ExportUpload{Query: "x", DatasetCount: 2}})

	got, err := s.GetUpload(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUpload: %v", err)
	}
	if got.Data == nil || got.Data.Dialect.Delimiter != "," || got.Data.GuessedTypes[0] != coerce.Int {
		t.Errorf("data meta = %+v", got.Data)
	}
	if got.Export != nil || got.Related != nil {
		t.Error("unexpected extension on data upload")
	}
	if got.StoragePath() != "uploads/u1.csv" {
		t.Errorf("StoragePath = %q", got.StoragePath())
	}

	got.Data.Imported = true
	s.SaveUpload(ctx, got)
	got, _ = s.GetUpload(ctx, "u1")
	if !got.Imported() {
		t.Error("Imported not persisted")
	}

	list, err := s.ListUploads(ctx, db.UploadFilter{Kind: models.UploadExport})
	if err != nil || len(list) != 1 || list[0].Export.DatasetCount != 2 {
		t.Errorf("ListUploads(export) = %+v, %v", list, err)
	}
	list, _ = s.ListUploads(ctx, db.UploadFilter{DatasetSlug: "d"})
	if len(list) != 1 {
		t.Errorf("ListUploads(dataset) = %d, want 1", len(list))
	}

	if err := s.DeleteUpload(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUpload: %v", err)
	}
	if err := s.DeleteUpload(ctx, "u1"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestUpdateTaskStatus_Guarded(t *testing.T) {
	s := dbtest.Open(t)
	ctx := context.Background()
	s.SaveTaskStatus(ctx, &models.TaskStatus{ID: "t1", Name: "import", Status: models.TaskStarted, DatasetSlug: "d"})

	ok, err := s.UpdateTaskStatus(ctx, "t1", []models.TaskState{models.TaskStarted},
		map[string]interface{}{"status": models.TaskAbortRequested})
	if err != nil || !ok {
		t.Fatalf("request abort = %v, %v", ok, err)
	}
	// A progress write guarded on Started no longer matches.
	ok, err = s.UpdateTaskStatus(ctx, "t1", []models.TaskState{models.TaskStarted},
		map[string]interface{}{"message": "50/100"})
	if err != nil || ok {
		t.Fatalf("guarded progress = %v, %v; want false", ok, err)
	}
	got, _ := s.GetTaskStatus(ctx, "t1")
	if got.Status != models.TaskAbortRequested || got.Message != "" {
		t.Errorf("task = %+v", got)
	}

	list, err := s.ListTaskStatuses(ctx, db.TaskFilter{DatasetSlug: "d"})
	if err != nil || len(list) != 1 {
		t.Errorf("ListTaskStatuses = %d, %v", len(list), err)
	}
	if _, err := s.GetTaskStatus(ctx, "nope"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
