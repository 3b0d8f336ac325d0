package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/zulandar/datayard/internal/coerce"
	"github.com/zulandar/datayard/internal/db"
	"github.com/zulandar/datayard/internal/db/dbtest"
	"github.com/zulandar/datayard/internal/index"
	"github.com/zulandar/datayard/internal/index/indextest"
	"github.com/zulandar/datayard/internal/lock"
	"github.com/zulandar/datayard/internal/models"
	"github.com/zulandar/datayard/internal/reader"
	"github.com/zulandar/datayard/internal/schema"
	"github.com/zulandar/datayard/internal/task"
)

const contributorsCSV = `id,name,email,joined
1,Ann Byrne,ann@example.org,2019-04-01
2,Bo Chen,bo@example.org,2020-01-15
3,Cy Diaz,,2021-07-30
4,Di Evans,di@example.org,N/A
`

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	p     *Pipeline
	store *db.Store
	srv   *indextest.Server
	fs    afero.Fs
	locks *lock.Locker
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	store := dbtest.Open(t)
	srv := indextest.NewServer(t)
	fs := afero.NewMemMapFs()
	locks := lock.New(store)
	p := New(cfg, store, index.New(srv.URL, index.WithTimeout(5*time.Second)), locks, fs)
	p.now = func() time.Time { return fixedNow }
	return &env{p: p, store: store, srv: srv, fs: fs, locks: locks}
}

func (e *env) dataset(t *testing.T, slug string) {
	t.Helper()
	if err := e.store.CreateDataset(context.Background(), &models.Dataset{Slug: slug, Name: slug}); err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
}

// upload stores content as a CSV data upload and registers it the way the
// upload command does.
func (e *env) upload(t *testing.T, content string) *models.Upload {
	t.Helper()
	u := &models.Upload{
		ID:       uuid.NewString(),
		Kind:     models.UploadData,
		Filename: uuid.NewString() + ".csv",
		Size:     int64(len(content)),
	}
	if err := afero.WriteFile(e.fs, u.StoragePath(), []byte(content), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	r, err := reader.New(reader.FormatCSV, e.fs, reader.Options{})
	if err != nil {
		t.Fatalf("reader.New: %v", err)
	}
	d := reader.Dialect{Delimiter: ","}
	names, err := r.ExtractColumnNames(u.StoragePath(), d, "utf-8")
	if err != nil {
		t.Fatalf("ExtractColumnNames: %v", err)
	}
	guessed, err := r.GuessColumnTypes(u.StoragePath(), d, 100, "utf-8")
	if err != nil {
		t.Fatalf("GuessColumnTypes: %v", err)
	}
	u.Data = &models.DataUpload{Encoding: "utf-8", Format: reader.FormatCSV, Dialect: d, Columns: names, GuessedTypes: guessed}
	if err := e.store.SaveUpload(context.Background(), u); err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	return u
}

func (e *env) tracker(t *testing.T, slug string) *task.Tracker {
	t.Helper()
	ctx := context.Background()
	ts, err := task.Create(ctx, e.store, "test", "", slug, "tester")
	if err != nil {
		t.Fatalf("task.Create: %v", err)
	}
	tr := task.NewTracker(e.store, ts.ID, task.NewSignal())
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return tr
}

func (e *env) get(t *testing.T, slug string) *models.Dataset {
	t.Helper()
	d, err := e.store.GetDataset(context.Background(), slug)
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	return d
}

func (e *env) importCSV(t *testing.T, slug, content string) (*models.Upload, Summary) {
	t.Helper()
	u := e.upload(t, content)
	sum, err := e.p.Import(context.Background(), e.tracker(t, slug), slug, u.ID)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	return u, sum
}

func TestImport_ContributorsCSV(t *testing.T) {
	e := newEnv(t, Config{BatchSize: 3})
	e.dataset(t, "contributors")
	u, sum := e.importCSV(t, "contributors", contributorsCSV)

	d := e.get(t, "contributors")
	if d.Rows() != 4 || sum.RowsChanged != 4 || sum.RowsTotal != 4 {
		t.Errorf("row_count = %d, summary = %+v", d.Rows(), sum)
	}
	if d.Locked {
		t.Error("dataset still locked after import")
	}
	cols := d.Columns()
	if got := strings.Join(schema.Names(cols), ","); got != "id,name,email,joined" {
		t.Fatalf("columns = %s", got)
	}
	for _, c := range cols {
		if c.Type != coerce.Unset || c.Indexed || c.IndexedName != nil {
			t.Errorf("column %s = %+v, want untyped", c.Name, c)
		}
	}
	if cols[0].GuessedType != coerce.Int {
		t.Errorf("guessed type of id = %s, want int", cols[0].GuessedType)
	}

	if n := e.srv.Count("data", `dataset_slug:"contributors"`); n != 4 {
		t.Errorf("indexed rows = %d, want 4", n)
	}
	if n := e.srv.Count("data", `dataset_slug:"contributors" AND (diaz)`); n != 1 {
		t.Errorf("full text match = %d, want 1", n)
	}
	got, _ := e.store.GetUpload(context.Background(), u.ID)
	if !got.Imported() || got.DatasetSlug == nil || *got.DatasetSlug != "contributors" {
		t.Errorf("upload after import = %+v", got)
	}
	meta := e.srv.Docs("datasets", `id:"contributors"`)
	if len(meta) != 1 || meta[0]["row_count"] != float64(4) {
		t.Errorf("dataset document = %v", meta)
	}
}

func TestImport_SchemaMismatch(t *testing.T) {
	e := newEnv(t, Config{})
	e.dataset(t, "contributors")
	e.importCSV(t, "contributors", contributorsCSV)

	u := e.upload(t, "id,email,name,joined\n5,x,y,2020-01-01\n")
	_, err := e.p.Import(context.Background(), e.tracker(t, "contributors"), "contributors", u.ID)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("err = %v, want ErrSchemaMismatch", err)
	}
	if Describe(err).Code != "schema_mismatch" {
		t.Errorf("code = %s", Describe(err).Code)
	}
	d := e.get(t, "contributors")
	if d.Rows() != 4 || d.Locked {
		t.Errorf("row_count = %d, locked = %v", d.Rows(), d.Locked)
	}
}

func TestImport_AppendsMatchingUpload(t *testing.T) {
	e := newEnv(t, Config{})
	e.dataset(t, "contributors")
	e.importCSV(t, "contributors", contributorsCSV)
	_, sum := e.importCSV(t, "contributors", "id,name,email,joined\n5,Ed,,\n6,Flo,,\n")

	if sum.RowsChanged != 2 || sum.RowsTotal != 6 {
		t.Errorf("summary = %+v", sum)
	}
	if n := e.srv.Count("data", "*:*"); n != 6 {
		t.Errorf("indexed rows = %d, want 6", n)
	}
}

func TestImport_AlreadyImported(t *testing.T) {
	e := newEnv(t, Config{})
	e.dataset(t, "contributors")
	u, _ := e.importCSV(t, "contributors", contributorsCSV)

	_, err := e.p.Import(context.Background(), e.tracker(t, "contributors"), "contributors", u.ID)
	if !errors.Is(err, ErrAlreadyImported) {
		t.Fatalf("err = %v, want ErrAlreadyImported", err)
	}
}

func TestImport_DatasetLocked(t *testing.T) {
	e := newEnv(t, Config{})
	e.dataset(t, "contributors")
	ctx := context.Background()
	if err := e.locks.Lock(ctx, "contributors"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	u := e.upload(t, contributorsCSV)

	_, err := e.p.Import(ctx, e.tracker(t, "contributors"), "contributors", u.ID)
	if !errors.Is(err, lock.ErrDatasetLocked) {
		t.Fatalf("err = %v, want ErrDatasetLocked", err)
	}
	if !e.get(t, "contributors").Locked {
		t.Error("failed import released a lock it did not hold")
	}
	if e.srv.Adds() != 0 {
		t.Errorf("adds = %d, want 0", e.srv.Adds())
	}
}

func TestImport_FailurePurgesOnlyThisRun(t *testing.T) {
	e := newEnv(t, Config{BatchSize: 2})
	e.dataset(t, "contributors")
	e.importCSV(t, "contributors", contributorsCSV)

	e.srv.FailAddsAfter(e.srv.Adds()+1, http.StatusInternalServerError)
	u := e.upload(t, "id,name,email,joined\n5,a,,\n6,b,,\n7,c,,\n8,d,,\n")
	sum, err := e.p.Import(context.Background(), e.tracker(t, "contributors"), "contributors", u.ID)

	var ie *index.IndexError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want IndexError", err)
	}
	if task.Traceback(err) == "" {
		t.Error("failure carries no stack trace")
	}
	if sum.Err == nil || Describe(err).Code != "index_error" {
		t.Errorf("summary = %+v", sum)
	}
	if n := e.srv.Count("data", "*:*"); n != 4 {
		t.Errorf("indexed rows = %d, want the 4 from the first import", n)
	}
	if n := e.srv.Count("data", index.FieldDataUploadID+":"+index.Escape(u.ID)); n != 0 {
		t.Errorf("rows of failed upload = %d", n)
	}
	d := e.get(t, "contributors")
	if d.Rows() != 4 || d.Locked {
		t.Errorf("row_count = %d, locked = %v", d.Rows(), d.Locked)
	}
	got, _ := e.store.GetUpload(context.Background(), u.ID)
	if got.Imported() {
		t.Error("failed upload marked imported")
	}
}

func TestImport_AbortKeepsFlushedRows(t *testing.T) {
	e := newEnv(t, Config{BatchSize: 2})
	e.dataset(t, "contributors")
	u := e.upload(t, contributorsCSV+"5,Ed,,\n6,Flo,,\n")
	ctx := context.Background()
	tr := e.tracker(t, "contributors")
	if err := task.RequestAbort(ctx, e.store, tr.ID()); err != nil {
		t.Fatalf("RequestAbort: %v", err)
	}

	sum, err := e.p.Import(ctx, tr, "contributors", u.ID)
	if !task.IsAborted(err) {
		t.Fatalf("err = %v, want aborted", err)
	}
	if !sum.Aborted || sum.RowsChanged != 2 {
		t.Errorf("summary = %+v", sum)
	}
	d := e.get(t, "contributors")
	if d.Rows() != 2 {
		t.Errorf("row_count = %d, want 2", d.Rows())
	}
	if n := e.srv.Count("data", "*:*"); n != d.Rows() {
		t.Errorf("indexed rows = %d, row_count = %d", n, d.Rows())
	}
	if !d.HasSchema() || d.Locked {
		t.Errorf("after abort: schema %v, locked %v", d.HasSchema(), d.Locked)
	}
	got, _ := e.store.GetUpload(ctx, u.ID)
	if got.Imported() {
		t.Error("aborted upload marked imported")
	}
}

func TestImport_CoercionErrorsCounted(t *testing.T) {
	e := newEnv(t, Config{})
	e.dataset(t, "contributors")
	e.importCSV(t, "contributors", contributorsCSV)
	if _, err := e.p.Reindex(context.Background(), e.tracker(t, "contributors"), "contributors",
		[]schema.Override{{Name: "joined", Type: coerce.Date, Indexed: true}}); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	_, sum := e.importCSV(t, "contributors", "id,name,email,joined\n5,Ed,,soon\n6,Flo,,2022-02-02\n")
	if sum.CoercionErrors["joined"] != 1 {
		t.Errorf("coercion errors = %v", sum.CoercionErrors)
	}
	if !strings.Contains(sum.String(), "joined: 1") {
		t.Errorf("summary text = %q", sum.String())
	}
	joined := e.get(t, "contributors").Columns()[3]
	if want := coerce.DateValue(time.Date(2022, 2, 2, 0, 0, 0, 0, time.UTC)); !joined.Max.Equal(want) {
		t.Errorf("joined max = %v, want %v", joined.Max, want)
	}
}

func TestReindex_TypedRangeQuery(t *testing.T) {
	e := newEnv(t, Config{BatchSize: 3, PageSize: 2})
	e.dataset(t, "contributors")
	e.importCSV(t, "contributors", contributorsCSV)
	before := e.get(t, "contributors").Columns()
	docsBefore := e.srv.Docs("data", "*:*")

	sum, err := e.p.Reindex(context.Background(), e.tracker(t, "contributors"), "contributors",
		[]schema.Override{{Name: "id", Type: coerce.Int, Indexed: true}})
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if sum.RowsChanged != 4 {
		t.Errorf("rows rewritten = %d", sum.RowsChanged)
	}
	if n := e.srv.Count("data", `dataset_slug:"contributors" AND (column_int_id:[1 TO 2])`); n != 2 {
		t.Errorf("column_int_id:[1 TO 2] = %d rows, want 2", n)
	}

	d := e.get(t, "contributors")
	if d.Locked || d.Rows() != 4 {
		t.Errorf("locked = %v, row_count = %d", d.Locked, d.Rows())
	}
	cols := d.Columns()
	id := cols[0]
	if id.Type != coerce.Int || id.IndexedName == nil || *id.IndexedName != "column_int_id" {
		t.Errorf("id column = %+v", id)
	}
	if !id.Min.Equal(coerce.IntValue(1)) || !id.Max.Equal(coerce.IntValue(4)) {
		t.Errorf("id min/max = %v/%v", id.Min, id.Max)
	}
	for i := 1; i < len(cols); i++ {
		if cols[i].Type != before[i].Type || cols[i].Indexed != before[i].Indexed || cols[i].IndexedName != before[i].IndexedName {
			t.Errorf("untouched column %s changed: %+v", cols[i].Name, cols[i])
		}
	}

	docsAfter := e.srv.Docs("data", "*:*")
	if len(docsAfter) != len(docsBefore) {
		t.Fatalf("docs = %d, want %d", len(docsAfter), len(docsBefore))
	}
	for i := range docsBefore {
		for _, f := range []string{index.FieldID, index.FieldData, index.FieldDataUploadID} {
			if docsAfter[i][f] != docsBefore[i][f] {
				t.Errorf("doc %d field %s = %v, want %v", i, f, docsAfter[i][f], docsBefore[i][f])
			}
		}
	}
}

func TestReindex_UntouchedTypedColumnKeepsRange(t *testing.T) {
	e := newEnv(t, Config{})
	e.dataset(t, "contributors")
	e.importCSV(t, "contributors", contributorsCSV)
	ctx := context.Background()
	if _, err := e.p.Reindex(ctx, e.tracker(t, "contributors"), "contributors",
		[]schema.Override{{Name: "id", Type: coerce.Int, Indexed: true}}); err != nil {
		t.Fatalf("Reindex id: %v", err)
	}
	if _, err := e.p.Reindex(ctx, e.tracker(t, "contributors"), "contributors",
		[]schema.Override{{Name: "joined", Type: coerce.Date, Indexed: true}}); err != nil {
		t.Fatalf("Reindex joined: %v", err)
	}
	cols := e.get(t, "contributors").Columns()
	if cols[0].IndexedName == nil || *cols[0].IndexedName != "column_int_id" || !cols[0].Max.Equal(coerce.IntValue(4)) {
		t.Errorf("id column after unrelated reindex = %+v", cols[0])
	}
	if cols[3].IndexedName == nil || *cols[3].IndexedName != "column_date_joined" {
		t.Errorf("joined column = %+v", cols[3])
	}
	if n := e.srv.Count("data", "column_int_id:[3 TO *]"); n != 2 {
		t.Errorf("id field lost on rewrite: %d rows", n)
	}
}

func TestReindex_AbortLeavesSchema(t *testing.T) {
	e := newEnv(t, Config{BatchSize: 1})
	e.dataset(t, "contributors")
	e.importCSV(t, "contributors", contributorsCSV)
	ctx := context.Background()
	tr := e.tracker(t, "contributors")
	tr.Signal().Raise()

	sum, err := e.p.Reindex(ctx, tr, "contributors", []schema.Override{{Name: "id", Type: coerce.Int, Indexed: true}})
	if !task.IsAborted(err) || !sum.Aborted {
		t.Fatalf("err = %v, summary = %+v", err, sum)
	}
	d := e.get(t, "contributors")
	if d.Columns()[0].Type != coerce.Unset || d.Locked {
		t.Errorf("after abort: id = %+v, locked = %v", d.Columns()[0], d.Locked)
	}
	if d.Rows() != 4 {
		t.Errorf("row_count = %d", d.Rows())
	}
}

func TestReindex_UnknownColumn(t *testing.T) {
	e := newEnv(t, Config{})
	e.dataset(t, "contributors")
	e.importCSV(t, "contributors", contributorsCSV)

	_, err := e.p.Reindex(context.Background(), e.tracker(t, "contributors"), "contributors",
		[]schema.Override{{Name: "nope", Type: coerce.Int, Indexed: true}})
	if err == nil {
		t.Fatal("expected error for unknown column")
	}
	if e.get(t, "contributors").Locked {
		t.Error("dataset still locked")
	}
}

func TestReindex_NoSchema(t *testing.T) {
	e := newEnv(t, Config{})
	e.dataset(t, "empty")
	_, err := e.p.Reindex(context.Background(), e.tracker(t, "empty"), "empty", nil)
	if !errors.Is(err, ErrNoSchema) {
		t.Fatalf("err = %v, want ErrNoSchema", err)
	}
}

func TestImportJob_ThroughPool(t *testing.T) {
	e := newEnv(t, Config{})
	e.dataset(t, "contributors")
	u := e.upload(t, contributorsCSV)
	pool := task.NewPool(e.store, e.locks, 2)
	t.Cleanup(pool.Shutdown)
	ctx := context.Background()

	id, err := pool.Enqueue(ctx, e.p.ImportJob("contributors", u.ID, "tester"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ts, err := pool.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ts.Status != models.TaskSuccess {
		t.Fatalf("status = %s (%s)", ts.Status, ts.Message)
	}
	if !strings.Contains(ts.Summary, "4 rows added") {
		t.Errorf("summary = %q", ts.Summary)
	}
	if ts.DatasetSlug != "contributors" || ts.Creator != "tester" {
		t.Errorf("task = %+v", ts)
	}
}
