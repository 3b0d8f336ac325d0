package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/datayard/internal/coerce"
	"github.com/zulandar/datayard/internal/index"
	"github.com/zulandar/datayard/internal/schema"
	"github.com/zulandar/datayard/internal/task"
)

// ErrNoSchema means the dataset has never been imported.
var ErrNoSchema = errors.New("dataset has no columns yet")

// Reindex applies overrides to the dataset's columns and rewrites the typed
// fields of every row in place. Row ids, raw data and upload ids are kept.
//
// The new schema is saved only when every row was rewritten. An aborted or
// failed run leaves the stored schema as it was.
func (p *Pipeline) Reindex(ctx context.Context, t *task.Tracker, slug string, overrides []schema.Override) (Summary, error) {
	sum := Summary{Operation: "reindex", Dataset: slug}
	fail := func(err error) (Summary, error) {
		sum.Err = err
		return sum, err
	}

	if err := p.locks.LockTask(ctx, slug, t.ID()); err != nil {
		return fail(err)
	}
	defer p.unlock(ctx, slug)

	d, err := p.store.GetDataset(ctx, slug)
	if err != nil {
		return fail(err)
	}
	if !d.HasSchema() {
		return fail(fmt.Errorf("pipeline: reindex %s: %w", slug, ErrNoSchema))
	}
	cols, touched, err := schema.ApplyOverrides(d.Columns(), overrides)
	if err != nil {
		return fail(err)
	}

	log := logFrom(ctx)
	log.Info("reindex started", "overrides", len(overrides), "changed_columns", len(touched))

	tr := coerce.NewTracker()
	written, runErr := p.rewriteRows(ctx, t, slug, cols, tr)
	sum.RowsChanged = written
	sum.CoercionErrors = tr.Errors()

	ctx = context.WithoutCancel(ctx)
	if runErr != nil && !task.IsAborted(runErr) {
		log.Error("reindex failed", "rows", written, "error", runErr)
		return fail(withStack(runErr))
	}
	if err := p.index.Commit(ctx, p.cfg.DataCore); err != nil {
		return fail(withStack(err))
	}
	sum.RowsTotal = d.Rows()
	if runErr != nil {
		sum.Aborted = true
		sum.Err = runErr
		log.Info("reindex aborted", "rows", written)
		return sum, runErr
	}

	for i := range cols {
		if touched[cols[i].Name] && cols[i].Typed() {
			st := tr.Stats(cols[i].Name)
			cols[i].Min, cols[i].Max = st.Min, st.Max
		}
	}
	d.SetColumns(cols)
	if err := p.store.SaveDataset(ctx, d); err != nil {
		return fail(withStack(err))
	}
	p.publishDataset(ctx, d)
	log.Info("reindex finished", "rows", written)
	return sum, nil
}

// rewriteRows pages through the dataset in id order and re-adds each row
// with typed fields derived from cols. Rewrites stay uncommitted until the
// caller commits, so the pages being read do not shift underneath.
func (p *Pipeline) rewriteRows(ctx context.Context, t *task.Tracker, slug string, cols []schema.Column, tr *coerce.Tracker) (int, error) {
	bw := index.NewBatchWriter(p.index, p.cfg.DataCore, p.cfg.BatchSize)
	lim := p.limiter()
	q := index.DatasetQuery(slug, "")
	total := -1
	for offset := 0; total < 0 || offset < total; {
		res, err := p.index.Query(ctx, p.cfg.DataCore, q, offset, p.cfg.PageSize, index.FieldID+" asc")
		if err != nil {
			return bw.Flushed(), err
		}
		total = res.Total
		if len(res.Docs) == 0 {
			break
		}
		for _, old := range res.Docs {
			doc := buildDocument(old.ID, slug, old.DataUploadID, old.Data, cols, tr)
			sent, err := bw.Write(ctx, doc)
			if err != nil {
				return bw.Flushed(), err
			}
			if !sent {
				continue
			}
			if err := p.checkpoint(ctx, t, lim, bw.Flushed(), total); err != nil {
				return bw.Flushed(), err
			}
		}
		offset += len(res.Docs)
	}
	if err := bw.Flush(ctx); err != nil {
		return bw.Flushed(), err
	}
	p.report(ctx, t, bw.Flushed(), total)
	return bw.Flushed(), nil
}
