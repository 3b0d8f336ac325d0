package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/zulandar/datayard/internal/coerce"
	"github.com/zulandar/datayard/internal/index"
	"github.com/zulandar/datayard/internal/models"
	"github.com/zulandar/datayard/internal/reader"
	"github.com/zulandar/datayard/internal/schema"
	"github.com/zulandar/datayard/internal/task"
)

// Import streams a data upload's rows into the dataset's index documents.
//
// Setup failures (lock, schema mismatch, unreadable file) return before
// anything is written. An abort keeps the rows flushed so far and counts
// them. Any other failure after writing starts removes this run's rows.
func (p *Pipeline) Import(ctx context.Context, t *task.Tracker, slug, uploadID string) (Summary, error) {
	sum := Summary{Operation: "import", Dataset: slug}
	fail := func(err error) (Summary, error) {
		sum.Err = err
		return sum, err
	}

	u, err := p.store.GetUpload(ctx, uploadID)
	if err != nil {
		return fail(err)
	}
	if u.Kind != models.UploadData || u.Data == nil {
		return fail(fmt.Errorf("pipeline: upload %s: %w", uploadID, ErrNotDataUpload))
	}
	if u.Data.Imported {
		return fail(fmt.Errorf("pipeline: upload %s: %w", uploadID, ErrAlreadyImported))
	}
	if u.DatasetSlug != nil && *u.DatasetSlug != slug {
		return fail(fmt.Errorf("pipeline: upload %s belongs to dataset %q", uploadID, *u.DatasetSlug))
	}

	if err := p.locks.LockTask(ctx, slug, t.ID()); err != nil {
		return fail(err)
	}
	defer p.unlock(ctx, slug)

	d, err := p.store.GetDataset(ctx, slug)
	if err != nil {
		return fail(err)
	}
	r, err := p.readerFor(u)
	if err != nil {
		return fail(err)
	}
	path := u.StoragePath()
	names, err := r.ExtractColumnNames(path, u.Data.Dialect, u.Data.Encoding)
	if err != nil {
		return fail(err)
	}

	first := !d.HasSchema()
	cols := d.Columns()
	if first {
		cols = schema.BuildSchema(names, nil, nil)
		for i := range cols {
			if i < len(u.Data.GuessedTypes) {
				cols[i].GuessedType = u.Data.GuessedTypes[i]
			}
		}
	} else if !schema.NamesMatch(cols, names) {
		return fail(&SchemaMismatchError{Expected: schema.Names(cols), Got: names})
	}

	total, err := r.CountRows(path, u.Data.Dialect, u.Data.Encoding)
	if err != nil {
		return fail(err)
	}

	log := logFrom(ctx).With("upload", uploadID)
	log.Info("import started", "estimated_rows", total, "first_import", first)

	tr := coerce.NewTracker()
	written, runErr := p.importRows(ctx, t, slug, u, r, cols, total, tr)
	sum.RowsChanged = written
	sum.CoercionErrors = tr.Errors()

	aborted := task.IsAborted(runErr)
	if runErr != nil && !aborted {
		return fail(p.purgeRun(ctx, slug, uploadID, runErr))
	}

	// An abort may arrive as a cancelled ctx; the rows already sent are
	// still committed and counted.
	ctx = context.WithoutCancel(ctx)
	if err := p.index.Commit(ctx, p.cfg.DataCore); err != nil {
		return fail(p.purgeRun(ctx, slug, uploadID, err))
	}

	for i := range cols {
		if cols[i].Typed() {
			widen(&cols[i], tr.Stats(cols[i].Name))
		}
	}
	rows := d.Rows() + written
	d.RowCount = &rows
	d.SetColumns(cols)
	if err := p.store.SaveDataset(ctx, d); err != nil {
		return fail(p.purgeRun(ctx, slug, uploadID, err))
	}
	sum.RowsTotal = rows

	if aborted {
		sum.Aborted = true
		sum.Err = runErr
		log.Info("import aborted", "rows", written)
		p.publishDataset(ctx, d)
		return sum, runErr
	}

	u.Data.Imported = true
	u.DatasetSlug = &slug
	if err := p.store.SaveUpload(ctx, u); err != nil {
		return fail(pkgerrors.WithStack(err))
	}
	p.publishDataset(ctx, d)
	log.Info("import finished", "rows", written, "row_count", rows)
	return sum, nil
}

func (p *Pipeline) importRows(ctx context.Context, t *task.Tracker, slug string, u *models.Upload, r reader.Reader, cols []schema.Column, total int, tr *coerce.Tracker) (int, error) {
	rows, err := r.Rows(u.StoragePath(), u.Data.Dialect, u.Data.Encoding)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	bw := index.NewBatchWriter(p.index, p.cfg.DataCore, p.cfg.BatchSize)
	lim := p.limiter()
	for rows.Next() {
		doc := buildDocument(uuid.NewString(), slug, u.ID, rows.Row(), cols, tr)
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
	if err := rows.Err(); err != nil {
		return bw.Flushed(), err
	}
	if err := bw.Flush(ctx); err != nil {
		return bw.Flushed(), err
	}
	p.report(ctx, t, bw.Flushed(), total)
	return bw.Flushed(), nil
}

// purgeRun deletes every row this upload wrote to slug and returns cause
// with a stack trace attached.
func (p *Pipeline) purgeRun(ctx context.Context, slug, uploadID string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	q := index.DatasetQuery(slug, index.FieldDataUploadID+":"+index.Escape(uploadID))
	if err := p.index.Delete(ctx, p.cfg.DataCore, q, true); err != nil {
		logFrom(ctx).Error("purge failed run", "dataset", slug, "upload", uploadID, "error", err)
		cause = errors.Join(cause, err)
	}
	return withStack(cause)
}

// withStack attaches a stack trace unless err already carries one.
func withStack(err error) error {
	if task.Traceback(err) != "" {
		return err
	}
	return pkgerrors.WithStack(err)
}
