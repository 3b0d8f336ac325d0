package pipeline

import (
	"context"

	"github.com/zulandar/datayard/internal/index"
	"github.com/zulandar/datayard/internal/task"
)

// PurgeUpload deletes every row an upload added to slug and recounts the
// dataset from the index.
func (p *Pipeline) PurgeUpload(ctx context.Context, t *task.Tracker, slug, uploadID string) (Summary, error) {
	sum := Summary{Operation: "purge", Dataset: slug}
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
	q := index.DatasetQuery(slug, index.FieldDataUploadID+":"+index.Escape(uploadID))
	if err := p.index.Delete(ctx, p.cfg.DataCore, q, true); err != nil {
		return fail(withStack(err))
	}
	rows, err := p.countRows(ctx, slug)
	if err != nil {
		return fail(withStack(err))
	}
	sum.RowsChanged = d.Rows() - rows
	if sum.RowsChanged < 0 {
		sum.RowsChanged = 0
	}
	d.RowCount = &rows
	if err := p.saveAndPublish(ctx, d); err != nil {
		return fail(withStack(err))
	}
	sum.RowsTotal = rows
	logFrom(ctx).Info("upload purged", "upload", uploadID, "removed", sum.RowsChanged, "row_count", rows)
	return sum, nil
}
