package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/zulandar/datayard/internal/coerce"
	"github.com/zulandar/datayard/internal/index"
	"github.com/zulandar/datayard/internal/models"
)

// PutRow adds a row to slug, or replaces the row with the given id. An
// empty id creates a new row. It returns the row's id.
func (p *Pipeline) PutRow(ctx context.Context, slug, id string, data []string) (string, Summary, error) {
	sum := Summary{Operation: "put row", Dataset: slug}
	fail := func(err error) (string, Summary, error) {
		sum.Err = err
		return "", sum, err
	}
	if err := p.locks.Lock(ctx, slug); err != nil {
		return fail(err)
	}
	defer p.unlock(ctx, slug)

	d, err := p.store.GetDataset(ctx, slug)
	if err != nil {
		return fail(err)
	}
	cols := d.Columns()
	if len(cols) == 0 {
		return fail(fmt.Errorf("pipeline: put row in %s: %w", slug, ErrNoSchema))
	}
	if len(data) != len(cols) {
		return fail(fmt.Errorf("pipeline: put row in %s: got %d values for %d columns", slug, len(data), len(cols)))
	}

	var uploadID string
	existing := false
	if id == "" {
		id = uuid.NewString()
	} else {
		old, err := p.findRow(ctx, slug, id)
		switch {
		case err == nil:
			existing = true
			uploadID = old.DataUploadID
		case !errors.Is(err, ErrRowNotFound):
			return fail(err)
		}
	}

	tr := coerce.NewTracker()
	doc := buildDocument(id, slug, uploadID, data, cols, tr)
	if err := p.index.Add(ctx, p.cfg.DataCore, []index.Document{doc}, true); err != nil {
		return fail(err)
	}

	for i := range cols {
		if cols[i].Typed() {
			widen(&cols[i], tr.Stats(cols[i].Name))
		}
	}
	d.SetColumns(cols)
	rows := d.Rows()
	if !existing {
		rows++
	}
	d.RowCount = &rows
	if err := p.saveAndPublish(ctx, d); err != nil {
		return fail(err)
	}
	sum.RowsChanged = 1
	sum.RowsTotal = rows
	sum.CoercionErrors = tr.Errors()
	return id, sum, nil
}

// DeleteRow removes one row from slug.
func (p *Pipeline) DeleteRow(ctx context.Context, slug, id string) (Summary, error) {
	sum := Summary{Operation: "delete row", Dataset: slug}
	fail := func(err error) (Summary, error) {
		sum.Err = err
		return sum, err
	}
	if err := p.locks.Lock(ctx, slug); err != nil {
		return fail(err)
	}
	defer p.unlock(ctx, slug)

	d, err := p.store.GetDataset(ctx, slug)
	if err != nil {
		return fail(err)
	}
	if _, err := p.findRow(ctx, slug, id); err != nil {
		return fail(err)
	}
	if err := p.index.Delete(ctx, p.cfg.DataCore, rowQuery(slug, id), true); err != nil {
		return fail(err)
	}
	rows := d.Rows() - 1
	if rows < 0 {
		rows = 0
	}
	d.RowCount = &rows
	if err := p.saveAndPublish(ctx, d); err != nil {
		return fail(err)
	}
	sum.RowsChanged = 1
	sum.RowsTotal = rows
	return sum, nil
}

// GetRow returns one row of slug. Readers never take the lock.
func (p *Pipeline) GetRow(ctx context.Context, slug, id string) (index.Document, error) {
	return p.findRow(ctx, slug, id)
}

func (p *Pipeline) findRow(ctx context.Context, slug, id string) (index.Document, error) {
	res, err := p.index.Query(ctx, p.cfg.DataCore, rowQuery(slug, id), 0, 1, "")
	if err != nil {
		return index.Document{}, err
	}
	if len(res.Docs) == 0 {
		return index.Document{}, ErrRowNotFound
	}
	return res.Docs[0], nil
}

func rowQuery(slug, id string) string {
	return index.DatasetQuery(slug, index.FieldID+":"+index.Escape(id))
}

func (p *Pipeline) saveAndPublish(ctx context.Context, d *models.Dataset) error {
	if err := p.store.SaveDataset(ctx, d); err != nil {
		return err
	}
	p.publishDataset(ctx, d)
	return nil
}
