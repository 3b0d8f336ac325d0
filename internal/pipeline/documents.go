package pipeline

import (
	"context"
	"fmt"

	"github.com/zulandar/datayard/internal/coerce"
	"github.com/zulandar/datayard/internal/index"
	"github.com/zulandar/datayard/internal/schema"
	"github.com/zulandar/datayard/internal/task"
	"golang.org/x/time/rate"
)

// buildDocument turns one row into an index document: the raw cells plus a
// typed field for every indexed typed column. Cells that fail to coerce are
// counted by tr and left out of the typed fields.
func buildDocument(id, slug, uploadID string, row []string, cols []schema.Column, tr *coerce.Tracker) index.Document {
	doc := index.Document{
		ID:           id,
		DatasetSlug:  slug,
		DataUploadID: uploadID,
		Data:         append([]string(nil), row...),
		Fields:       make(map[string]coerce.Value),
	}
	for i, c := range cols {
		if !c.Typed() {
			continue
		}
		var raw *string
		if i < len(row) {
			raw = &row[i]
		}
		v, err := tr.Coerce(c.Name, raw, c.Type)
		if err != nil || v.IsNull() {
			continue
		}
		doc.Fields[*c.IndexedName] = v
	}
	return doc
}

// widen extends c's min/max to cover what a run observed.
func widen(c *schema.Column, st coerce.ColumnStats) {
	if !st.Min.IsNull() && (c.Min.IsNull() || st.Min.Compare(c.Min) < 0) {
		c.Min = st.Min
	}
	if !st.Max.IsNull() && (c.Max.IsNull() || st.Max.Compare(c.Max) > 0) {
		c.Max = st.Max
	}
}

// checkpoint runs after every flushed batch: record progress, throttle,
// then observe any abort request.
func (p *Pipeline) checkpoint(ctx context.Context, t *task.Tracker, lim *rate.Limiter, done, total int) error {
	p.report(ctx, t, done, total)
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", task.ErrAborted, err)
	}
	return t.Checkpoint(ctx)
}

// report records progress. A failed write only costs the message.
func (p *Pipeline) report(ctx context.Context, t *task.Tracker, done, total int) {
	if err := t.Progress(ctx, progress(done, total)); err != nil {
		logFrom(ctx).Warn("record progress", "task", t.ID(), "error", err)
	}
}
