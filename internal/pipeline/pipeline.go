// Package pipeline implements the long-running dataset operations: import,
// reindex, export, upload purge and single-row edits. Every mutating
// operation holds the dataset lock for its whole run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/zulandar/datayard/internal/index"
	"github.com/zulandar/datayard/internal/models"
	"github.com/zulandar/datayard/internal/reader"
	"github.com/zulandar/datayard/internal/schema"
	"golang.org/x/time/rate"
)

// Config tunes pipeline runs.
type Config struct {
	DataCore         string
	DatasetsCore     string
	BatchSize        int
	Throttle         time.Duration
	PageSize         int
	SnifferMaxSample int
	ExportsDir       string
}

func (c *Config) applyDefaults() {
	if c.DataCore == "" {
		c.DataCore = "data"
	}
	if c.DatasetsCore == "" {
		c.DatasetsCore = "datasets"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.PageSize <= 0 {
		c.PageSize = 1000
	}
	if c.ExportsDir == "" {
		c.ExportsDir = models.UploadExport.Dir()
	}
}

// Catalog is the slice of the catalog store pipelines use.
type Catalog interface {
	GetDataset(ctx context.Context, slug string) (*models.Dataset, error)
	SaveDataset(ctx context.Context, d *models.Dataset) error
	GetUpload(ctx context.Context, id string) (*models.Upload, error)
	SaveUpload(ctx context.Context, u *models.Upload) error
}

// Index is the slice of the index client pipelines use.
type Index interface {
	index.Adder
	Delete(ctx context.Context, core, query string, commit bool) error
	Commit(ctx context.Context, core string) error
	Query(ctx context.Context, core, query string, offset, limit int, sort string) (*index.Result, error)
	QueryGrouped(ctx context.Context, core, query, groupField string, offset, limit, groupLimit, groupOffset int) (*index.GroupedResult, error)
	PutDataset(ctx context.Context, core string, doc index.DatasetDocument) error
}

// Locker acquires and releases dataset locks.
type Locker interface {
	Lock(ctx context.Context, slug string) error
	LockTask(ctx context.Context, slug, taskID string) error
	Unlock(ctx context.Context, slug string) error
}

// Publisher copies a finished export artifact somewhere else.
type Publisher interface {
	Publish(ctx context.Context, fs afero.Fs, path string) error
}

// Pipeline runs dataset operations against one catalog, index and file
// store.
type Pipeline struct {
	cfg     Config
	store   Catalog
	index   Index
	locks   Locker
	fs      afero.Fs
	publish Publisher
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPublisher mirrors export artifacts through pub.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publish = pub }
}

// New returns a Pipeline. fs is the storage root uploads and exports live
// under.
func New(cfg Config, store Catalog, idx Index, locks Locker, fs afero.Fs, opts ...Option) *Pipeline {
	cfg.applyDefaults()
	p := &Pipeline{cfg: cfg, store: store, index: idx, locks: locks, fs: fs, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

func (p *Pipeline) limiter() *rate.Limiter {
	if p.cfg.Throttle <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(p.cfg.Throttle), 1)
}

func (p *Pipeline) readerFor(u *models.Upload) (reader.Reader, error) {
	format := u.Data.Format
	if format == "" {
		f, err := reader.FormatForFilename(u.Filename)
		if err != nil {
			return nil, err
		}
		format = f
	}
	return reader.New(format, p.fs, reader.Options{SnifferMaxSample: p.cfg.SnifferMaxSample})
}

// unlock releases slug on every exit path, even when ctx is already done.
func (p *Pipeline) unlock(ctx context.Context, slug string) {
	if err := p.locks.Unlock(context.WithoutCancel(ctx), slug); err != nil {
		logFrom(ctx).Error("release dataset lock", "dataset", slug, "error", err)
	}
}

// publishDataset refreshes the dataset's catalog document. Failures are
// logged; the rows are already committed.
func (p *Pipeline) publishDataset(ctx context.Context, d *models.Dataset) {
	cols := d.Columns()
	doc := index.DatasetDocument{
		Slug:        d.Slug,
		Name:        d.Name,
		Description: d.Description,
		RowCount:    d.Rows(),
		Columns:     schema.Names(cols),
		Updated:     p.now(),
	}
	for _, c := range cols {
		if c.IndexedName != nil {
			doc.IndexedNames = append(doc.IndexedNames, *c.IndexedName)
		}
	}
	if err := p.index.PutDataset(ctx, p.cfg.DatasetsCore, doc); err != nil {
		logFrom(ctx).Warn("update dataset document", "dataset", d.Slug, "error", err)
	}
}

// countRows is the index's live count for slug.
func (p *Pipeline) countRows(ctx context.Context, slug string) (int, error) {
	res, err := p.index.Query(ctx, p.cfg.DataCore, index.DatasetQuery(slug, ""), 0, 0, "")
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

func progress(done, total int) string {
	if total <= 0 {
		return fmt.Sprintf("%d rows", done)
	}
	return fmt.Sprintf("%d/%d rows", done, total)
}
