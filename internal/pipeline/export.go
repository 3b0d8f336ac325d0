package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/zulandar/datayard/internal/db"
	"github.com/zulandar/datayard/internal/index"
	"github.com/zulandar/datayard/internal/models"
	"github.com/zulandar/datayard/internal/schema"
	"github.com/zulandar/datayard/internal/task"
	"golang.org/x/time/rate"
)

const stampLayout = "20060102T150405"

// Export writes the rows of slug matching query (every row when query is
// empty) to a CSV file under the exports directory. The header is the
// dataset's column names. The dataset is locked for the whole run so the
// file never mixes rows from before and after a concurrent import or
// reindex. A failed or aborted run removes its partial file.
func (p *Pipeline) Export(ctx context.Context, t *task.Tracker, slug, query string) (Summary, error) {
	sum := Summary{Operation: "export", Dataset: slug}
	if err := p.locks.LockTask(ctx, slug, t.ID()); err != nil {
		sum.Err = err
		return sum, err
	}
	defer p.unlock(ctx, slug)

	d, err := p.store.GetDataset(ctx, slug)
	if err != nil {
		sum.Err = err
		return sum, err
	}
	name := path.Join(p.cfg.ExportsDir, fmt.Sprintf("%s-%s.csv", slug, p.stamp()))
	if err := p.fs.MkdirAll(p.cfg.ExportsDir, 0o755); err != nil {
		sum.Err = withStack(err)
		return sum, sum.Err
	}

	ex := &exporter{p: p, t: t, lim: p.limiter()}
	n, err := ex.toFile(ctx, name, d, query)
	sum.RowsChanged = n
	sum.RowsTotal = d.Rows()
	sum.Datasets = 1
	return p.finishExport(ctx, sum, name, err)
}

// ExportSearch runs query across every dataset, writes one CSV per dataset
// with matching rows and bundles them into a single zip archive. It reads
// like a search and takes no dataset lock.
func (p *Pipeline) ExportSearch(ctx context.Context, t *task.Tracker, query string) (Summary, error) {
	sum := Summary{Operation: "search export"}
	stamp := p.stamp()
	work := path.Join(p.cfg.ExportsDir, "search-"+stamp)
	name := work + ".zip"
	if err := p.fs.MkdirAll(work, 0o755); err != nil {
		sum.Err = withStack(err)
		return sum, sum.Err
	}
	defer func() {
		if err := p.fs.RemoveAll(work); err != nil {
			logFrom(ctx).Warn("remove export work dir", "dir", work, "error", err)
		}
	}()

	slugs, err := p.matchingDatasets(ctx, query)
	if err != nil {
		sum.Err = withStack(err)
		return sum, sum.Err
	}
	logFrom(ctx).Info("search export started", "query", query, "datasets", len(slugs))

	ex := &exporter{p: p, t: t, lim: p.limiter()}
	var parts []string
	for _, slug := range slugs {
		d, err := p.store.GetDataset(ctx, slug)
		if errors.Is(err, db.ErrNotFound) {
			logFrom(ctx).Warn("search export: index has rows for unknown dataset", "dataset", slug)
			continue
		}
		if err != nil {
			return p.finishExport(ctx, sum, name, err)
		}
		part := path.Join(work, slug+".csv")
		n, err := ex.toFile(ctx, part, d, query)
		sum.RowsChanged += n
		if err != nil {
			return p.finishExport(ctx, sum, name, err)
		}
		parts = append(parts, part)
	}
	sum.Datasets = len(parts)
	err = p.bundle(name, parts)
	return p.finishExport(ctx, sum, name, err)
}

// finishExport removes name on failure, or stats and publishes it on
// success.
func (p *Pipeline) finishExport(ctx context.Context, sum Summary, name string, err error) (Summary, error) {
	if err != nil {
		if rmErr := p.fs.Remove(name); rmErr != nil && !errors.Is(rmErr, afero.ErrFileNotFound) {
			logFrom(ctx).Warn("remove partial export", "path", name, "error", rmErr)
		}
		if task.IsAborted(err) {
			sum.Aborted = true
		} else {
			err = withStack(err)
		}
		sum.Err = err
		return sum, err
	}
	fi, err := p.fs.Stat(name)
	if err != nil {
		sum.Err = withStack(err)
		return sum, sum.Err
	}
	sum.Output = name
	sum.OutputSize = fi.Size()
	if p.publish != nil {
		if err := p.publish.Publish(ctx, p.fs, name); err != nil {
			logFrom(ctx).Warn("publish export", "path", name, "error", err)
		}
	}
	logFrom(ctx).Info("export finished", "path", name, "rows", sum.RowsChanged, "bytes", sum.OutputSize)
	return sum, nil
}

// matchingDatasets returns the slugs of every dataset with a row matching
// query, in the index's group order.
func (p *Pipeline) matchingDatasets(ctx context.Context, query string) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		query = "*:*"
	}
	var slugs []string
	for offset := 0; ; {
		res, err := p.index.QueryGrouped(ctx, p.cfg.DataCore, query, index.FieldDatasetSlug, offset, p.cfg.PageSize, 1, 0)
		if err != nil {
			return nil, err
		}
		for _, g := range res.Groups {
			slugs = append(slugs, g.Value)
		}
		offset += len(res.Groups)
		if len(res.Groups) == 0 || offset >= res.NGroups {
			return slugs, nil
		}
	}
}

// bundle zips parts into name, each stored under its base name.
func (p *Pipeline) bundle(name string, parts []string) error {
	f, err := p.fs.Create(name)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	for _, part := range parts {
		if err := p.addToZip(zw, part); err != nil {
			zw.Close()
			f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (p *Pipeline) addToZip(zw *zip.Writer, part string) error {
	src, err := p.fs.Open(part)
	if err != nil {
		return err
	}
	defer src.Close()
	w, err := zw.CreateHeader(&zip.FileHeader{Name: path.Base(part), Method: zip.Deflate, Modified: p.now()})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

func (p *Pipeline) stamp() string {
	return p.now().UTC().Format(stampLayout)
}

// exporter carries the progress state shared by every file of one run.
type exporter struct {
	p    *Pipeline
	t    *task.Tracker
	lim  *rate.Limiter
	done int
}

func (ex *exporter) toFile(ctx context.Context, name string, d *models.Dataset, query string) (int, error) {
	f, err := ex.p.fs.Create(name)
	if err != nil {
		return 0, err
	}
	n, err := ex.write(ctx, f, d, query)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// write pages through the dataset's matching rows in id order, writing the
// raw cells of each.
func (ex *exporter) write(ctx context.Context, w io.Writer, d *models.Dataset, query string) (int, error) {
	cw := csv.NewWriter(w)
	if cols := d.Columns(); len(cols) > 0 {
		if err := cw.Write(schema.Names(cols)); err != nil {
			return 0, err
		}
	}
	q := index.DatasetQuery(d.Slug, query)
	n := 0
	for offset := 0; ; {
		res, err := ex.p.index.Query(ctx, ex.p.cfg.DataCore, q, offset, ex.p.cfg.PageSize, index.FieldID+" asc")
		if err != nil {
			return n, err
		}
		for _, doc := range res.Docs {
			if err := cw.Write(doc.Data); err != nil {
				return n, err
			}
		}
		n += len(res.Docs)
		ex.done += len(res.Docs)
		offset += len(res.Docs)
		cw.Flush()
		if err := cw.Error(); err != nil {
			return n, err
		}
		if len(res.Docs) == 0 || offset >= res.Total {
			return n, nil
		}
		if err := ex.p.checkpoint(ctx, ex.t, ex.lim, ex.done, -1); err != nil {
			return n, err
		}
	}
}
