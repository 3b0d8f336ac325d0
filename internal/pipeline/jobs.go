package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/zulandar/datayard/internal/models"
	"github.com/zulandar/datayard/internal/schema"
	"github.com/zulandar/datayard/internal/task"
)

// ImportJob schedules Import of uploadID into slug.
func (p *Pipeline) ImportJob(slug, uploadID, creator string) task.Job {
	return task.Job{
		Name:        "import",
		Description: fmt.Sprintf("import upload %s into %s", uploadID, slug),
		DatasetSlug: slug,
		Creator:     creator,
		Run: func(ctx context.Context, t *task.Tracker) (string, error) {
			sum, err := p.Import(ctx, t, slug, uploadID)
			return sum.String(), err
		},
	}
}

// ReindexJob schedules Reindex of slug with overrides.
func (p *Pipeline) ReindexJob(slug string, overrides []schema.Override, creator string) task.Job {
	var desc []string
	for _, o := range overrides {
		desc = append(desc, fmt.Sprintf("%s=%s", o.Name, o.Type))
	}
	return task.Job{
		Name:        "reindex",
		Description: fmt.Sprintf("reindex %s [%s]", slug, strings.Join(desc, ", ")),
		DatasetSlug: slug,
		Creator:     creator,
		Run: func(ctx context.Context, t *task.Tracker) (string, error) {
			sum, err := p.Reindex(ctx, t, slug, overrides)
			return sum.String(), err
		},
	}
}

// ExportJob schedules Export of slug and registers the artifact.
func (p *Pipeline) ExportJob(slug, query, creator string) task.Job {
	return task.Job{
		Name:        "export",
		Description: fmt.Sprintf("export %s", slug),
		DatasetSlug: slug,
		Creator:     creator,
		Run: func(ctx context.Context, t *task.Tracker) (string, error) {
			sum, err := p.Export(ctx, t, slug, query)
			if err != nil {
				return sum.String(), err
			}
			if _, err := p.RegisterExport(ctx, sum, query, creator); err != nil {
				return sum.String(), withStack(err)
			}
			return sum.String(), nil
		},
	}
}

// ExportSearchJob schedules ExportSearch for query and registers the
// archive.
func (p *Pipeline) ExportSearchJob(query, creator string) task.Job {
	return task.Job{
		Name:        "search export",
		Description: fmt.Sprintf("export search results for %q", query),
		Creator:     creator,
		Run: func(ctx context.Context, t *task.Tracker) (string, error) {
			sum, err := p.ExportSearch(ctx, t, query)
			if err != nil {
				return sum.String(), err
			}
			if _, err := p.RegisterExport(ctx, sum, query, creator); err != nil {
				return sum.String(), withStack(err)
			}
			return sum.String(), nil
		},
	}
}

// PurgeJob schedules PurgeUpload of uploadID's rows from slug.
func (p *Pipeline) PurgeJob(slug, uploadID, creator string) task.Job {
	return task.Job{
		Name:        "purge",
		Description: fmt.Sprintf("remove rows of upload %s from %s", uploadID, slug),
		DatasetSlug: slug,
		Creator:     creator,
		Run: func(ctx context.Context, t *task.Tracker) (string, error) {
			sum, err := p.PurgeUpload(ctx, t, slug, uploadID)
			return sum.String(), err
		},
	}
}

// RegisterExport records a finished export artifact as an Export upload.
// A dataset export is attached to its dataset; a search export is not.
func (p *Pipeline) RegisterExport(ctx context.Context, sum Summary, query, creator string) (*models.Upload, error) {
	u := &models.Upload{
		ID:               uuid.NewString(),
		Kind:             models.UploadExport,
		Filename:         path.Base(sum.Output),
		OriginalFilename: path.Base(sum.Output),
		Size:             sum.OutputSize,
		Creator:          creator,
		Export:           &models.ExportUpload{Query: query, DatasetCount: sum.Datasets},
	}
	if sum.Dataset != "" {
		slug := sum.Dataset
		u.DatasetSlug = &slug
	}
	if err := p.store.SaveUpload(ctx, u); err != nil {
		return nil, fmt.Errorf("pipeline: register export %s: %w", sum.Output, err)
	}
	return u, nil
}
