// Package upload registers stored files as uploads and removes them again.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/zulandar/datayard/internal/logging"
	"github.com/zulandar/datayard/internal/models"
	"github.com/zulandar/datayard/internal/reader"
	"github.com/zulandar/datayard/internal/storage"
	"github.com/zulandar/datayard/internal/task"
)

// Store is the catalog slice uploads need.
type Store interface {
	GetDataset(ctx context.Context, slug string) (*models.Dataset, error)
	GetUpload(ctx context.Context, id string) (*models.Upload, error)
	SaveUpload(ctx context.Context, u *models.Upload) error
	DeleteUpload(ctx context.Context, id string) error
}

// Scheduler queues background runs.
type Scheduler interface {
	Enqueue(ctx context.Context, job task.Job) (string, error)
}

// PurgeJobs builds the run that removes an upload's rows.
type PurgeJobs interface {
	PurgeJob(slug, uploadID, creator string) task.Job
}

// Remover deletes a mirrored copy of a file.
type Remover interface {
	Remove(ctx context.Context, name string) error
}

// Config sizes what registration reads from a data file.
type Config struct {
	SnifferMaxSample int
	SampleRows       int
	TypeSampleSize   int
}

// Manager registers and deletes uploads.
type Manager struct {
	store  Store
	fs     afero.Fs
	cfg    Config
	sched  Scheduler
	purges PurgeJobs
	mirror Remover
}

// Option configures a Manager.
type Option func(*Manager)

// WithPurge lets Delete schedule removal of an imported upload's rows.
func WithPurge(sched Scheduler, jobs PurgeJobs) Option {
	return func(m *Manager) {
		m.sched = sched
		m.purges = jobs
	}
}

// WithMirror removes mirrored export copies on Delete.
func WithMirror(r Remover) Option {
	return func(m *Manager) { m.mirror = r }
}

// New returns a Manager storing files in fs.
func New(store Store, fs afero.Fs, cfg Config, opts ...Option) *Manager {
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = 5
	}
	if cfg.TypeSampleSize <= 0 {
		cfg.TypeSampleSize = 1000
	}
	m := &Manager{store: store, fs: fs, cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Request describes a file being registered.
type Request struct {
	Kind             models.UploadKind
	OriginalFilename string
	Creator          string
	DatasetSlug      string
	// Encoding is the declared text encoding of a data file. Empty means
	// detect it.
	Encoding string
	Title    string
}

// Register copies src into storage and records it. For a data upload it
// also detects the encoding, sniffs the dialect, reads the header and a
// sample, and guesses column types. The stored file is removed if any of
// that fails.
func (m *Manager) Register(ctx context.Context, src io.Reader, req Request) (*models.Upload, error) {
	if req.Kind == "" {
		req.Kind = models.UploadData
	}
	if req.OriginalFilename == "" {
		return nil, fmt.Errorf("upload: original filename is required")
	}
	var slug *string
	if req.DatasetSlug != "" {
		if _, err := m.store.GetDataset(ctx, req.DatasetSlug); err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
		slug = &req.DatasetSlug
	}

	id := uuid.NewString()
	u := &models.Upload{
		ID:               id,
		Kind:             req.Kind,
		Filename:         id + strings.ToLower(path.Ext(req.OriginalFilename)),
		OriginalFilename: path.Base(req.OriginalFilename),
		Creator:          req.Creator,
		DatasetSlug:      slug,
	}
	size, err := m.write(u.StoragePath(), src)
	if err != nil {
		return nil, err
	}
	u.Size = size

	switch req.Kind {
	case models.UploadData:
		data, err := m.inspect(u, req.Encoding)
		if err != nil {
			m.discard(ctx, u.StoragePath())
			return nil, err
		}
		u.Data = data
	case models.UploadRelated:
		u.Related = &models.RelatedUpload{Title: req.Title}
	case models.UploadExport:
		u.Export = &models.ExportUpload{}
	default:
		m.discard(ctx, u.StoragePath())
		return nil, fmt.Errorf("upload: unknown kind %q", req.Kind)
	}

	if err := m.store.SaveUpload(ctx, u); err != nil {
		m.discard(ctx, u.StoragePath())
		return nil, fmt.Errorf("upload: save: %w", err)
	}
	logging.FromContext(ctx).Info("upload registered", "upload", u.ID, "kind", u.Kind, "file", u.OriginalFilename, "size", u.Size)
	return u, nil
}

func (m *Manager) write(name string, src io.Reader) (int64, error) {
	if err := m.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return 0, fmt.Errorf("upload: %w", err)
	}
	f, err := m.fs.Create(name)
	if err != nil {
		return 0, fmt.Errorf("upload: create %s: %w", name, err)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		m.fs.Remove(name)
		return 0, fmt.Errorf("upload: write %s: %w", name, err)
	}
	return n, nil
}

func (m *Manager) inspect(u *models.Upload, encoding string) (*models.DataUpload, error) {
	format, err := reader.FormatForFilename(u.OriginalFilename)
	if err != nil {
		return nil, err
	}
	r, err := reader.New(format, m.fs, reader.Options{SnifferMaxSample: m.cfg.SnifferMaxSample})
	if err != nil {
		return nil, err
	}
	p := u.StoragePath()
	if format == reader.FormatCSV && encoding == "" {
		if encoding, err = reader.DetectEncoding(m.fs, p, m.cfg.SnifferMaxSample); err != nil {
			return nil, fmt.Errorf("upload: detect encoding: %w", err)
		}
	}
	dialect, err := r.SniffDialect(p, encoding)
	if err != nil {
		return nil, err
	}
	names, err := r.ExtractColumnNames(p, dialect, encoding)
	if err != nil {
		return nil, err
	}
	sample, err := r.SampleRows(p, dialect, m.cfg.SampleRows, encoding)
	if err != nil {
		return nil, err
	}
	guessed, err := r.GuessColumnTypes(p, dialect, m.cfg.TypeSampleSize, encoding)
	if err != nil {
		return nil, err
	}
	return &models.DataUpload{
		Encoding:     encoding,
		Format:       format,
		Dialect:      dialect,
		Columns:      names,
		SampleRows:   sample,
		GuessedTypes: guessed,
	}, nil
}

func (m *Manager) discard(ctx context.Context, name string) {
	if err := storage.Remove(m.fs, name); err != nil {
		logging.FromContext(ctx).Warn("discard upload file", "path", name, "error", err)
	}
}

// ErrPurgeUnavailable means an imported upload was deleted without a way
// to remove its rows.
var ErrPurgeUnavailable = errors.New("upload: imported rows cannot be purged here")

// Delete removes the upload's file and record. When its rows are in the
// index a purge run is scheduled and its task id returned.
func (m *Manager) Delete(ctx context.Context, id, creator string) (string, error) {
	u, err := m.store.GetUpload(ctx, id)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	var taskID string
	if u.Imported() && u.DatasetSlug != nil {
		if m.sched == nil || m.purges == nil {
			return "", ErrPurgeUnavailable
		}
		taskID, err = m.sched.Enqueue(ctx, m.purges.PurgeJob(*u.DatasetSlug, u.ID, creator))
		if err != nil {
			return "", fmt.Errorf("upload: schedule purge: %w", err)
		}
	}
	if err := storage.Remove(m.fs, u.StoragePath()); err != nil {
		return taskID, err
	}
	if u.Kind == models.UploadExport && m.mirror != nil {
		if err := m.mirror.Remove(ctx, u.StoragePath()); err != nil {
			logging.FromContext(ctx).Warn("remove mirrored export", "upload", id, "error", err)
		}
	}
	if err := m.store.DeleteUpload(ctx, id); err != nil {
		return taskID, fmt.Errorf("upload: %w", err)
	}
	return taskID, nil
}
