package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/datayard/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("db: not found")

// Store is the catalog: datasets, uploads and task statuses.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

func notFound(err error, what, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %q: %w", what, key, ErrNotFound)
	}
	return fmt.Errorf("db: get %s %q: %w", what, key, err)
}

// GetDataset loads a dataset by slug.
func (s *Store) GetDataset(ctx context.Context, slug string) (*models.Dataset, error) {
	var d models.Dataset
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&d).Error; err != nil {
		return nil, notFound(err, "dataset", slug)
	}
	return &d, nil
}

// CreateDataset inserts a new dataset. The slug must be unused.
func (s *Store) CreateDataset(ctx context.Context, d *models.Dataset) error {
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("db: create dataset %q: %w", d.Slug, err)
	}
	return nil
}

// SaveDataset writes every field of d.
func (s *Store) SaveDataset(ctx context.Context, d *models.Dataset) error {
	if err := s.db.WithContext(ctx).Save(d).Error; err != nil {
		return fmt.Errorf("db: save dataset %q: %w", d.Slug, err)
	}
	return nil
}

// ListDatasets returns all datasets ordered by slug.
func (s *Store) ListDatasets(ctx context.Context) ([]models.Dataset, error) {
	var out []models.Dataset
	if err := s.db.WithContext(ctx).Order("slug").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("db: list datasets: %w", err)
	}
	return out, nil
}

// LockedDatasets returns datasets currently holding their lock.
func (s *Store) LockedDatasets(ctx context.Context) ([]models.Dataset, error) {
	var out []models.Dataset
	if err := s.db.WithContext(ctx).Where("locked = ?", true).Order("locked_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("db: list locked datasets: %w", err)
	}
	return out, nil
}

// SetDatasetLock marks slug locked at the given time, only if it is not
// already locked. It reports whether the row was written.
func (s *Store) SetDatasetLock(ctx context.Context, slug string, at time.Time, taskID *string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Dataset{}).
		Where("slug = ? AND locked = ?", slug, false).
		Updates(map[string]interface{}{
			"locked":          true,
			"locked_at":       at,
			"current_task_id": taskID,
		})
	if result.Error != nil {
		return false, fmt.Errorf("db: lock dataset %q: %w", slug, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ClearDatasetLock unconditionally releases slug's lock.
func (s *Store) ClearDatasetLock(ctx context.Context, slug string) error {
	result := s.db.WithContext(ctx).Model(&models.Dataset{}).
		Where("slug = ?", slug).
		Updates(map[string]interface{}{
			"locked":          false,
			"locked_at":       nil,
			"current_task_id": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("db: unlock dataset %q: %w", slug, result.Error)
	}
	return nil
}

// GetUpload loads an upload by id.
func (s *Store) GetUpload(ctx context.Context, id string) (*models.Upload, error) {
	var u models.Upload
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, notFound(err, "upload", id)
	}
	return &u, nil
}

// SaveUpload inserts or replaces u.
func (s *Store) SaveUpload(ctx context.Context, u *models.Upload) error {
	if err := s.db.WithContext(ctx).Save(u).Error; err != nil {
		return fmt.Errorf("db: save upload %q: %w", u.ID, err)
	}
	return nil
}

// DeleteUpload removes the upload record only; callers own the file.
func (s *Store) DeleteUpload(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Upload{})
	if result.Error != nil {
		return fmt.Errorf("db: delete upload %q: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("upload %q: %w", id, ErrNotFound)
	}
	return nil
}

// UploadFilter narrows ListUploads. Zero fields match everything.
type UploadFilter struct {
	DatasetSlug string
	Kind        models.UploadKind
	Before      time.Time
}

// ListUploads returns uploads matching f, oldest first.
func (s *Store) ListUploads(ctx context.Context, f UploadFilter) ([]models.Upload, error) {
	q := s.db.WithContext(ctx).Model(&models.Upload{})
	if f.DatasetSlug != "" {
		q = q.Where("dataset_slug = ?", f.DatasetSlug)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if !f.Before.IsZero() {
		q = q.Where("created_at < ?", f.Before)
	}
	var out []models.Upload
	if err := q.Order("created_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("db: list uploads: %w", err)
	}
	return out, nil
}

// GetTaskStatus loads a task status by id.
func (s *Store) GetTaskStatus(ctx context.Context, id string) (*models.TaskStatus, error) {
	var ts models.TaskStatus
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&ts).Error; err != nil {
		return nil, notFound(err, "task", id)
	}
	return &ts, nil
}

// SaveTaskStatus inserts or replaces ts.
func (s *Store) SaveTaskStatus(ctx context.Context, ts *models.TaskStatus) error {
	if err := s.db.WithContext(ctx).Save(ts).Error; err != nil {
		return fmt.Errorf("db: save task %q: %w", ts.ID, err)
	}
	return nil
}

// UpdateTaskStatus applies updates to task id only while its status is one
// of from (any status when from is empty). It reports whether a row
// matched.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, from []models.TaskState, updates map[string]interface{}) (bool, error) {
	q := s.db.WithContext(ctx).Model(&models.TaskStatus{}).Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}
	result := q.Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("db: update task %q: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// TaskFilter narrows ListTaskStatuses. Zero fields match everything.
type TaskFilter struct {
	DatasetSlug string
	Status      models.TaskState
	Limit       int
}

// ListTaskStatuses returns matching tasks, newest first.
func (s *Store) ListTaskStatuses(ctx context.Context, f TaskFilter) ([]models.TaskStatus, error) {
	q := s.db.WithContext(ctx).Model(&models.TaskStatus{})
	if f.DatasetSlug != "" {
		q = q.Where("dataset_slug = ?", f.DatasetSlug)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.TaskStatus
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("db: list tasks: %w", err)
	}
	return out, nil
}
