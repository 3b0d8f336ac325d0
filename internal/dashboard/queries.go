package dashboard

import (
	"time"

	"github.com/zulandar/datayard/internal/models"
	"github.com/zulandar/datayard/internal/schema"
)

// TaskView is the API shape of a task status.
type TaskView struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Status      models.TaskState `json:"status"`
	Message     string           `json:"message,omitempty"`
	Dataset     string           `json:"dataset,omitempty"`
	Creator     string           `json:"creator,omitempty"`
	Summary     string           `json:"summary,omitempty"`
	Traceback   string           `json:"traceback,omitempty"`
	Finished    bool             `json:"finished"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	EndedAt     *time.Time       `json:"ended_at,omitempty"`
	// Duration is in seconds, present once the run has started.
	Duration *float64 `json:"duration,omitempty"`
}

func newTaskView(ts *models.TaskStatus) TaskView {
	v := TaskView{
		ID:          ts.ID,
		Name:        ts.Name,
		Description: ts.Description,
		Status:      ts.Status,
		Message:     ts.Message,
		Dataset:     ts.DatasetSlug,
		Creator:     ts.Creator,
		Summary:     ts.Summary,
		Traceback:   ts.Traceback,
		Finished:    ts.Status.Terminal(),
		CreatedAt:   ts.CreatedAt,
		StartedAt:   ts.StartedAt,
		EndedAt:     ts.EndedAt,
	}
	if ts.StartedAt != nil {
		end := time.Now()
		if ts.EndedAt != nil {
			end = *ts.EndedAt
		}
		d := end.Sub(*ts.StartedAt).Seconds()
		v.Duration = &d
	}
	return v
}

func taskViews(tasks []models.TaskStatus) []TaskView {
	out := make([]TaskView, len(tasks))
	for i := range tasks {
		out[i] = newTaskView(&tasks[i])
	}
	return out
}

// DatasetView is the API shape of a dataset.
type DatasetView struct {
	Slug          string          `json:"slug"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	RowCount      *int            `json:"row_count"`
	Locked        bool            `json:"locked"`
	LockedAt      *time.Time      `json:"locked_at,omitempty"`
	CurrentTaskID *string         `json:"current_task_id,omitempty"`
	Columns       []schema.Column `json:"columns,omitempty"`
	RecentTasks   []TaskView      `json:"recent_tasks,omitempty"`
}

func newDatasetView(d *models.Dataset, withColumns bool) DatasetView {
	v := DatasetView{
		Slug:          d.Slug,
		Name:          d.Name,
		Description:   d.Description,
		RowCount:      d.RowCount,
		Locked:        d.Locked,
		LockedAt:      d.LockedAt,
		CurrentTaskID: d.CurrentTaskID,
	}
	if withColumns {
		v.Columns = d.Columns()
	}
	return v
}
