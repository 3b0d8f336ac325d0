package models

import "time"

// TaskState is the lifecycle state of a TaskStatus.
type TaskState string

const (
	TaskPending        TaskState = "pending"
	TaskStarted        TaskState = "started"
	TaskSuccess        TaskState = "success"
	TaskFailure        TaskState = "failure"
	TaskAborted        TaskState = "aborted"
	TaskAbortRequested TaskState = "abort_requested"
)

// Terminal reports whether no further transition is allowed from s.
func (s TaskState) Terminal() bool {
	return s == TaskSuccess || s == TaskFailure || s == TaskAborted
}

// TaskStatus tracks one pipeline run.
type TaskStatus struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Name        string    `gorm:"size:64;not null;index"`
	Description string    `gorm:"type:text"`
	Status      TaskState `gorm:"size:16;default:pending;index"`
	Message     string    `gorm:"type:text"`
	DatasetSlug string    `gorm:"size:128;index"`
	Creator     string    `gorm:"size:128"`
	Summary     string    `gorm:"type:text"`
	Traceback   string    `gorm:"type:text"`
	StartedAt   *time.Time
	EndedAt     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
