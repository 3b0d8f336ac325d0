// Package task tracks long-running pipeline runs: the status state
// machine, cooperative abort, and the worker pool that supervises runs.
package task

import (
	"errors"

	"github.com/zulandar/datayard/internal/models"
)

var (
	// ErrAborted is returned by Checkpoint when the run should stop.
	ErrAborted = errors.New("task: abort requested")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the task's current status.
	ErrInvalidTransition = errors.New("task: invalid status transition")
)

// ValidTransitions maps each status to its valid next statuses. Terminal
// statuses have no entry.
var ValidTransitions = map[models.TaskState][]models.TaskState{
	models.TaskPending:        {models.TaskStarted, models.TaskAbortRequested, models.TaskAborted, models.TaskFailure},
	models.TaskStarted:        {models.TaskSuccess, models.TaskFailure, models.TaskAborted, models.TaskAbortRequested},
	models.TaskAbortRequested: {models.TaskSuccess, models.TaskFailure, models.TaskAborted},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to models.TaskState) bool {
	for _, v := range ValidTransitions[from] {
		if v == to {
			return true
		}
	}
	return false
}

// sources lists every status that may move to to.
func sources(to models.TaskState) []models.TaskState {
	var out []models.TaskState
	for _, from := range []models.TaskState{models.TaskPending, models.TaskStarted, models.TaskAbortRequested} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
