// Package notify delivers finished-task summaries to people: chat channels
// and a local command.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/datayard/internal/logging"
	"github.com/zulandar/datayard/internal/models"
)

// Note is one finished run, formatted for display.
type Note struct {
	Title    string
	Body     string
	Severity string // "success", "warning", "error"
	Color    string // sidebar colour hint, e.g. "#36a64f"
	Fields   []Field
}

// Field is a key-value pair shown alongside a note.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Notifier sends notes somewhere.
type Notifier interface {
	Notify(ctx context.Context, n Note) error
}

var severityColor = map[string]string{
	"success": "#36a64f",
	"warning": "#daa038",
	"error":   "#cc0000",
}

// FromTask formats a terminal task status.
func FromTask(ts *models.TaskStatus) Note {
	sev := "success"
	switch ts.Status {
	case models.TaskAborted:
		sev = "warning"
	case models.TaskFailure:
		sev = "error"
	}
	target := ts.DatasetSlug
	if target == "" {
		target = "search results"
	}
	n := Note{
		Title:    fmt.Sprintf("%s of %s: %s", ts.Name, target, ts.Status),
		Body:     ts.Summary,
		Severity: sev,
		Color:    severityColor[sev],
		Fields: []Field{
			{Name: "Task", Value: ts.ID, Short: true},
		},
	}
	if ts.Creator != "" {
		n.Fields = append(n.Fields, Field{Name: "Requested by", Value: ts.Creator, Short: true})
	}
	if ts.StartedAt != nil && ts.EndedAt != nil {
		n.Fields = append(n.Fields, Field{Name: "Took", Value: ts.EndedAt.Sub(*ts.StartedAt).Round(time.Second).String(), Short: true})
	}
	return n
}

// Multi sends each note to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Note) error {
	var errs []error
	for _, nf := range m {
		if err := nf.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Hook adapts a Notifier to the worker pool's finish callback. Delivery is
// best effort: failures are logged.
func Hook(nf Notifier) func(ctx context.Context, ts *models.TaskStatus) {
	return func(ctx context.Context, ts *models.TaskStatus) {
		if err := nf.Notify(context.WithoutCancel(ctx), FromTask(ts)); err != nil {
			logging.FromContext(ctx).Warn("notify: deliver summary", "task", ts.ID, "error", err)
		}
	}
}
