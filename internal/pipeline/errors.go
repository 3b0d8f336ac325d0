package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zulandar/datayard/internal/db"
	"github.com/zulandar/datayard/internal/index"
	"github.com/zulandar/datayard/internal/lock"
	"github.com/zulandar/datayard/internal/logging"
	"github.com/zulandar/datayard/internal/reader"
	"github.com/zulandar/datayard/internal/task"
)

var (
	// ErrSchemaMismatch means an upload's header differs from the dataset's
	// columns.
	ErrSchemaMismatch = errors.New("upload columns do not match the dataset")

	// ErrAlreadyImported means the upload's rows are already in the index.
	ErrAlreadyImported = errors.New("upload has already been imported")

	// ErrNotDataUpload means the upload cannot be imported.
	ErrNotDataUpload = errors.New("upload is not a data upload")

	// ErrRowNotFound means no row with the given id exists in the dataset.
	ErrRowNotFound = errors.New("row not found")
)

// SchemaMismatchError carries both column lists.
type SchemaMismatchError struct {
	Expected []string
	Got      []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%v: dataset has [%s], upload has [%s]", ErrSchemaMismatch,
		strings.Join(e.Expected, ", "), strings.Join(e.Got, ", "))
}

func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

// Description is an error as shown to a user.
type Description struct {
	Code    string
	Message string
	Action  string
}

// Describe maps a pipeline error to a user-facing message, a suggested
// action and a stable code.
func Describe(err error) Description {
	var (
		encErr   *reader.EncodingError
		sniffErr *reader.NotSniffableError
		idxErr   *index.IndexError
	)
	switch {
	case err == nil:
		return Description{Code: "ok", Message: "Completed."}
	case errors.Is(err, lock.ErrDatasetLocked):
		return Description{Code: "dataset_locked",
			Message: "Another operation is already running on this dataset.",
			Action:  "Wait for it to finish and try again."}
	case errors.Is(err, ErrSchemaMismatch):
		return Description{Code: "schema_mismatch", Message: err.Error(),
			Action: "Upload a file whose header matches the dataset's columns, in the same order."}
	case errors.As(err, &encErr):
		return Description{Code: "encoding_error",
			Message: fmt.Sprintf("The file could not be decoded as %s.", encErr.Encoding),
			Action:  "Re-upload the file declaring its correct encoding."}
	case errors.As(err, &sniffErr):
		return Description{Code: "not_sniffable",
			Message: "The file's format could not be determined.",
			Action:  "Check that the file is a delimited text file or spreadsheet with a header row."}
	case errors.Is(err, ErrAlreadyImported):
		return Description{Code: "already_imported", Message: err.Error(),
			Action: "Delete the upload first to re-import it."}
	case errors.Is(err, task.ErrAborted):
		return Description{Code: "aborted", Message: "The operation was aborted.",
			Action: "Rows written before the abort were kept."}
	case errors.Is(err, db.ErrNotFound), errors.Is(err, ErrRowNotFound):
		return Description{Code: "not_found", Message: err.Error()}
	case errors.As(err, &idxErr):
		return Description{Code: "index_error",
			Message: fmt.Sprintf("The search index rejected a request (status %d).", idxErr.StatusCode),
			Action:  "Rows written by this run were removed. Try again once the index is healthy."}
	}
	return Description{Code: "unexpected", Message: err.Error(),
		Action: "Contact an administrator; the task's traceback has details."}
}

func logFrom(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx)
}
