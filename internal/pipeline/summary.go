package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Summary is the human-readable outcome of one run, stored on the task and
// sent to notifiers whatever the outcome.
type Summary struct {
	Operation      string
	Dataset        string
	RowsChanged    int
	RowsTotal      int
	CoercionErrors map[string]int
	Output         string
	Datasets       int
	OutputSize     int64
	Aborted        bool
	Err            error
}

func (s Summary) String() string {
	var b strings.Builder
	target := s.Dataset
	if target == "" {
		target = "search results"
	}
	fmt.Fprintf(&b, "%s of %s", s.Operation, target)
	switch {
	case s.Err != nil && !s.Aborted:
		d := Describe(s.Err)
		fmt.Fprintf(&b, " failed: %s", d.Message)
		if d.Action != "" {
			fmt.Fprintf(&b, " %s", d.Action)
		}
	case s.Aborted:
		fmt.Fprintf(&b, " aborted after %d rows", s.RowsChanged)
	default:
		fmt.Fprintf(&b, " finished: %d rows %s", s.RowsChanged, verb(s.Operation))
	}
	if s.Dataset != "" && (s.Err == nil || s.Aborted) {
		fmt.Fprintf(&b, " (%d total)", s.RowsTotal)
	}
	b.WriteString(".")
	if s.Output != "" && s.Err == nil {
		fmt.Fprintf(&b, "\nOutput: %s (%d bytes)", s.Output, s.OutputSize)
	}
	if len(s.CoercionErrors) > 0 {
		names := make([]string, 0, len(s.CoercionErrors))
		for name := range s.CoercionErrors {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\nValues that could not be converted:")
		for _, name := range names {
			fmt.Fprintf(&b, "\n  %s: %d", name, s.CoercionErrors[name])
		}
	}
	return b.String()
}

func verb(op string) string {
	switch op {
	case "import", "put row":
		return "added"
	case "export", "search export":
		return "exported"
	case "purge", "delete row":
		return "removed"
	}
	return "updated"
}
