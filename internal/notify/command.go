package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Command runs a shell command per note. {{.Title}}, {{.Body}} and
// {{.Severity}} in the template are replaced with the note's values.
type Command struct {
	Template string
	Shell    string
}

func (c Command) Notify(ctx context.Context, n Note) error {
	shell := c.Shell
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", expand(c.Template, n))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify: command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func expand(template string, n Note) string {
	r := strings.NewReplacer(
		"{{.Title}}", n.Title,
		"{{.Body}}", n.Body,
		"{{.Severity}}", n.Severity,
	)
	return r.Replace(template)
}
