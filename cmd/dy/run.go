package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/datayard/internal/logging"
	"github.com/zulandar/datayard/internal/models"
	"github.com/zulandar/datayard/internal/schema"
	"github.com/zulandar/datayard/internal/task"
)

// pollInterval is how often a foreground run's status is re-read.
var pollInterval = 250 * time.Millisecond

func defaultCreator() string {
	return os.Getenv("USER")
}

func newImportCmd() *cobra.Command {
	var configPath, creator string

	cmd := &cobra.Command{
		Use:   "import <dataset> <upload-id>",
		Short: "Import a registered data upload into a dataset",
		Long: `Reads every row of the upload, converts typed columns and writes the rows to
the index. The first import of a dataset establishes its column schema; later
imports must have the same header. On failure the rows written so far are
removed again. Ctrl+C asks the run to abort; rows already written are kept.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, configPath, args[0], args[1], creator)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	cmd.Flags().StringVar(&creator, "creator", defaultCreator(), "user recorded on the task")
	return cmd
}

func runImport(cmd *cobra.Command, configPath, slug, uploadID, creator string) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()
	_, err = runJob(cmd, a, a.pipe.ImportJob(slug, uploadID, creator))
	return err
}

func newReindexCmd() *cobra.Command {
	var configPath, creator string

	cmd := &cobra.Command{
		Use:   "reindex <dataset> [column=type ...]",
		Short: "Rebuild a dataset's typed columns",
		Long: `Re-reads every row of the dataset from the index and rewrites it under the
current schema with the given overrides applied. A type of "unset" stops
indexing the column. Types: text, int, float, date, time, datetime, bool,
unset.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(cmd, configPath, args[0], args[1:], creator)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	cmd.Flags().StringVar(&creator, "creator", defaultCreator(), "user recorded on the task")
	return cmd
}

func runReindex(cmd *cobra.Command, configPath, slug string, specs []string, creator string) error {
	var overrides []schema.Override
	for _, s := range specs {
		o, err := schema.ParseOverride(s)
		if err != nil {
			return err
		}
		overrides = append(overrides, o)
	}

	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()
	_, err = runJob(cmd, a, a.pipe.ReindexJob(slug, overrides, creator))
	return err
}

func newExportCmd() *cobra.Command {
	var configPath, creator, query string

	cmd := &cobra.Command{
		Use:   "export <dataset>",
		Short: "Export a dataset, or the rows matching a query, to CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, configPath, args[0], query, creator)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	cmd.Flags().StringVarP(&query, "query", "q", "", "only export rows matching this index query")
	cmd.Flags().StringVar(&creator, "creator", defaultCreator(), "user recorded on the task and export")
	return cmd
}

func runExport(cmd *cobra.Command, configPath, slug, query, creator string) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()
	_, err = runJob(cmd, a, a.pipe.ExportJob(slug, query, creator))
	return err
}

func newExportSearchCmd() *cobra.Command {
	var configPath, creator string

	cmd := &cobra.Command{
		Use:   "export-search <query>",
		Short: "Export the rows matching a query across all datasets as a zip",
		Long:  "Writes one CSV per dataset with matching rows and bundles them into a single zip archive.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExportSearch(cmd, configPath, args[0], creator)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	cmd.Flags().StringVar(&creator, "creator", defaultCreator(), "user recorded on the task and export")
	return cmd
}

func runExportSearch(cmd *cobra.Command, configPath, query, creator string) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()
	_, err = runJob(cmd, a, a.pipe.ExportSearchJob(query, creator))
	return err
}

// runJob schedules job and follows it to completion, printing progress. An
// interrupt asks the run to abort and keeps waiting until it has stopped.
func runJob(cmd *cobra.Command, a *app, job task.Job) (*models.TaskStatus, error) {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	id, err := a.pool.Enqueue(context.WithoutCancel(ctx), job)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Task %s: %s\n", id, job.Description)

	return follow(ctx, out, a, id)
}

// follow waits for run id in a's pool.
func follow(ctx context.Context, out io.Writer, a *app, id string) (*models.TaskStatus, error) {
	type result struct {
		ts  *models.TaskStatus
		err error
	}
	done := make(chan result, 1)
	go func() {
		ts, err := a.pool.Wait(context.Background(), id)
		done <- result{ts, err}
	}()

	prog := newProgress(out)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	interrupted := ctx.Done()

	for {
		select {
		case r := <-done:
			prog.done()
			if r.err != nil {
				return nil, r.err
			}
			return r.ts, reportFinal(out, r.ts)
		case <-interrupted:
			interrupted = nil
			prog.done()
			fmt.Fprintln(out, "Interrupted, asking the run to abort...")
			if err := a.pool.RequestAbort(context.Background(), id); err != nil {
				logging.FromContext(ctx).Warn("request abort", "task", id, "error", err)
			}
		case <-ticker.C:
			if ts, err := a.store.GetTaskStatus(context.Background(), id); err == nil {
				prog.update(ts.Message)
			}
		}
	}
}

// reportFinal prints the run's summary and turns anything but Success into
// an error.
func reportFinal(out io.Writer, ts *models.TaskStatus) error {
	if ts.Summary != "" {
		fmt.Fprintln(out, ts.Summary)
	}
	switch ts.Status {
	case models.TaskSuccess:
		return nil
	case models.TaskAborted:
		return fmt.Errorf("task %s was aborted", ts.ID)
	}
	if ts.Message != "" {
		return fmt.Errorf("task %s ended %s: %s", ts.ID, ts.Status, ts.Message)
	}
	return fmt.Errorf("task %s ended %s", ts.ID, ts.Status)
}
