package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/datayard/internal/db"
	"github.com/zulandar/datayard/internal/models"
	"github.com/zulandar/datayard/internal/task"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and abort pipeline runs",
	}

	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskAbortCmd())
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	var (
		configPath string
		traceback  bool
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task's status and summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskShow(cmd, configPath, args[0], traceback)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	cmd.Flags().BoolVar(&traceback, "traceback", false, "print the stack trace of a failed run")
	return cmd
}

func runTaskShow(cmd *cobra.Command, configPath, id string, traceback bool) error {
	_, store, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	ts, err := store.GetTaskStatus(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task:     %s\n", ts.ID)
	fmt.Fprintf(out, "Name:     %s\n", ts.Name)
	if ts.Description != "" {
		fmt.Fprintf(out, "About:    %s\n", ts.Description)
	}
	fmt.Fprintf(out, "Status:   %s\n", ts.Status)
	if ts.DatasetSlug != "" {
		fmt.Fprintf(out, "Dataset:  %s\n", ts.DatasetSlug)
	}
	if ts.Creator != "" {
		fmt.Fprintf(out, "Creator:  %s\n", ts.Creator)
	}
	fmt.Fprintf(out, "Started:  %s\n", formatTime(ts.StartedAt))
	fmt.Fprintf(out, "Ended:    %s\n", formatTime(ts.EndedAt))
	if d := elapsed(ts); d > 0 {
		fmt.Fprintf(out, "Runtime:  %s\n", d.Round(time.Millisecond))
	}
	if ts.Message != "" {
		fmt.Fprintf(out, "Message:  %s\n", ts.Message)
	}
	if ts.Summary != "" {
		fmt.Fprintf(out, "\n%s\n", ts.Summary)
	}
	if traceback && ts.Traceback != "" {
		fmt.Fprintf(out, "\n%s\n", ts.Traceback)
	}
	return nil
}

func elapsed(ts *models.TaskStatus) time.Duration {
	if ts.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if ts.EndedAt != nil {
		end = *ts.EndedAt
	}
	return end.Sub(*ts.StartedAt)
}

func newTaskListCmd() *cobra.Command {
	var (
		configPath string
		filter     db.TaskFilter
		status     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = models.TaskState(status)
			return runTaskList(cmd, configPath, filter)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	cmd.Flags().StringVarP(&filter.DatasetSlug, "dataset", "d", "", "only tasks on this dataset")
	cmd.Flags().StringVar(&status, "status", "", "only tasks in this status")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "maximum number of tasks")
	return cmd
}

func runTaskList(cmd *cobra.Command, configPath string, filter db.TaskFilter) error {
	_, store, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	tasks, err := store.ListTaskStatuses(cmd.Context(), filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tDATASET\tCREATED\tMESSAGE")
	for _, ts := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", ts.ID, ts.Name, ts.Status, orDash(ts.DatasetSlug),
			formatTime(&ts.CreatedAt), truncate(ts.Message, 50))
	}
	return w.Flush()
}

func newTaskAbortCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "abort <id>",
		Short: "Ask a running task to stop",
		Long: `Marks the task abort-requested. The run notices at its next checkpoint,
commits what it has written and finishes as aborted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskAbort(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	return cmd
}

func runTaskAbort(cmd *cobra.Command, configPath, id string) error {
	_, store, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := task.RequestAbort(cmd.Context(), store, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Abort requested for task %s\n", id)
	return nil
}
