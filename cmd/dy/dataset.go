package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/datayard/internal/db"
	"github.com/zulandar/datayard/internal/lock"
	"github.com/zulandar/datayard/internal/models"
	"github.com/zulandar/datayard/internal/schema"
)

func newDatasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Dataset catalog commands",
	}

	cmd.AddCommand(newDatasetCreateCmd())
	cmd.AddCommand(newDatasetListCmd())
	cmd.AddCommand(newDatasetShowCmd())
	cmd.AddCommand(newDatasetUnlockCmd())
	return cmd
}

func newDatasetCreateCmd() *cobra.Command {
	var (
		configPath  string
		slug        string
		description string
		creator     string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty dataset",
		Long:  "Creates a dataset with no schema. Its first import establishes the columns.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDatasetCreate(cmd, configPath, models.Dataset{
				Slug:        slug,
				Name:        args[0],
				Description: description,
				Creator:     creator,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	cmd.Flags().StringVar(&slug, "slug", "", "dataset slug (default: derived from the name)")
	cmd.Flags().StringVar(&description, "description", "", "dataset description")
	cmd.Flags().StringVar(&creator, "creator", defaultCreator(), "user recorded as the creator")
	return cmd
}

func runDatasetCreate(cmd *cobra.Command, configPath string, d models.Dataset) error {
	_, store, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("dataset name is required")
	}
	if d.Slug == "" {
		d.Slug = strings.ReplaceAll(schema.Slugify(d.Name), "_", "-")
	}
	if err := store.CreateDataset(cmd.Context(), &d); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created dataset %s (%s)\n", d.Slug, d.Name)
	return nil
}

func newDatasetListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDatasetList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	return cmd
}

func runDatasetList(cmd *cobra.Command, configPath string) error {
	_, store, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	datasets, err := store.ListDatasets(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(datasets) == 0 {
		fmt.Fprintln(out, "No datasets found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tNAME\tROWS\tCOLUMNS\tLOCKED")
	for _, d := range datasets {
		rows := "-"
		if d.RowCount != nil {
			rows = fmt.Sprint(*d.RowCount)
		}
		locked := ""
		if d.Locked {
			locked = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", d.Slug, truncate(d.Name, 40), rows, len(d.Columns()), locked)
	}
	return w.Flush()
}

func newDatasetShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <slug>",
		Short: "Show a dataset's schema, lock and uploads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDatasetShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	return cmd
}

func runDatasetShow(cmd *cobra.Command, configPath, slug string) error {
	_, store, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	d, err := store.GetDataset(ctx, slug)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Dataset:  %s\n", d.Slug)
	fmt.Fprintf(out, "Name:     %s\n", d.Name)
	if d.Description != "" {
		fmt.Fprintf(out, "About:    %s\n", d.Description)
	}
	if d.RowCount != nil {
		fmt.Fprintf(out, "Rows:     %d\n", *d.RowCount)
	} else {
		fmt.Fprintln(out, "Rows:     -")
	}
	if d.Locked {
		holder := "no task"
		if d.CurrentTaskID != nil {
			holder = "task " + *d.CurrentTaskID
		}
		fmt.Fprintf(out, "Locked:   since %s by %s\n", formatTime(d.LockedAt), holder)
	}

	if d.HasSchema() {
		fmt.Fprintln(out)
		printColumns(out, d.Columns())
	} else {
		fmt.Fprintln(out, "\nNo schema yet: import an upload to establish one.")
	}

	uploads, err := store.ListUploads(ctx, db.UploadFilter{DatasetSlug: d.Slug})
	if err != nil {
		return err
	}
	if len(uploads) > 0 {
		fmt.Fprintln(out)
		printUploads(out, uploads)
	}
	return nil
}

func newDatasetUnlockCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "unlock <slug>",
		Short: "Clear a dataset lock left behind by a dead process",
		Long: `Releases the dataset lock unconditionally. Only use this when the run holding
the lock is known to be gone, e.g. after a crash: a live run keeps writing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDatasetUnlock(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	return cmd
}

func runDatasetUnlock(cmd *cobra.Command, configPath, slug string) error {
	_, store, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	prev, err := lock.New(store).Force(cmd.Context(), slug)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !prev.Locked {
		fmt.Fprintf(out, "Dataset %s was not locked\n", slug)
		return nil
	}
	holder := "no task"
	if prev.CurrentTaskID != nil {
		holder = "task " + *prev.CurrentTaskID
	}
	fmt.Fprintf(out, "Unlocked %s (held since %s by %s)\n", slug, formatTime(prev.LockedAt), holder)
	return nil
}
