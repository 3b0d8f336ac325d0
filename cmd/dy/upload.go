package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/datayard/internal/models"
	"github.com/zulandar/datayard/internal/upload"
)

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload registration commands",
	}

	cmd.AddCommand(newUploadAddCmd())
	cmd.AddCommand(newUploadShowCmd())
	cmd.AddCommand(newUploadDeleteCmd())
	return cmd
}

func newUploadAddCmd() *cobra.Command {
	var (
		configPath string
		req        upload.Request
		kind       string
	)

	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Register a file in storage",
		Long: `Copies the file into storage and records it. A data upload (csv, xls, xlsx)
is inspected: its encoding is detected unless --encoding is given, and its
header, a sample of rows and guessed column types are stored for review
before import.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Kind = models.UploadKind(kind)
			return runUploadAdd(cmd, configPath, args[0], req)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	cmd.Flags().StringVarP(&req.DatasetSlug, "dataset", "d", "", "dataset the file belongs to")
	cmd.Flags().StringVar(&kind, "kind", string(models.UploadData), "upload kind (data, related)")
	cmd.Flags().StringVar(&req.Encoding, "encoding", "", "text encoding of a csv file (default: detect)")
	cmd.Flags().StringVar(&req.Title, "title", "", "title of a related file")
	cmd.Flags().StringVar(&req.Creator, "creator", defaultCreator(), "user recorded as the uploader")
	return cmd
}

func runUploadAdd(cmd *cobra.Command, configPath, file string, req upload.Request) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	req.OriginalFilename = filepath.Base(file)
	u, err := a.uploads.Register(cmd.Context(), f, req)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Registered upload %s (%s, %s)\n", u.ID, u.OriginalFilename, formatSize(u.Size))
	if u.Data != nil {
		fmt.Fprintln(out)
		printDataUpload(out, u.Data)
	}
	return nil
}

func newUploadShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an upload and what registration learned about it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUploadShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	return cmd
}

func runUploadShow(cmd *cobra.Command, configPath, id string) error {
	_, store, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	u, err := store.GetUpload(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Upload:   %s\n", u.ID)
	fmt.Fprintf(out, "Kind:     %s\n", u.Kind)
	fmt.Fprintf(out, "File:     %s (%s)\n", u.OriginalFilename, formatSize(u.Size))
	fmt.Fprintf(out, "Stored:   %s\n", u.StoragePath())
	if u.DatasetSlug != nil {
		fmt.Fprintf(out, "Dataset:  %s\n", *u.DatasetSlug)
	}
	if u.Creator != "" {
		fmt.Fprintf(out, "Creator:  %s\n", u.Creator)
	}
	fmt.Fprintf(out, "Created:  %s\n", formatTime(&u.CreatedAt))
	switch {
	case u.Data != nil:
		fmt.Fprintf(out, "Imported: %t\n\n", u.Data.Imported)
		printDataUpload(out, u.Data)
	case u.Related != nil && u.Related.Title != "":
		fmt.Fprintf(out, "Title:    %s\n", u.Related.Title)
	case u.Export != nil:
		if u.Export.Query != "" {
			fmt.Fprintf(out, "Query:    %s\n", u.Export.Query)
		}
		if u.DatasetSlug == nil {
			fmt.Fprintf(out, "Datasets: %d\n", u.Export.DatasetCount)
		}
	}
	return nil
}

func newUploadDeleteCmd() *cobra.Command {
	var configPath, creator string

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an upload, removing its rows from the index if imported",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUploadDelete(cmd, configPath, args[0], creator)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	cmd.Flags().StringVar(&creator, "creator", defaultCreator(), "user recorded on the purge task")
	return cmd
}

func runUploadDelete(cmd *cobra.Command, configPath, id, creator string) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	taskID, err := a.uploads.Delete(cmd.Context(), id, creator)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Deleted upload %s\n", id)
	if taskID == "" {
		return nil
	}
	fmt.Fprintf(out, "Task %s: removing its rows from the index\n", taskID)
	_, err = follow(cmd.Context(), out, a, taskID)
	return err
}

// printDataUpload shows the inspected header, guessed types and sample.
func printDataUpload(out io.Writer, d *models.DataUpload) {
	fmt.Fprintf(out, "Format:   %s", d.Format)
	if d.Encoding != "" {
		fmt.Fprintf(out, ", %s", d.Encoding)
	}
	if d.Dialect.Delimiter != "" && d.Dialect.Delimiter != "," {
		fmt.Fprintf(out, ", delimiter %q", d.Dialect.Delimiter)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLUMN\tGUESSED TYPE\tSAMPLE")
	for i, name := range d.Columns {
		guess := "-"
		if i < len(d.GuessedTypes) {
			guess = string(d.GuessedTypes[i])
		}
		var sample []string
		for _, row := range d.SampleRows {
			if i < len(row) && row[i] != "" {
				sample = append(sample, row[i])
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, guess, truncate(strings.Join(sample, ", "), 50))
	}
	w.Flush()
}

// printUploads lists uploads as a table.
func printUploads(out io.Writer, uploads []models.Upload) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UPLOAD\tKIND\tFILE\tSIZE\tIMPORTED\tCREATED")
	for _, u := range uploads {
		imported := ""
		if u.Imported() {
			imported = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", u.ID, u.Kind, truncate(u.OriginalFilename, 40),
			formatSize(u.Size), imported, formatTime(&u.CreatedAt))
	}
	w.Flush()
}
