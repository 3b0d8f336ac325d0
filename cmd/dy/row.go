package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "row",
		Short: "Single-row edits",
	}

	cmd.AddCommand(newRowGetCmd())
	cmd.AddCommand(newRowPutCmd())
	cmd.AddCommand(newRowDeleteCmd())
	return cmd
}

func newRowGetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "get <dataset> <row-id>",
		Short: "Print one row",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRowGet(cmd, configPath, args[0], args[1])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	return cmd
}

func runRowGet(cmd *cobra.Command, configPath, slug, id string) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	d, err := a.store.GetDataset(ctx, slug)
	if err != nil {
		return err
	}
	doc, err := a.pipe.GetRow(ctx, slug, id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	for i, c := range d.Columns() {
		v := ""
		if i < len(doc.Data) {
			v = doc.Data[i]
		}
		fmt.Fprintf(w, "%s\t%s\n", c.Name, v)
	}
	return w.Flush()
}

func newRowPutCmd() *cobra.Command {
	var configPath, id string

	cmd := &cobra.Command{
		Use:   "put <dataset> -- <value>...",
		Short: "Add a row, or replace one with --id",
		Long: `Writes one row with a value per column, in schema order. Without --id a new
row is added; with --id the existing row is replaced and keeps its upload.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRowPut(cmd, configPath, args[0], id, args[1:])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	cmd.Flags().StringVar(&id, "id", "", "id of the row to replace")
	return cmd
}

func runRowPut(cmd *cobra.Command, configPath, slug, id string, values []string) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	rowID, sum, err := a.pipe.PutRow(cmd.Context(), slug, id, values)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Row %s\n", rowID)
	fmt.Fprintln(out, sum.String())
	return nil
}

func newRowDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <dataset> <row-id>",
		Short: "Delete one row",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRowDelete(cmd, configPath, args[0], args[1])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	return cmd
}

func runRowDelete(cmd *cobra.Command, configPath, slug, id string) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	sum, err := a.pipe.DeleteRow(cmd.Context(), slug, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sum.String())
	return nil
}
