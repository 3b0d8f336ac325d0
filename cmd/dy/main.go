package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfig = "datayard.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dy",
		Short:         "Datayard: dataset ingestion and export for the data catalog",
		Long:          "Datayard imports tabular files into the search index, rebuilds typed columns and exports datasets back to CSV.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newDatasetCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newExportSearchCmd())
	cmd.AddCommand(newRowCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newMaintenanceCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dy %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(ctx context.Context, cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	// A missing .env is normal; values then come from the environment.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, newRootCmd())
	stop()
	os.Exit(code)
}
