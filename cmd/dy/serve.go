package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/datayard/internal/dashboard"
	"github.com/zulandar/datayard/internal/logging"
	"github.com/zulandar/datayard/internal/maintenance"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the status API and the maintenance schedule",
		Long: `Serves task and dataset status over HTTP, accepts abort requests for runs in
this process, and runs housekeeping on the configured schedule. Stops on
Ctrl+C, asking running tasks to abort first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default: server.port from config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.pool.Shutdown()

	ctx := cmd.Context()
	runner := newMaintenance(a)
	stop, err := runner.Start(ctx)
	if err != nil {
		return err
	}
	defer stop()
	if next, err := maintenance.NextRun(a.cfg.Maintenance.Schedule, timeNow()); err == nil {
		logging.FromContext(ctx).Info("maintenance scheduled", "schedule", a.cfg.Maintenance.Schedule, "next", next)
	}

	if port <= 0 {
		port = a.cfg.Server.Port
	}
	err = dashboard.Start(ctx, dashboard.StartOpts{
		Store:   a.store,
		Aborter: a.pool,
		Port:    port,
		Out:     cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Shutting down, aborting running tasks...")
	return nil
}
