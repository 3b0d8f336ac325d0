package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/datayard/internal/maintenance"
)

var timeNow = time.Now

func newMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Housekeeping: stale lock report and export retention",
	}

	cmd.AddCommand(newMaintenanceRunCmd())
	return cmd
}

func newMaintenanceRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one housekeeping pass now",
		Long: `Reports dataset locks whose holder has finished, is unknown, or that have been
held without a task for longer than maintenance.stale_lock_after, and removes
export artifacts older than maintenance.export_retention. Locks are reported,
never cleared: use "dy dataset unlock" once the holder is known to be gone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintenance(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to datayard config file")
	return cmd
}

func runMaintenance(cmd *cobra.Command, configPath string) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	rep, err := newMaintenance(a).RunOnce(cmd.Context())
	out := cmd.OutOrStdout()
	for _, s := range rep.StaleLocks {
		fmt.Fprintf(out, "Stale lock on %s: %s (held %s)\n", s.Dataset, s.Reason, s.Held.Round(time.Second))
	}
	fmt.Fprintf(out, "%d stale locks, %d exports removed\n", len(rep.StaleLocks), rep.ExportsRemoved)
	return err
}

func newMaintenance(a *app) *maintenance.Runner {
	var mirror maintenance.Remover
	if a.mirror != nil {
		mirror = a.mirror
	}
	return maintenance.New(a.store, a.fs, mirror, maintenance.Config{
		Schedule:        a.cfg.Maintenance.Schedule,
		StaleLockAfter:  a.cfg.Maintenance.StaleLockAfter,
		ExportRetention: a.cfg.Maintenance.ExportRetention,
		ExportsDir:      a.cfg.Storage.ExportsDir,
	})
}
