package cli

import (
	"context"
	"fmt"
	"time"

	"hndld/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var flagOlderThan time.Duration

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Maintain automation run records",
}

var runsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark RUNNING records older than the cutoff as FAILED",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		olderThan := flagOlderThan
		if olderThan <= 0 {
			olderThan = cfg.Automation.StaleRunAfter
		}
		if olderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		n, err := services.NewRunRecorder(db, logrus.StandardLogger()).ReconcileStaleRuns(context.Background(), olderThan)
		if err != nil {
			return err
		}
		fmt.Printf("marked %d stale run(s) as failed\n", n)
		return nil
	},
}

func init() {
	runsSweepCmd.Flags().DurationVar(&flagOlderThan, "older-than", 0, "cutoff age (default automation.stale_run_after)")
	runsCmd.AddCommand(runsSweepCmd)
	rootCmd.AddCommand(runsCmd)
}
