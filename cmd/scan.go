package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/project-million/scanner-cli/internal/model"
	"github.com/project-million/scanner-cli/internal/monitoring"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a one-shot scan",
	Long:  "Discovers candidates from the configured sources, analyzes each one, and upserts the results. Blocks until the run reaches a terminal state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		monitoring.ScansStarted.WithLabelValues("cli").Inc()
		run, err := env.Scanner.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Run %s: %s\n", run.ID, run.Status)
		fmt.Printf("  processed: %d\n", run.BusinessesProcessed)
		fmt.Printf("  added:     %d\n", run.BusinessesAdded)
		fmt.Printf("  updated:   %d\n", run.BusinessesUpdated)
		if run.ExecutionTimeSeconds != nil {
			fmt.Printf("  elapsed:   %ds\n", *run.ExecutionTimeSeconds)
		}
		if run.Status == model.RunStatusFailed {
			fmt.Fprintf(os.Stderr, "  error: %s\n", run.ErrorMessage)
			zap.L().Error("scan failed", zap.String("run_id", run.ID), zap.String("error", run.ErrorMessage))
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
