package main

import (
	"fmt"
	"path/filepath"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/fgeck/gorsync-homelab/internal/services/orchestrator"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	restoreGeneration string
	restoreNth        int
	restoreTo         string
	restoreDryRun     bool
	restoreBG         bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore [item...]",
	Short: "Restore a generation or items of it",
	Long: `Restore files from a generation. Without items the whole generation is
restored. Items are restored to their original location unless --to is given.
Files outside the restored items are never deleted.`,
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().StringVarP(&restoreGeneration, "generation", "g", models.LatestAlias, "generation name to restore from")
	restoreCmd.Flags().IntVar(&restoreNth, "nth", 0, "restore from the N-th newest complete generation")
	restoreCmd.Flags().StringVar(&restoreTo, "to", "", "restore below this directory instead of the original location")
	restoreCmd.Flags().BoolVarP(&restoreDryRun, "dry-run", "n", false, "show what would be restored")
	restoreCmd.Flags().BoolVar(&restoreBG, "bg", false, "submit to the running daemon")
	restoreCmd.MarkFlagsMutuallyExclusive("generation", "nth")
}

func runRestore(cmd *cobra.Command, args []string) error {
	if restoreNth < 0 {
		return models.ConfigError("--nth must be positive, got %d", restoreNth)
	}

	items := make([]string, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return models.ConfigError("invalid item %q: %v", arg, err)
		}
		items = append(items, abs)
	}
	destination := restoreTo
	if destination != "" {
		abs, err := filepath.Abs(destination)
		if err != nil {
			return models.ConfigError("invalid destination %q: %v", destination, err)
		}
		destination = abs
	}

	ctx, cancel := signalContext()
	defer cancel()

	if restoreBG {
		return submitToDaemon(ctx, models.TaskRestore, models.TaskArgs{
			Generation:  restoreGeneration,
			Nth:         restoreNth,
			Items:       items,
			Destination: destination,
			DryRun:      restoreDryRun,
		})
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	orch := orchestrator.New(log.Logger, *a.cfg, a.catalog)
	report, err := orch.Restore(ctx, models.RestoreOptions{
		Generation:  restoreGeneration,
		Nth:         restoreNth,
		Items:       items,
		Destination: destination,
		DryRun:      restoreDryRun,
	})
	if report != nil && report.Generation != "" {
		printRestoreReport(report)
	}
	return err
}

func printRestoreReport(report *models.RestoreReport) {
	prefix := ""
	if report.DryRun {
		prefix = "[DRY RUN] "
	}
	fmt.Printf("%sRestored %s to %s\n", prefix, report.Generation, report.Destination)
	for _, item := range report.Items {
		fmt.Printf("  %s\n", item)
	}
	if report.Transfer != nil {
		printCounters(report.Transfer.Counters)
	}
	fmt.Printf("  Duration: %s\n", report.Duration.Round(1e6))
}
