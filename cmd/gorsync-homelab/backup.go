package main

import (
	"fmt"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/fgeck/gorsync-homelab/internal/services/orchestrator"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	backupDryRun   bool
	backupPrevious string
	backupBG       bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a new generation",
	Long: `Create a new generation at the target:
1. Wake-on-LAN (if configured)
2. Resolve include and exclude rules to the selection
3. rsync the selection, hard linking unchanged files to the previous generation
4. Mark the generation complete or failed
5. Send Telegram notification (if configured)`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().BoolVarP(&backupDryRun, "dry-run", "n", false, "show what would be transferred without creating a generation")
	backupCmd.Flags().StringVar(&backupPrevious, "previous", "", "link against this generation instead of the newest complete one")
	backupCmd.Flags().BoolVar(&backupBG, "bg", false, "submit to the running daemon")
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if backupBG {
		if backupPrevious != "" {
			return models.ConfigError("--previous cannot be combined with --bg")
		}
		return submitToDaemon(ctx, models.TaskBackup, models.TaskArgs{DryRun: backupDryRun})
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	orch := orchestrator.New(log.Logger, *a.cfg, a.catalog)
	result, err := orch.Backup(ctx, models.BackupOptions{DryRun: backupDryRun, Previous: backupPrevious})
	if models.IsKind(err, models.KindEmptySelection) {
		log.Warn().Err(err).Msg("nothing to back up")
		return nil
	}
	if result != nil {
		printBackupResult(result)
	}
	return err
}

func printBackupResult(result *models.BackupResult) {
	switch {
	case result.DryRun:
		fmt.Println("Dry run, no generation created.")
	case result.Generation != nil:
		g := result.Generation
		fmt.Printf("Generation %s (%s): %s\n", g.Name, g.Pretty(), g.Status)
		if g.Previous != "" {
			fmt.Printf("  Linked against: %s\n", g.Previous)
		}
	}
	if result.Transfer != nil {
		printCounters(result.Transfer.Counters)
		if result.Transfer.Message != "" {
			fmt.Printf("  rsync: %s\n", result.Transfer.Message)
		}
	}
	fmt.Printf("  Duration: %s\n", result.Duration.Round(1e6))
}
