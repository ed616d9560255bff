package main

import (
	"github.com/fgeck/gorsync-homelab/internal/config"
	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/fgeck/gorsync-homelab/internal/services/retention"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	removeAllButKeep int
	removeOlderThan  string
	removeInvalid    bool
	removeDryRun     bool
	removeBG         bool
)

var removeCmd = &cobra.Command{
	Use:     "remove [generation...]",
	Aliases: []string{"rm"},
	Short:   "Remove generations",
	Long: `Remove generations by name, or select them with one of:
  --all-but-keep N   keep only the N newest generations
  --older-than D     remove generations older than D (e.g. 30d, 2w, 12h)
  --invalid          remove failed generations

Generations in progress and the newest complete generation are never removed.`,
	RunE: runRemove,
}

var (
	pruneDryRun bool
	pruneBG     bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the configured retention policy",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

func init() {
	removeCmd.Flags().IntVar(&removeAllButKeep, "all-but-keep", 0, "keep only the N newest generations")
	removeCmd.Flags().StringVar(&removeOlderThan, "older-than", "", "remove generations older than this duration")
	removeCmd.Flags().BoolVar(&removeInvalid, "invalid", false, "remove failed generations")
	removeCmd.Flags().BoolVarP(&removeDryRun, "dry-run", "n", false, "show what would be removed")
	removeCmd.Flags().BoolVar(&removeBG, "bg", false, "submit to the running daemon")
	removeCmd.MarkFlagsMutuallyExclusive("all-but-keep", "older-than", "invalid")

	pruneCmd.Flags().BoolVarP(&pruneDryRun, "dry-run", "n", false, "show what would be removed")
	pruneCmd.Flags().BoolVar(&pruneBG, "bg", false, "submit to the running daemon")
}

// removeArgs turns the remove command line into prune task arguments.
func removeArgs(names []string, allButKeep int, olderThan string, invalid bool) (models.TaskArgs, error) {
	selectors := 0
	for _, set := range []bool{len(names) > 0, allButKeep != 0, olderThan != "", invalid} {
		if set {
			selectors++
		}
	}
	if selectors != 1 {
		return models.TaskArgs{}, models.ConfigError("give generation names or exactly one of --all-but-keep, --older-than, --invalid")
	}

	switch {
	case len(names) > 0:
		return models.TaskArgs{Names: names}, nil
	case invalid:
		return models.TaskArgs{Failed: true}, nil
	case allButKeep != 0:
		if allButKeep < 1 {
			return models.TaskArgs{}, models.ConfigError("--all-but-keep must be at least 1, got %d", allButKeep)
		}
		return models.TaskArgs{Policy: &models.RetentionPolicy{KeepLast: allButKeep}}, nil
	default:
		d, err := config.ParseDuration(olderThan)
		if err != nil {
			return models.TaskArgs{}, models.ConfigError("--older-than: %v", err)
		}
		if d <= 0 {
			return models.TaskArgs{}, models.ConfigError("--older-than must be positive")
		}
		return models.TaskArgs{Policy: &models.RetentionPolicy{KeepWithin: d}}, nil
	}
}

func runRemove(cmd *cobra.Command, args []string) error {
	taskArgs, err := removeArgs(args, removeAllButKeep, removeOlderThan, removeInvalid)
	if err != nil {
		return err
	}
	taskArgs.DryRun = removeDryRun
	return prune(taskArgs, removeBG)
}

func runPrune(cmd *cobra.Command, args []string) error {
	return prune(models.TaskArgs{DryRun: pruneDryRun}, pruneBG)
}

func prune(args models.TaskArgs, background bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	if background {
		return submitToDaemon(ctx, models.TaskPrune, args)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := retention.RunTask(ctx, retention.New(log.Logger, a.catalog), a.cfg.Retention, args)
	if result != nil {
		printPruneResult(result)
	}
	return err
}
