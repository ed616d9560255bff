package main

import (
	"fmt"

	"github.com/fgeck/gorsync-homelab/internal/config"
	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	includeRemove bool
	excludeRemove bool
)

var includeCmd = &cobra.Command{
	Use:   "include [path|pattern...]",
	Short: "Add or remove include rules",
	Long: `Add include rules to the config file. Existing directories become folder
rules, other paths file rules and values containing *, ? or [ glob patterns.
Without arguments the current include rules are listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return editRules(args, includeRemove, func(r *models.RuleSet) *[]models.Rule { return &r.Includes })
	},
}

var excludeCmd = &cobra.Command{
	Use:   "exclude [path|pattern...]",
	Short: "Add or remove exclude rules",
	Long: `Add exclude rules to the config file. Excludes always win over includes.
Without arguments the current exclude rules are listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return editRules(args, excludeRemove, func(r *models.RuleSet) *[]models.Rule { return &r.Excludes })
	},
}

func init() {
	includeCmd.Flags().BoolVarP(&includeRemove, "remove", "r", false, "remove the given rules instead of adding them")
	excludeCmd.Flags().BoolVarP(&excludeRemove, "remove", "r", false, "remove the given rules instead of adding them")
}

func editRules(values []string, remove bool, section func(*models.RuleSet) *[]models.Rule) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rules := section(&cfg.Rules)

	if len(values) == 0 {
		for _, r := range *rules {
			fmt.Printf("%-8s %s\n", r.Kind, r.Value)
		}
		return nil
	}

	var changed []models.Rule
	if remove {
		*rules, changed = config.RemoveRules(*rules, values...)
	} else {
		*rules, changed = config.AddRules(*rules, values...)
	}
	if len(changed) == 0 {
		log.Info().Strs("values", values).Msg("rules unchanged")
		return nil
	}

	if err := config.SaveRules(configFile, cfg.Rules); err != nil {
		return err
	}
	verb := "added"
	if remove {
		verb = "removed"
	}
	for _, r := range changed {
		log.Info().Str("kind", r.Kind.String()).Str("value", r.Value).Msg("rule " + verb)
	}
	return nil
}
