package main

import (
	"io"
	"os"
	"strings"

	"github.com/fgeck/gorsync-homelab/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "gorsync-homelab",
	Short: "An rsync snapshot backup tool for homelab environments",
	Long: `gorsync-homelab keeps hard-linked rsync snapshots of your files:
  - One generation per backup, unchanged files hard linked to the previous one
  - Include/exclude rules for folders, files and glob patterns
  - Grandfather-father-son retention
  - Restore of whole generations or single items
  - A daemon running backups, restores and prunes one at a time

Run commands directly, or start the daemon and submit work with --bg.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceErrors: true,
	SilenceUsage:  true,
	Version:       Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultPath(), "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(modifyCmd)
	rootCmd.AddCommand(includeCmd)
	rootCmd.AddCommand(excludeCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(followCmd)
	rootCmd.AddCommand(validateCmd)
}

// setupLogging points the global logger at stderr so command output on
// stdout stays machine readable.
func setupLogging() {
	log.Logger = zerolog.New(logWriter()).With().Timestamp().Logger()

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// logWriter returns the output format selected by --json.
func logWriter() io.Writer {
	if jsonOutput {
		return os.Stderr
	}
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	output.FormatLevel = func(i interface{}) string {
		if s, ok := i.(string); ok {
			return strings.ToUpper(s)
		}
		return ""
	}
	return output
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
