package main

import (
	"context"
	"fmt"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/fgeck/gorsync-homelab/internal/services/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateConnect bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without executing any backup operations.`,
	Args:  cobra.NoArgs,
	RunE:  validateConfig,
}

func init() {
	validateCmd.Flags().BoolVar(&validateConnect, "connect", false, "also test the SSH connection to a remote target")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Target: %s\n", cfg.Target.Address(cfg.Target.Path))
	if cfg.Target.IsRemote() {
		fmt.Printf("  SSH config: %s\n", cfg.Target.SSHConfigFile)
	}
	printRules("Includes", cfg.Rules.Includes)
	printRules("Excludes", cfg.Rules.Excludes)
	fmt.Println()
	fmt.Println("Retention Policy:")
	fmt.Printf("  Full backup weekday: %s\n", cfg.Retention.GoWeekday())
	fmt.Printf("  Keep daily: %d\n", cfg.Retention.Days)
	fmt.Printf("  Keep weekly: %d\n", cfg.Retention.Weeks)
	fmt.Printf("  Keep monthly: %d\n", cfg.Retention.Months)
	fmt.Printf("  Keep yearly: %d\n", cfg.Retention.Years)
	if cfg.Retention.KeepLast > 0 {
		fmt.Printf("  Keep last: %d\n", cfg.Retention.KeepLast)
	}
	if cfg.Retention.KeepWithin > 0 {
		fmt.Printf("  Keep within: %s\n", cfg.Retention.KeepWithin)
	}
	fmt.Println()
	fmt.Println("Daemon:")
	fmt.Printf("  Socket: %s\n", cfg.Daemon.Socket)
	if cfg.Daemon.Schedule != "" {
		fmt.Printf("  Schedule: %s (prune after backup: %v)\n", cfg.Daemon.Schedule, cfg.Daemon.PruneAfterBackup)
	}
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		if cfg.WOL.PollAddress != "" {
			fmt.Printf("  Poll Address: %s\n", cfg.WOL.PollAddress)
		}
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	if validateConnect && cfg.Target.IsRemote() {
		return checkConnection(cmd.Context(), cfg.Target)
	}

	return nil
}

// checkConnection runs a trivial command on the target host.
func checkConnection(ctx context.Context, target models.TargetConfig) error {
	host, err := storage.ResolveHost(target.Host, target.SSHConfigFile)
	if err != nil {
		return err
	}
	fsys := storage.NewSSH(log.Logger, host)
	defer func() { _ = fsys.Close() }()

	fmt.Println()
	fmt.Printf("Connecting to %s@%s:%d ... ", host.Username, host.HostName, host.Port)
	result, err := fsys.TestConnection(ctx)
	if err != nil {
		return err
	}
	if result.Error != nil {
		fmt.Println("failed")
		return models.TransferError("connecting to "+target.Host, result.Error)
	}
	fmt.Println("ok")
	return nil
}

func printRules(title string, rules []models.Rule) {
	fmt.Printf("  %s: %d\n", title, len(rules))
	for _, r := range rules {
		fmt.Printf("    %-8s %s\n", r.Kind, r.Value)
	}
}
