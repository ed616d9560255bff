// Package models contains the data structures used throughout gorsync-homelab.
package models

import "time"

// BackupConfig holds the complete configuration of a backup target.
type BackupConfig struct {
	Target    TargetConfig
	Rules     RuleSet
	Retention RetentionPolicy
	Rsync     RsyncSettings
	Daemon    DaemonSettings
	WOL       *WOLConfig      // nil if not configured
	Telegram  *TelegramConfig // nil if not configured
}

// TargetConfig locates the backup target. Host is empty for local targets.
type TargetConfig struct {
	Path          string `validate:"required"`
	Host          string
	SSHConfigFile string
}

// IsRemote reports whether the target lives on another host.
func (t TargetConfig) IsRemote() bool {
	return t.Host != ""
}

// Address renders the target as an rsync destination, host:path for remote targets.
func (t TargetConfig) Address(path string) string {
	if t.Host == "" {
		return path
	}
	return t.Host + ":" + path
}

// RsyncSettings holds transfer tool settings.
type RsyncSettings struct {
	Binary         string `validate:"required"`
	SSHBinary      string `validate:"required"`
	ACLs           bool
	XAttrs         bool
	PruneEmptyDirs bool
	OutFormat      string `validate:"required"`
}

// DaemonSettings holds background daemon settings.
type DaemonSettings struct {
	Socket           string `validate:"required"`
	Schedule         string // cron expression, empty disables scheduled backups
	PruneAfterBackup bool
	KeepFinished     int `validate:"min=0"` // finished tasks retained for query, 0 keeps all
}

// WOLConfig holds Wake-on-LAN configuration.
type WOLConfig struct {
	MACAddress    string        `validate:"required,mac"`
	BroadcastIP   string        `validate:"required,ip"`
	PollAddress   string        // host:port polled until the target accepts connections
	Timeout       time.Duration // max time to wait for target
	PollInterval  time.Duration // how often to poll
	StabilizeWait time.Duration // wait after target responds
}

// WOLResult holds the result of a Wake-on-LAN operation.
type WOLResult struct {
	PacketSent   bool
	TargetReady  bool
	WaitDuration time.Duration
	Error        error
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string `validate:"required"`
	ChatID   string `validate:"required"`
}
