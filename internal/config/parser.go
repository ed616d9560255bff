// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/spf13/viper"
)

// Defaults applied when the config file leaves a key out.
const (
	DefaultWeekdayFull = 6 // Sunday
	DefaultDays        = 7
	DefaultWeeks       = 4
	DefaultMonths      = 12
	DefaultYears       = 3
	DefaultOutFormat   = "%t %i %n"
	DefaultKeepTasks   = 100
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("retention.weekday_full", DefaultWeekdayFull)
	v.SetDefault("retention.days", DefaultDays)
	v.SetDefault("retention.weeks", DefaultWeeks)
	v.SetDefault("retention.months", DefaultMonths)
	v.SetDefault("retention.years", DefaultYears)
	v.SetDefault("rsync.rsync_bin", "rsync")
	v.SetDefault("rsync.ssh_bin", "ssh")
	v.SetDefault("rsync.acls", true)
	v.SetDefault("rsync.xattrs", true)
	v.SetDefault("rsync.prune_empty_dirs", true)
	v.SetDefault("rsync.out_format", DefaultOutFormat)
	v.SetDefault("daemon.keep_finished", DefaultKeepTasks)

	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.BackupConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, models.ConfigError("reading config file: %v", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.BackupConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, models.ConfigError("reading config: %v", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.BackupConfig, error) {
	cfg := &models.BackupConfig{}

	// Parse target (required).
	cfg.Target = models.TargetConfig{
		Path:          expandPath(p.v.GetString("target.path")),
		Host:          p.expandEnv(p.v.GetString("target.host")),
		SSHConfigFile: expandPath(p.v.GetString("target.ssh_config_file")),
	}
	if cfg.Target.Path == "" {
		return nil, models.ConfigError("target.path is required")
	}
	if !strings.HasPrefix(cfg.Target.Path, "/") {
		return nil, models.ConfigError("target.path must be absolute, got %q", cfg.Target.Path)
	}
	if cfg.Target.IsRemote() && cfg.Target.SSHConfigFile == "" {
		cfg.Target.SSHConfigFile = expandPath("~/.ssh/config")
	}

	// Parse include and exclude rules.
	cfg.Rules = models.RuleSet{
		Includes: p.rules("includes"),
		Excludes: p.rules("excludes"),
	}

	// Parse retention policy.
	keepWithin, err := ParseDuration(p.v.GetString("retention.keep_within"))
	if err != nil {
		return nil, models.ConfigError("retention.keep_within: %v", err)
	}
	cfg.Retention = models.RetentionPolicy{
		WeekdayFull: p.v.GetInt("retention.weekday_full"),
		Days:        p.v.GetInt("retention.days"),
		Weeks:       p.v.GetInt("retention.weeks"),
		Months:      p.v.GetInt("retention.months"),
		Years:       p.v.GetInt("retention.years"),
		KeepLast:    p.v.GetInt("retention.keep_last"),
		KeepWithin:  keepWithin,
	}

	// Parse rsync settings.
	cfg.Rsync = models.RsyncSettings{
		Binary:         p.v.GetString("rsync.rsync_bin"),
		SSHBinary:      p.v.GetString("rsync.ssh_bin"),
		ACLs:           p.v.GetBool("rsync.acls"),
		XAttrs:         p.v.GetBool("rsync.xattrs"),
		PruneEmptyDirs: p.v.GetBool("rsync.prune_empty_dirs"),
		OutFormat:      p.v.GetString("rsync.out_format"),
	}
	if cfg.Rsync.OutFormat != DefaultOutFormat {
		return nil, models.ConfigError("rsync.out_format must be %q, other formats cannot be parsed", DefaultOutFormat)
	}

	// Parse daemon settings.
	cfg.Daemon = models.DaemonSettings{
		Socket:           expandPath(p.v.GetString("daemon.socket")),
		Schedule:         p.v.GetString("daemon.schedule"),
		PruneAfterBackup: p.v.GetBool("daemon.prune_after_backup"),
		KeepFinished:     p.v.GetInt("daemon.keep_finished"),
	}
	if cfg.Daemon.Socket == "" {
		cfg.Daemon.Socket = DefaultSocket()
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			PollAddress:   p.v.GetString("wol.poll_address"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, models.ConfigError("wol.mac_address is required when wol is configured")
		}

		// Set defaults.
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, models.ConfigError("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, models.ConfigError("telegram.chat_id is required when telegram is configured")
		}
	}

	return cfg, nil
}

// rules reads the folders, files and patterns lists of a rule section.
func (p *Parser) rules(section string) []models.Rule {
	var rules []models.Rule
	for _, kind := range []models.RuleKind{models.RuleDirectoryPrefix, models.RuleLiteral, models.RuleGlob} {
		for _, value := range p.v.GetStringSlice(section + "." + kind.String()) {
			rules = append(rules, models.Rule{Kind: kind, Value: expandPath(value)})
		}
	}
	return rules
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandPath expands environment variables and a leading "~/".
func expandPath(s string) string {
	s = os.ExpandEnv(s)
	if !strings.HasPrefix(s, "~/") {
		return s
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return s
	}
	return filepath.Join(home, s[2:])
}

// DefaultSocket returns the daemon socket used when none is configured.
func DefaultSocket() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "gorsync-homelab.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("gorsync-homelab-%d.sock", os.Getuid()))
}

// DefaultPath returns the config file used when none is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "gorsync-homelab", "config.yaml")
}
