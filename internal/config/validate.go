package config

import (
	"errors"
	"strings"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/fgeck/gorsync-homelab/internal/services/retention"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var validate = validator.New()

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.BackupConfig) error {
	if cfg == nil {
		return models.ConfigError("configuration is nil")
	}

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return models.ConfigError("%s: failed %q check (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return models.ConfigError("%v", err)
	}

	if err := retention.Validate(cfg.Retention); err != nil {
		return err
	}

	if cfg.Daemon.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Daemon.Schedule); err != nil {
			return models.ConfigError("daemon.schedule %q: %v", cfg.Daemon.Schedule, err)
		}
	}

	for _, section := range []struct {
		name  string
		rules []models.Rule
	}{
		{"includes", cfg.Rules.Includes},
		{"excludes", cfg.Rules.Excludes},
	} {
		for _, r := range section.rules {
			if strings.TrimSpace(r.Value) == "" {
				return models.ConfigError("%s.%s contains an empty entry", section.name, r.Kind)
			}
		}
	}

	return nil
}
