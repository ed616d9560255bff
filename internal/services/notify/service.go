// Package notify reports finished backups and restores.
package notify

import (
	"context"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/rs/zerolog"
)

// Notifier delivers a completion message.
type Notifier interface {
	Notify(ctx context.Context, msg models.Notification) (*models.NotifyResult, error)
}

// New returns the Telegram backend when cfg is set and a no-op otherwise.
func New(logger zerolog.Logger, cfg *models.TelegramConfig) Notifier {
	if cfg == nil {
		return Noop{}
	}
	return NewTelegram(logger, *cfg)
}

// Noop drops every message.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, models.Notification) (*models.NotifyResult, error) {
	return &models.NotifyResult{}, nil
}
