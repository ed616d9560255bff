package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const telegramBaseURL = "https://api.telegram.org"

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Telegram sends notifications through the Telegram Bot API.
type Telegram struct {
	cfg        models.TelegramConfig
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// NewTelegram creates a new Telegram notifier.
func NewTelegram(logger zerolog.Logger, cfg models.TelegramConfig) *Telegram {
	return NewTelegramWithClient(logger, cfg, &http.Client{Timeout: 30 * time.Second}, telegramBaseURL)
}

// NewTelegramWithClient creates a new Telegram notifier with a custom HTTP client (for testing).
func NewTelegramWithClient(logger zerolog.Logger, cfg models.TelegramConfig, httpClient HTTPClient, baseURL string) *Telegram {
	return &Telegram{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "notify").Logger(),
		baseURL:    baseURL,
	}
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Notify sends msg to the configured chat.
func (s *Telegram) Notify(ctx context.Context, msg models.Notification) (*models.NotifyResult, error) {
	result := &models.NotifyResult{}

	s.logger.Info().
		Str("chat_id", s.cfg.ChatID).
		Str("kind", string(msg.Kind)).
		Bool("success", msg.Success).
		Msg("sending Telegram notification")

	reqBody := sendMessageRequest{
		ChatID:    s.cfg.ChatID,
		Text:      formatMessage(msg),
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

func formatMessage(msg models.Notification) string {
	var b strings.Builder

	title := "Backup"
	if msg.Kind == models.TaskRestore {
		title = "Restore"
	}
	if msg.Success {
		fmt.Fprintf(&b, "✅ <b>%s Successful</b>\n\n", title)
	} else {
		fmt.Fprintf(&b, "❌ <b>%s Failed</b>\n\n", title)
	}

	fmt.Fprintf(&b, "🖥 <b>Host:</b> %s\n", escapeHTML(msg.Host))
	fmt.Fprintf(&b, "📁 <b>Target:</b> %s\n", escapeHTML(msg.Target))
	fmt.Fprintf(&b, "⏰ <b>Started:</b> %s\n", msg.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "⏱ <b>Duration:</b> %s\n", msg.Duration.Round(time.Second))

	if msg.Generation != "" {
		fmt.Fprintf(&b, "🗂 <b>Generation:</b> <code>%s</code>\n", escapeHTML(msg.Generation))
	}

	if msg.Success {
		c := msg.Counters
		b.WriteString("\n<b>📊 Transfer Statistics:</b>\n")
		fmt.Fprintf(&b, "  • Files created: %d\n", c.FilesCreated)
		fmt.Fprintf(&b, "  • Files updated: %d\n", c.FilesUpdated)
		fmt.Fprintf(&b, "  • Files deleted: %d\n", c.FilesDeleted)
		fmt.Fprintf(&b, "  • Files unchanged: %d\n", c.FilesUnchanged)
		fmt.Fprintf(&b, "  • Transferred: %s\n", humanize.Bytes(uint64(max(c.BytesTransferred, 0))))
		fmt.Fprintf(&b, "  • Total size: %s\n", humanize.Bytes(uint64(max(c.BytesTotal, 0))))
	} else {
		b.WriteString("\n<b>⚠️ Error Details:</b>\n")
		if msg.FailedStep != "" {
			fmt.Fprintf(&b, "  • Failed step: %s\n", escapeHTML(msg.FailedStep))
		}
		if msg.ErrorKind != "" {
			fmt.Fprintf(&b, "  • Kind: %s\n", escapeHTML(string(msg.ErrorKind)))
		}
		fmt.Fprintf(&b, "  • Error: <code>%s</code>\n", escapeHTML(msg.ErrorMessage))
	}

	return b.String()
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
