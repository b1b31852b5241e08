// Package telegram sends backup and restore notifications via the Telegram bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/goduplicity-exporter/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendNotification sends a backup or restore notification.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Str("kind", string(msg.Kind)).
		Bool("success", msg.Success).
		Msg("sending Telegram notification")

	reqBody := sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      formatMessage(msg),
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)

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

func formatMessage(msg models.TelegramMessage) string {
	var b bytes.Buffer

	title := "Backup"
	if msg.Kind == models.NotifyRestore {
		title = "Restore"
	}
	if msg.Success {
		fmt.Fprintf(&b, "✅ <b>%s Successful</b>\n\n", title)
	} else {
		fmt.Fprintf(&b, "❌ <b>%s Failed</b>\n\n", title)
	}

	fmt.Fprintf(&b, "🏷 <b>Name:</b> %s\n", escapeHTML(msg.BackupName))
	fmt.Fprintf(&b, "📁 <b>Target:</b> %s\n", escapeHTML(msg.Target))
	fmt.Fprintf(&b, "⏰ <b>Started:</b> %s\n", msg.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "⏱ <b>Duration:</b> %s\n", msg.Duration.Round(time.Second))

	if !msg.Success {
		b.WriteString("\n<b>⚠️ Error Details:</b>\n")
		fmt.Fprintf(&b, "  • Failed step: %s\n", escapeHTML(msg.FailedStep))
		fmt.Fprintf(&b, "  • Error: <code>%s</code>\n", escapeHTML(msg.ErrorMessage))
		return b.String()
	}

	if msg.Kind == models.NotifyRestore {
		return b.String()
	}

	m := msg.Metrics
	b.WriteString("\n<b>📊 Backup Statistics:</b>\n")
	fmt.Fprintf(&b, "  • Files new: %d\n", m.Files.New)
	fmt.Fprintf(&b, "  • Files changed: %d\n", m.Files.Changed)
	fmt.Fprintf(&b, "  • Files deleted: %d\n", m.Files.Deleted)
	fmt.Fprintf(&b, "  • Raw delta: %s\n", humanize.IBytes(nonNegative(m.Size.RawDelta)))
	fmt.Fprintf(&b, "  • Source size: %s\n", humanize.IBytes(nonNegative(m.Size.SourceFile)))
	fmt.Fprintf(&b, "  • Errors: %d\n", m.ErrorCount)

	b.WriteString("\n<b>🔍 Restore Probe:</b>\n")
	fmt.Fprintf(&b, "  • Written: %s\n", checkMark(m.PreBackupCheck.Succeeded))
	fmt.Fprintf(&b, "  • Restored: %s\n", checkMark(m.PostBackupCheck.Succeeded))

	b.WriteString("\n<b>🗂 Collection:</b>\n")
	fmt.Fprintf(&b, "  • Full backups: %d\n", msg.Collection.FullBackupCount)
	fmt.Fprintf(&b, "  • Incremental backups: %d\n", msg.Collection.IncrementalBackupCount)

	return b.String()
}

func checkMark(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func nonNegative(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
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
