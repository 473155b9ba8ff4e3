package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Alert is one qualifying OI growth acceleration for a token.
type Alert struct {
	Symbol     string
	Name       string
	Current    float64
	Previous   float64
	Delta      float64
	Threshold  float64
	ObservedAt time.Time
}

// Notifier delivers alerts to an outbound channel.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify renders the alert and sends it.
func (n *TelegramNotifier) Notify(ctx context.Context, alert Alert) error {
	if err := n.Send(ctx, RenderMessage(alert)); err != nil {
		return err
	}
	n.logger.Info().Str("symbol", alert.Symbol).
		Float64("delta", alert.Delta).
		Msg("alert sent (telegram)")
	return nil
}

// Send calls the sendMessage API with a plain text body.
func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	payload := map[string]any{
		"chat_id":                  n.chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && result.Description != "" {
			return fmt.Errorf("telegram status %d: %s", resp.StatusCode, result.Description)
		}
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}
	if decodeErr == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}
	return nil
}

// LogNotifier writes alerts to the log instead of delivering them.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a dry-run notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the rendered message.
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.logger.Info().Str("symbol", alert.Symbol).Str("message", RenderMessage(alert)).Msg("alert (dry run)")
	return nil
}

// RenderMessage formats an alert as chat text. Values are percentages
// rendered with two decimals.
func RenderMessage(alert Alert) string {
	builder := strings.Builder{}
	builder.WriteString("🚀 OI growth alert 🚀\n\n")
	if alert.Name != "" && alert.Name != alert.Symbol {
		builder.WriteString(fmt.Sprintf("Token: %s (%s)\n", alert.Symbol, alert.Name))
	} else {
		builder.WriteString(fmt.Sprintf("Token: %s\n", alert.Symbol))
	}
	builder.WriteString(fmt.Sprintf("OI growth (4h): %s%%\n", fixed(alert.Current)))
	builder.WriteString(fmt.Sprintf("Previous value: %s%%\n", fixed(alert.Previous)))
	builder.WriteString(fmt.Sprintf("Change: %s pp (threshold %s)\n", signed(alert.Delta), fixed(alert.Threshold)))
	if !alert.ObservedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Observed: %s UTC\n", alert.ObservedAt.UTC().Format(time.RFC3339)))
	}
	return builder.String()
}

func fixed(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func signed(v float64) string {
	if v > 0 {
		return "+" + fixed(v)
	}
	return fixed(v)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
