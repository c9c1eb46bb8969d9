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

// Drift is one allocation bucket outside its target band.
type Drift struct {
	Bucket     string
	Percentage decimal.Decimal
	Target     decimal.Decimal
	Deviation  decimal.Decimal
	Status     string
}

// Notification carries a committed snapshot whose allocation drifted.
type Notification struct {
	SnapshotID      string
	Timestamp       time.Time
	NativeCode      string
	TotalNative     decimal.Decimal
	TotalUSD        decimal.Decimal
	ChangeNativePct decimal.Decimal
	ChangeUSDPct    decimal.Decimal
	Drift           []Drift
	AdditionalMsg   string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
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

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
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

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram rejected message: %s", result.Description)
	}

	n.logger.Info().Str("snapshot", note.SnapshotID).
		Int("drifted", len(note.Drift)).
		Msg("allocation drift sent (Telegram)")
	return nil
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	code := note.NativeCode
	if code == "" {
		code = "TRY"
	}
	builder := strings.Builder{}
	builder.WriteString("[Portfolio Day Close]\n")
	builder.WriteString(fmt.Sprintf("Time: %s\n", note.Timestamp.Format("2006-01-02 15:04 MST")))
	builder.WriteString(fmt.Sprintf("Total: %s %s (%s%%)\n", note.TotalNative.StringFixed(2), code, signed(note.ChangeNativePct)))
	builder.WriteString(fmt.Sprintf("Total: %s USD (%s%%)\n", note.TotalUSD.StringFixed(2), signed(note.ChangeUSDPct)))
	if len(note.Drift) > 0 {
		builder.WriteString("Allocation drift:\n")
		for _, d := range note.Drift {
			builder.WriteString(fmt.Sprintf("- %s: %s%% vs target %s%% (%s, %spp)\n",
				d.Bucket, d.Percentage.StringFixed(1), d.Target.StringFixed(0), d.Status, signed(d.Deviation)))
		}
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

func signed(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if d.Sign() >= 0 {
		return "+" + s
	}
	return s
}

var _ Notifier = (*TelegramNotifier)(nil)
