// Package notify is a minimal, send-only outbound notifier used to deliver
// Self-Observation and Activity digests to an operator (SPEC_FULL.md
// ambient stack: digest delivery is named in spec §4.4/§4.11 but the
// transport itself is left to the implementation).
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/worldline-go/klient"

	"github.com/rakunlabs/ocs/internal/config"
)

// Notifier sends short text messages to an operator-facing channel.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Telegram sends messages via the Bot API sendMessage endpoint.
type Telegram struct {
	client *klient.Client
	chatID int64
}

func NewTelegram(cfg *config.NotifyTelegram) (*Telegram, error) {
	if cfg == nil || cfg.BotToken == "" {
		return nil, fmt.Errorf("notify: telegram bot token not configured")
	}

	client, err := klient.New(
		klient.WithBaseURL(fmt.Sprintf("https://api.telegram.org/bot%s", cfg.BotToken)),
		klient.WithDisableRetry(true),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("build telegram client: %w", err)
	}

	return &Telegram{client: client, chatID: cfg.ChatID}, nil
}

// Send posts text to the configured chat via sendMessage.
func (t *Telegram) Send(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("chat_id", fmt.Sprintf("%d", t.chatID))
	form.Set("text", text)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "/sendMessage?"+form.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}

	return t.client.Do(httpReq, func(resp *http.Response) error {
		if resp.StatusCode >= 300 {
			return fmt.Errorf("notify: telegram sendMessage returned status %d", resp.StatusCode)
		}

		return nil
	})
}
