package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mkravets/fundarb/internal/domain"
)

// TelegramTransport implements domain.NotificationTransport via the Telegram
// Bot API. The user id doubles as the Telegram chat id.
type TelegramTransport struct {
	token  string
	client *http.Client
}

// NewTelegramTransport creates a TelegramTransport for the given bot token.
// It uses a default HTTP client with a 10-second timeout.
func NewTelegramTransport(token string) *TelegramTransport {
	return &TelegramTransport{
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a message to the user's chat using the sendMessage API. An HTTP
// 403 means the recipient blocked the bot and maps to ErrTransportBlocked so
// the dispatcher skips the retry.
func (t *TelegramTransport) Send(ctx context.Context, userID string, message string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)

	payload := map[string]string{
		"chat_id": userID,
		"text":    message,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("telegram: chat %s: %w", userID, domain.ErrTransportBlocked)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram: send message: status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

// Compile-time interface check.
var _ domain.NotificationTransport = (*TelegramTransport)(nil)
