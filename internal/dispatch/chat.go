package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/parkflow/internal/carpark"
)

// ChatNotifier posts event summaries to a Telegram-style bot API
// (POST {BaseURL}/bot{Token}/sendMessage).
type ChatNotifier struct {
	BaseURL string
	Token   string
	ChatID  string
	Client  *http.Client
	limiter *rate.Limiter
}

// NewChatNotifier creates a notifier sending at most perSecond messages per
// second. perSecond <= 0 disables rate limiting.
func NewChatNotifier(baseURL, token, chatID string, perSecond float64, timeout time.Duration) *ChatNotifier {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &ChatNotifier{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		ChatID:  chatID,
		Client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Name implements Deliverer.
func (c *ChatNotifier) Name() string {
	return "chat"
}

// Deliver implements Deliverer.
func (c *ChatNotifier) Deliver(ctx context.Context, ev carpark.Event) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: c.ChatID, Text: carpark.Summary(ev)})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.BaseURL, c.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	var out sendMessageResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s: %s", resp.Status, out.Description)
	}
	if !out.OK {
		return fmt.Errorf("chat api rejected message: %s", out.Description)
	}
	return nil
}
