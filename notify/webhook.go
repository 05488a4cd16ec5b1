package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSMS posts {"to","body"} as JSON to an SMS gateway endpoint.
type WebhookSMS struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

// NewWebhookSMS returns a sender with a 10s client timeout.
func NewWebhookSMS(endpoint, token string) *WebhookSMS {
	return &WebhookSMS{
		Endpoint: endpoint,
		Token:    token,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookSMS) SendSMS(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(struct {
		To   string `json:"to"`
		Body string `json:"body"`
	}{to, body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: sms gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("notify: sms gateway returned %d", resp.StatusCode)
	}
	return nil
}
