package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WebhookDispatcher POSTs toasts as JSON to a fan-out endpoint that owns
// delivery to space members.
//
// Headers: X-Toastd-Event-ID (unique per attempt), X-Toastd-Signature
// (hex HMAC-SHA256 of the body keyed by the shared token, when set).
type WebhookDispatcher struct {
	url    string
	secret string
	client *http.Client
}

type webhookPayload struct {
	Event string `json:"event"`
	Toast
	SentAt time.Time `json:"sent_at"`
}

func NewWebhookDispatcher(url, secret string, client *http.Client) (*WebhookDispatcher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("webhook url is empty")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookDispatcher{url: url, secret: secret, client: client}, nil
}

func (d *WebhookDispatcher) Name() string { return "webhook" }

func (d *WebhookDispatcher) Dispatch(ctx context.Context, t Toast) error {
	body, err := json.Marshal(webhookPayload{Event: "toast", Toast: t, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Toastd-Event-ID", uuid.NewString())
	if d.secret != "" {
		req.Header.Set("X-Toastd-Signature", computeSignature(d.secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming webhooks.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
