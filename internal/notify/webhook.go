// Package notify delivers transition messages to a group-robot webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// maxErrorBody bounds how much of a failed response is kept in a
// DeliveryError.
const maxErrorBody = 512

// Notifier delivers a single message. Implementations make at most one
// attempt and must return within a bounded time.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Payload is the JSON body accepted by the webhook endpoint.
type Payload struct {
	MsgType string   `json:"msgtype"`
	Text    TextBody `json:"text"`
}

type TextBody struct {
	Content string `json:"content"`
}

// NewTextPayload wraps message in a "text" payload.
func NewTextPayload(message string) Payload {
	return Payload{MsgType: "text", Text: TextBody{Content: message}}
}

// DeliveryError reports a notification the endpoint did not acknowledge.
// StatusCode is 0 when no response was received.
type DeliveryError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("webhook delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("webhook returned %d: %s", e.StatusCode, e.Body)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// apiStatus is the application-level status some robot endpoints return
// alongside HTTP 200.
type apiStatus struct {
	ErrCode *int   `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Webhook posts messages to a robot endpoint.
type Webhook struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewWebhook creates a Webhook whose requests are bounded by timeout.
func NewWebhook(url string, timeout time.Duration, logger zerolog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    logger,
	}
}

// Notify sends message once. Any non-2xx response, and any transport
// failure, is returned as a *DeliveryError.
func (w *Webhook) Notify(ctx context.Context, message string) error {
	body, err := json.Marshal(NewTextPayload(message))
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	var status apiStatus
	if json.Unmarshal(data, &status) == nil && status.ErrCode != nil && *status.ErrCode != 0 {
		w.log.Warn().
			Int("errcode", *status.ErrCode).
			Str("errmsg", status.ErrMsg).
			Msg("Webhook acknowledged with a non-zero errcode")
	}
	return nil
}

// LogNotifier writes messages to the log instead of sending them.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, message string) error {
	n.Log.Info().Str("message", message).Msg("Notification (dry run)")
	return nil
}
