package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-hclog"

	"github.com/pixperk/roomkey/pkg/logging"
)

// writes every notification to the log
type LogSink struct {
	logger hclog.Logger
}

func NewLogSink(logger hclog.Logger) *LogSink {
	return &LogSink{logger: logging.OrNull(logger).Named("sink")}
}

func (s *LogSink) Deliver(_ context.Context, n Notification) error {
	s.logger.Info("message", "resource_id", n.ResourceID, "payload", string(n.Payload))
	return nil
}

// POSTs each notification as JSON to a fixed URL
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string, client *http.Client) *WebhookSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSink{url: url, client: client}
}

type webhookBody struct {
	ResourceID string `json:"resource_id"`
	Text       string `json:"text"`
}

func (s *WebhookSink) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(webhookBody{ResourceID: n.ResourceID, Text: string(n.Payload)})
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
