// Package notify delivers outbound client messages. Real email and SMS
// providers sit behind the webhook sender.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/studiodesk/studiodesk/internal/httputil"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

// Channel names a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is one outbound notification.
type Message struct {
	Channel  Channel           `json:"channel"`
	To       string            `json:"to"`
	Subject  string            `json:"subject,omitempty"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	log *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.WithFields(map[string]interface{}{
		"channel": msg.Channel,
		"to":      mask(msg.To),
		"subject": msg.Subject,
	}).Info("notification (log only)")
	return nil
}

// WebhookSender posts messages as JSON to a delivery gateway.
type WebhookSender struct {
	client *httputil.Client
	url    string
}

// NewWebhookSender creates a sender posting to url with an optional bearer key.
func NewWebhookSender(url, key string) *WebhookSender {
	return &WebhookSender{
		client: httputil.NewClient(httputil.ClientConfig{Bearer: key}),
		url:    url,
	}
}

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	resp, err := s.client.Post(ctx, s.url, msg)
	if err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	if err := httputil.DecodeResponse(resp, nil); err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	return nil
}

// mask keeps only the last three characters of an address for logs.
func mask(addr string) string {
	addr = strings.TrimSpace(addr)
	if len(addr) <= 3 {
		return "***"
	}
	return strings.Repeat("*", len(addr)-3) + addr[len(addr)-3:]
}
