// Package mail delivers outbound email through a pluggable sender.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Message is a plain-text email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"text"`
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the logger instead of delivering them.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	s.logger.Info("mail.outbound",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// WebhookSender posts messages as JSON to an HTTP mail relay.
type WebhookSender struct {
	client *resty.Client
	url    string
	from   string
}

// NewWebhookSender builds a relay sender. from is forwarded as the envelope sender.
func NewWebhookSender(url, from string, timeout time.Duration) (*WebhookSender, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("mail: webhook url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetHeader("Content-Type", "application/json")
	return &WebhookSender{client: client, url: url, from: from}, nil
}

type webhookPayload struct {
	From string `json:"from,omitempty"`
	Message
}

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{From: s.from, Message: msg}).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("mail: relay request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mail: relay responded %d", resp.StatusCode())
	}
	return nil
}

func validate(msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("mail: recipient is required")
	}
	return nil
}
