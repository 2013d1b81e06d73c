package provider

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"

	"gopkg.in/gomail.v2"
)

// SMTPConfig configures the SMTP email provider.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPProvider sends email through a plain SMTP relay. A completed DATA
// transaction is treated as delivery.
type SMTPProvider struct {
	from string
	send func(m *gomail.Message) error
}

func NewSMTPProvider(cfg SMTPConfig) (*SMTPProvider, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp port must be positive")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp sender is required")
	}

	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	return &SMTPProvider{
		from: cfg.From,
		send: func(m *gomail.Message) error { return dialer.DialAndSend(m) },
	}, nil
}

func (p *SMTPProvider) Send(ctx context.Context, msg Message) (*ProviderResponse, error) {
	if p == nil || p.send == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if strings.TrimSpace(msg.To) == "" {
		return nil, &ProviderError{Message: "recipient is required"}
	}

	m := p.buildMessage(msg)

	// gomail has no context support, so the dial runs aside and the caller
	// stops waiting on cancellation.
	done := make(chan error, 1)
	go func() { done <- p.send(m) }()

	select {
	case <-ctx.Done():
		return nil, requestFailed("smtp send interrupted", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, classifySMTPError(err)
		}
	}

	return &ProviderResponse{Delivered: true}, nil
}

func (p *SMTPProvider) buildMessage(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", p.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.NotificationID != "" {
		m.SetHeader("X-Notification-ID", msg.NotificationID)
	}
	m.SetBody("text/plain", msg.Body)
	return m
}

// classifySMTPError treats 5xx replies as permanent and anything else,
// including connection failures, as transient.
func classifySMTPError(err error) *ProviderError {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return &ProviderError{
			StatusCode: protoErr.Code,
			Message:    "smtp rejected message",
			Transient:  protoErr.Code < 500,
			Cause:      err,
		}
	}

	return &ProviderError{
		Message:   "smtp send failed",
		Transient: true,
		Cause:     err,
	}
}
