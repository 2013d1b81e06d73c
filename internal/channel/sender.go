// Package channel adapts rendered notifications to per-channel providers.
package channel

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"github.com/kursadbilgin/dispatch-core/internal/provider"
	"github.com/kursadbilgin/dispatch-core/internal/template"
)

const defaultSendTimeout = 10 * time.Second

// Result is the outcome of a successful Send.
type Result struct {
	Delivered         bool
	ProviderReference string
	StatusCode        int
}

// Sender delivers notifications on one channel.
type Sender interface {
	Channel() domain.Channel
	Validate(n *domain.Notification, user *domain.User) error
	Send(ctx context.Context, n *domain.Notification, user *domain.User) (*Result, error)
}

// ProviderSender is the Sender shared by every channel. Channels differ only
// in address rules, content limit and the provider behind them.
type ProviderSender struct {
	channel     domain.Channel
	provider    provider.Provider
	maxContent  int
	addressRule string
	timeout     time.Duration
	validate    *validator.Validate
}

// Option configures a ProviderSender.
type Option func(*ProviderSender)

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(s *ProviderSender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func newProviderSender(channel domain.Channel, p provider.Provider, maxContent int, addressRule string, opts ...Option) (*ProviderSender, error) {
	if p == nil {
		return nil, fmt.Errorf("%s provider is required", channel)
	}

	s := &ProviderSender{
		channel:     channel,
		provider:    p,
		maxContent:  maxContent,
		addressRule: addressRule,
		timeout:     defaultSendTimeout,
		validate:    validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func NewEmailSender(p provider.Provider, opts ...Option) (*ProviderSender, error) {
	return newProviderSender(domain.ChannelEmail, p, domain.MaxEmailContent, "required,email", opts...)
}

func NewSMSSender(p provider.Provider, opts ...Option) (*ProviderSender, error) {
	return newProviderSender(domain.ChannelSMS, p, domain.MaxSMSContent, "required,e164", opts...)
}

func NewPushSender(p provider.Provider, opts ...Option) (*ProviderSender, error) {
	return newProviderSender(domain.ChannelPush, p, domain.MaxPushContent, "required,max=4096", opts...)
}

func NewInAppSender(p provider.Provider, opts ...Option) (*ProviderSender, error) {
	return newProviderSender(domain.ChannelInApp, p, domain.MaxInAppContent, "required", opts...)
}

func (s *ProviderSender) Channel() domain.Channel { return s.channel }

// Validate checks that the user is reachable on this channel and the content
// fits the channel limit.
func (s *ProviderSender) Validate(n *domain.Notification, user *domain.User) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}
	if n.Channel != s.channel {
		return fmt.Errorf("%w: %s sender cannot send %s", domain.ErrUnsupportedChannel, s.channel, n.Channel)
	}
	if user == nil {
		return fmt.Errorf("%w: user is required", domain.ErrValidation)
	}

	address := user.Address(s.channel)
	if err := s.validate.Var(address, s.addressRule); err != nil {
		return fmt.Errorf("%w: user %s has no valid %s address", domain.ErrValidation, user.ID, s.channel)
	}

	content := template.Compose(s.channel, n.Title, n.Body)
	if utf8.RuneCountInString(content) > s.maxContent {
		return fmt.Errorf("%w: %s content exceeds %d characters", domain.ErrValidation, s.channel, s.maxContent)
	}
	return nil
}

// Send validates and hands the message to the provider. Validation failures
// wrap domain.ErrValidation and are never retried.
func (s *ProviderSender) Send(ctx context.Context, n *domain.Notification, user *domain.User) (*Result, error) {
	if err := s.Validate(n, user); err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg := provider.Message{
		NotificationID: n.ID,
		CorrelationID:  n.CorrelationID,
		UserID:         n.UserID,
		To:             user.Address(s.channel),
		Channel:        s.channel,
		Body:           n.Body,
	}
	if s.channel.HasSubject() {
		msg.Subject = n.Title
	}

	resp, err := s.provider.Send(sendCtx, msg)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &Result{Delivered: true}, nil
	}

	return &Result{
		Delivered:         resp.Delivered,
		ProviderReference: resp.MessageID,
		StatusCode:        resp.StatusCode,
	}, nil
}
