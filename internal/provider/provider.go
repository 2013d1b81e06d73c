// Package provider holds the outbound delivery adapters (webhook, Postmark,
// SMTP and the Redis-backed in-app inbox).
package provider

import (
	"context"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
)

// Message is one rendered notification addressed to a single recipient.
type Message struct {
	NotificationID string
	CorrelationID  string
	UserID         string
	To             string
	Channel        domain.Channel
	Subject        string
	Body           string
}

// Provider is the outbound notification delivery port.
type Provider interface {
	Send(ctx context.Context, msg Message) (*ProviderResponse, error)
}

// ProviderResponse stores provider call metadata for audit and persistence.
// Delivered is false when the provider only accepted the message and a later
// delivery confirmation is expected.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
	Delivered  bool
}
