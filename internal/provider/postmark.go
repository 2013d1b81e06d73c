package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/mrz1836/postmark"
)

// Postmark API error codes that are worth retrying.
const postmarkMaintenanceCode = 100

// PostmarkConfig configures the Postmark email provider.
type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	SenderEmail  string
	MessageTag   string
	// BaseURL overrides the Postmark API endpoint, mainly for tests.
	BaseURL string
}

// PostmarkProvider sends email through Postmark. Postmark only accepts the
// message, delivery is confirmed by its webhook.
type PostmarkProvider struct {
	client *postmark.Client
	from   string
	tag    string
}

func NewPostmarkProvider(cfg PostmarkConfig) (*PostmarkProvider, error) {
	if strings.TrimSpace(cfg.ServerToken) == "" {
		return nil, fmt.Errorf("postmark server token is required")
	}
	if strings.TrimSpace(cfg.SenderEmail) == "" {
		return nil, fmt.Errorf("postmark sender email is required")
	}

	client := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	if cfg.BaseURL != "" {
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &PostmarkProvider{
		client: client,
		from:   cfg.SenderEmail,
		tag:    cfg.MessageTag,
	}, nil
}

func (p *PostmarkProvider) Send(ctx context.Context, msg Message) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if strings.TrimSpace(msg.To) == "" {
		return nil, &ProviderError{Message: "recipient is required"}
	}

	email := postmark.Email{
		From:       p.from,
		To:         msg.To,
		Subject:    msg.Subject,
		TextBody:   msg.Body,
		Tag:        p.tag,
		TrackOpens: true,
	}
	if msg.NotificationID != "" {
		email.Metadata = map[string]string{"notification_id": msg.NotificationID}
	}

	resp, err := p.client.SendEmail(ctx, email)
	if err != nil {
		return nil, requestFailed("postmark request failed", err)
	}
	if resp.ErrorCode > 0 {
		return nil, &ProviderError{
			Message:   fmt.Sprintf("postmark error %d: %s", resp.ErrorCode, resp.Message),
			Transient: resp.ErrorCode == postmarkMaintenanceCode,
		}
	}

	return &ProviderResponse{
		Body:      resp.Message,
		MessageID: resp.MessageID,
	}, nil
}
