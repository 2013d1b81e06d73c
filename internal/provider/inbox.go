package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	infraredis "github.com/kursadbilgin/dispatch-core/internal/infra/redis"
	goredis "github.com/redis/go-redis/v9"
)

const defaultInboxSize = 100

// InboxEntry is the payload stored for in-app notifications.
type InboxEntry struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// InboxProvider stores in-app notifications in a capped Redis list per user.
type InboxProvider struct {
	client  *goredis.Client
	maxSize int64
	now     func() time.Time
}

func NewInboxProvider(client *goredis.Client, maxSize int) (*InboxProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if maxSize <= 0 {
		maxSize = defaultInboxSize
	}

	return &InboxProvider{
		client:  client,
		maxSize: int64(maxSize),
		now:     time.Now,
	}, nil
}

func (p *InboxProvider) Send(ctx context.Context, msg Message) (*ProviderResponse, error) {
	if strings.TrimSpace(msg.To) == "" {
		return nil, &ProviderError{Message: "recipient is required"}
	}

	payload, err := json.Marshal(InboxEntry{
		ID:        msg.NotificationID,
		Subject:   msg.Subject,
		Body:      msg.Body,
		CreatedAt: p.now().UTC(),
	})
	if err != nil {
		return nil, &ProviderError{Message: "failed to encode inbox entry", Cause: err}
	}

	key := InboxKey(msg.To)
	_, err = p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, p.maxSize-1)
		return nil
	})
	if err != nil {
		return nil, &ProviderError{Message: "failed to store inbox entry", Transient: true, Cause: err}
	}

	return &ProviderResponse{MessageID: msg.NotificationID, Delivered: true}, nil
}

// List returns the newest entries of a user's inbox.
func (p *InboxProvider) List(ctx context.Context, userID string, limit int) ([]InboxEntry, error) {
	if limit <= 0 || int64(limit) > p.maxSize {
		limit = int(p.maxSize)
	}

	raw, err := p.client.LRange(ctx, InboxKey(userID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	entries := make([]InboxEntry, 0, len(raw))
	for _, item := range raw {
		var entry InboxEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode inbox entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func InboxKey(userID string) string {
	return infraredis.Key("inbox", userID)
}
