// Package redis holds the Redis-backed collaborators of the dispatcher.
// Every key they write lives under the dispatch: prefix.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix   = "dispatch:"
	clientName  = "dispatch-core"
	pingTimeout = 5 * time.Second
)

// Key joins parts under the service prefix: Key("inbox", "u-1") is
// "dispatch:inbox:u-1".
func Key(parts ...string) string {
	return keyPrefix + strings.Join(parts, ":")
}

// NewRedis connects to url and checks that the server answers.
func NewRedis(url string) (*redis.Client, error) {
	opts, err := Options(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// Options parses url and fills what it leaves unset: the client name shown
// in CLIENT LIST, and context deadlines applied to every command.
func Options(url string) (*redis.Options, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if opts.ClientName == "" {
		opts.ClientName = clientName
	}
	opts.ContextTimeoutEnabled = true
	return opts, nil
}
