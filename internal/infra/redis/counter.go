package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"github.com/kursadbilgin/dispatch-core/internal/preference"
	goredis "github.com/redis/go-redis/v9"
)

const (
	counterRetention = 24 * time.Hour
	counterTTL       = counterRetention + time.Hour
)

var _ preference.RateCounter = (*RateCounter)(nil)

// RateCounter keeps one sorted set of send timestamps per (user, channel).
// Scores are unix milliseconds.
type RateCounter struct {
	client *goredis.Client
}

func NewRateCounter(client *goredis.Client) (*RateCounter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RateCounter{client: client}, nil
}

// Usage counts sends in (now-window, now] without reserving anything.
func (c *RateCounter) Usage(ctx context.Context, userID string, channel domain.Channel, window time.Duration, now time.Time) (preference.WindowUsage, error) {
	key := counterKey(userID, channel)
	lower := "(" + strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
	upper := strconv.FormatInt(now.UnixMilli(), 10)

	count, err := c.client.ZCount(ctx, key, lower, upper).Result()
	if err != nil {
		return preference.WindowUsage{}, fmt.Errorf("failed to count sends: %w", err)
	}
	if count == 0 {
		return preference.WindowUsage{}, nil
	}

	oldest, err := c.client.ZRangeByScoreWithScores(ctx, key, &goredis.ZRangeBy{
		Min:   lower,
		Max:   upper,
		Count: 1,
	}).Result()
	if err != nil {
		return preference.WindowUsage{}, fmt.Errorf("failed to read oldest send: %w", err)
	}

	usage := preference.WindowUsage{Count: count}
	if len(oldest) > 0 {
		usage.Oldest = time.UnixMilli(int64(oldest[0].Score)).UTC()
	}
	return usage, nil
}

// Record adds one successful send and trims entries older than a day.
func (c *RateCounter) Record(ctx context.Context, userID string, channel domain.Channel, notificationID string, at time.Time) error {
	key := counterKey(userID, channel)
	cutoff := "(" + strconv.FormatInt(at.Add(-counterRetention).UnixMilli(), 10)

	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, key, goredis.Z{
			Score:  float64(at.UnixMilli()),
			Member: notificationID,
		})
		pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
		pipe.Expire(ctx, key, counterTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record send: %w", err)
	}
	return nil
}

func counterKey(userID string, channel domain.Channel) string {
	return Key("sent", userID, strings.ToLower(channel.String()))
}
