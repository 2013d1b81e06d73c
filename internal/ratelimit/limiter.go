// Package ratelimit caps provider throughput per channel.
package ratelimit

import (
	"context"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
)

// RateLimiter controls outbound send throughput per channel. It is separate
// from the per-user caps enforced by the preference evaluator.
type RateLimiter interface {
	Allow(ctx context.Context, channel domain.Channel) (bool, error)
	Wait(ctx context.Context, channel domain.Channel) error
}
