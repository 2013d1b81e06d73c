package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"golang.org/x/time/rate"
)

const defaultLimitPerSec = 100

var _ RateLimiter = (*LocalRateLimiter)(nil)

// LocalRateLimiter is an in-process token bucket per channel.
type LocalRateLimiter struct {
	mu          sync.Mutex
	limiters    map[domain.Channel]*rate.Limiter
	limitPerSec int
}

func NewLocalRateLimiter(limitPerSec int) *LocalRateLimiter {
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}

	return &LocalRateLimiter{
		limiters:    make(map[domain.Channel]*rate.Limiter),
		limitPerSec: limitPerSec,
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, channel domain.Channel) (bool, error) {
	limiter, err := l.limiter(channel)
	if err != nil {
		return false, err
	}
	return limiter.Allow(), nil
}

func (l *LocalRateLimiter) Wait(ctx context.Context, channel domain.Channel) error {
	limiter, err := l.limiter(channel)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return limiter.Wait(ctx)
}

func (l *LocalRateLimiter) limiter(channel domain.Channel) (*rate.Limiter, error) {
	if !channel.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedChannel, channel)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[channel]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.limitPerSec), l.limitPerSec)
		l.limiters[channel] = limiter
	}
	return limiter, nil
}
