// Package lock provides per-notification mutual exclusion for dispatch.
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
)

// Locker grants exclusive processing of one key. TryLock never blocks: a held
// key yields domain.ErrAlreadyProcessing.
type Locker interface {
	TryLock(ctx context.Context, key string) (func(), error)
}

var _ Locker = (*KeyedLocker)(nil)

// KeyedLocker is the in-process Locker used by single-node deployments and tests.
type KeyedLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{held: make(map[string]struct{})}
}

func (l *KeyedLocker) TryLock(_ context.Context, key string) (func(), error) {
	if key == "" {
		return nil, fmt.Errorf("%w: lock key is required", domain.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, domain.ErrAlreadyProcessing
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
