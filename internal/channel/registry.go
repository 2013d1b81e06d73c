package channel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
)

// Registry maps channels to their senders.
type Registry struct {
	mu      sync.RWMutex
	senders map[domain.Channel]Sender
}

func NewRegistry(senders ...Sender) (*Registry, error) {
	r := &Registry{senders: make(map[domain.Channel]Sender, len(senders))}
	for _, s := range senders {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds s, replacing any sender already bound to its channel.
func (r *Registry) Register(s Sender) error {
	if s == nil {
		return fmt.Errorf("sender is required")
	}
	if !s.Channel().IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedChannel, s.Channel())
	}

	r.mu.Lock()
	r.senders[s.Channel()] = s
	r.mu.Unlock()
	return nil
}

// Resolve returns the sender for channel or domain.ErrUnsupportedChannel.
func (r *Registry) Resolve(channel domain.Channel) (Sender, error) {
	r.mu.RLock()
	s, ok := r.senders[channel]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedChannel, channel)
	}
	return s, nil
}

func (r *Registry) Channels() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Channel, 0, len(r.senders))
	for c := range r.senders {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
