package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
)

// ErrReject tells the consumer to dead-letter a message instead of requeueing it.
var ErrReject = errors.New("reject message")

// Publisher publishes notification messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg NotificationMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message. Returning an error that
// wraps ErrReject dead-letters the message; any other error requeues it.
type MessageHandler func(ctx context.Context, msg NotificationMessage) error

// Consumer consumes notification messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	queuePrefix = "dispatch."

	// queueMaxPriority is the RabbitMQ x-max-priority value for work queues.
	queueMaxPriority int32 = 4
)

// QueueName returns the channel work queue name, e.g. dispatch.sms.
func QueueName(channel domain.Channel) string {
	return queuePrefix + channelRoutingKey(channel)
}

// DLQName returns the dead-letter queue name for a channel, e.g. dispatch.dlq.sms.
func DLQName(channel domain.Channel) string {
	return fmt.Sprintf("%sdlq.%s", queuePrefix, channelRoutingKey(channel))
}

// WorkQueueNames returns one work queue per supported channel.
func WorkQueueNames() []string {
	channels := domain.SupportedChannels()
	queues := make([]string, 0, len(channels))
	for _, channel := range channels {
		queues = append(queues, QueueName(channel))
	}
	return queues
}

// DLQNames returns one dead-letter queue per supported channel.
func DLQNames() []string {
	channels := domain.SupportedChannels()
	queues := make([]string, 0, len(channels))
	for _, channel := range channels {
		queues = append(queues, DLQName(channel))
	}
	return queues
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityCritical:
		return 4
	case domain.PriorityHigh:
		return 3
	case domain.PriorityMedium:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}

func channelRoutingKey(channel domain.Channel) string {
	return strings.ToLower(channel.String())
}
