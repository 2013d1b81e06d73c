package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	messageType    = "notification.due"
	confirmTimeout = 5 * time.Second
)

// ErrNotConfirmed means the broker nacked a publish or did not confirm it in
// time. Scanners release their claim on the row when they see it.
var ErrNotConfirmed = errors.New("publish not confirmed by broker")

// RabbitMQPublisher hands due notifications to their channel work queue.
// A publish returns only after the broker confirms it.
type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg NotificationMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}

	publishing, err := newPublishing(msg, p.now().UTC())
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, publishing)
	if err != nil {
		return fmt.Errorf("failed to publish message to queue %q: %w", queue, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	acked, err := confirmation.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("%w: queue %q: %v", ErrNotConfirmed, queue, err)
	}
	if !acked {
		return fmt.Errorf("%w: queue %q nacked notification %s", ErrNotConfirmed, queue, msg.NotificationID)
	}
	return nil
}

// Close is a no-op. The connection belongs to the RabbitMQ client.
func (p *RabbitMQPublisher) Close() error {
	return nil
}

// newPublishing builds the persistent message announcing that msg is due.
// Headers repeat the routing facts so the DLQ can be inspected without
// decoding bodies.
func newPublishing(msg NotificationMessage, now time.Time) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid notification message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal notification message: %w", err)
	}

	headers := amqp.Table{
		"x-channel":     msg.Channel.String(),
		"x-retry-count": int32(msg.RetryCount),
	}
	if msg.Status != "" {
		headers["x-status"] = msg.Status.String()
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     now,
		Type:          messageType,
		AppId:         connectionName,
		MessageId:     msg.NotificationID,
		CorrelationId: msg.CorrelationID,
		Priority:      PriorityValue(msg.Priority),
		Headers:       headers,
		Body:          payload,
	}, nil
}
