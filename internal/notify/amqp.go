// Package notify delivers waitlist notifications to the messaging system.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/clinicflow/scheduling-engine/internal/scheduling"
)

const messageType = "waitlist.slot_available"

// Publisher is the part of *amqp091.Channel used for sending.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQPNotifier publishes each notification as a persistent JSON message on a
// durable queue; a downstream consumer turns it into SMS or email.
type AMQPNotifier struct {
	pub     Publisher
	queue   string
	log     *zap.Logger
	channel *amqp091.Channel
}

// NewAMQPNotifier opens a channel on conn and declares queue.
func NewAMQPNotifier(conn *amqp091.Connection, queue string, log *zap.Logger) (*AMQPNotifier, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	n := NewAMQPNotifierWithPublisher(ch, queue, log)
	n.channel = ch
	return n, nil
}

func NewAMQPNotifierWithPublisher(pub Publisher, queue string, log *zap.Logger) *AMQPNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &AMQPNotifier{pub: pub, queue: queue, log: log}
}

func (n *AMQPNotifier) NotifyWaitlist(ctx context.Context, msg scheduling.WaitlistNotification) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    msg.WaitlistID.String(),
		Type:         messageType,
		Body:         body,
		Headers: amqp091.Table{
			"message_type":     "JSON",
			"requeue_strategy": "DROP",
		},
	}

	if err := n.pub.PublishWithContext(ctx, "", n.queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	n.log.Debug("waitlist notification published",
		zap.Stringer("waitlist_id", msg.WaitlistID),
		zap.String("queue", n.queue))
	return nil
}

// Close releases the channel opened by NewAMQPNotifier.
func (n *AMQPNotifier) Close() error {
	if n.channel == nil {
		return nil
	}
	return n.channel.Close()
}
