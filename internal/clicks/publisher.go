package clicks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/MagnunAVF/smllr/internal"
)

// Channel is the part of *amqp091.Channel used by the publisher and consumer.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
}

// DeclareQueue declares the durable click queue shared by both sides.
func DeclareQueue(ch Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", name, err)
	}
	return nil
}

type Publisher struct {
	ch    Channel
	queue string
}

func NewPublisher(ch Channel, queue string) *Publisher {
	return &Publisher{ch: ch, queue: queue}
}

// Publish hands task to the broker. It returns once the broker has accepted
// the message; the click itself is recorded later by the worker.
func (p *Publisher) Publish(ctx context.Context, task internal.ClickTask) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal click task: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		"", p.queue, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     uuid.NewString(),
			CorrelationId: task.RequestID,
			Timestamp:     task.EnqueuedAt,
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish click %q: %w", task.Code, err)
	}
	return nil
}
