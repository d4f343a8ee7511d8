package clicks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/MagnunAVF/smllr/internal"
	applog "github.com/MagnunAVF/smllr/internal/logger"
)

type TaskRecorder interface {
	Record(ctx context.Context, task internal.ClickTask) TaskState
}

type ConsumerConfig struct {
	Queue       string
	Concurrency int
	Prefetch    int
	TaskTimeout time.Duration
}

// Consumer feeds queued click tasks to a pool of workers. Completed and
// Skipped tasks are acked; Failed and undecodable ones are rejected without
// requeue so a dead-letter policy on the queue can pick them up.
type Consumer struct {
	ch       Channel
	recorder TaskRecorder
	cfg      ConsumerConfig
}

func NewConsumer(ch Channel, recorder TaskRecorder, cfg ConsumerConfig) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Prefetch < cfg.Concurrency {
		cfg.Prefetch = cfg.Concurrency
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Second
	}
	return &Consumer{ch: ch, recorder: recorder, cfg: cfg}
}

// Run blocks until ctx is cancelled or the broker closes the delivery channel.
func (c *Consumer) Run(ctx context.Context) error {
	if err := DeclareQueue(c.ch, c.cfg.Queue); err != nil {
		return err
	}
	if err := c.ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	applog.FromContext(ctx).Info("Consuming click tasks",
		"queue", c.cfg.Queue, "workers", c.cfg.Concurrency, "prefetch", c.cfg.Prefetch)

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range msgs {
				c.handle(ctx, d)
			}
		}()
	}
	wg.Wait()

	applog.FromContext(ctx).Warn("Click delivery channel closed")
	return nil
}

func (c *Consumer) handle(ctx context.Context, d amqp091.Delivery) {
	log := applog.FromContext(ctx)

	var task internal.ClickTask
	if err := json.Unmarshal(d.Body, &task); err != nil || task.Code == "" {
		log.Error("Undecodable click task. Rejecting.", "message_id", d.MessageId, "err", err)
		if err := d.Reject(false); err != nil {
			log.Error("Reject failed", "err", err)
		}
		return
	}

	// in-flight tasks finish even while shutting down
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.TaskTimeout)
	defer cancel()

	state := c.recorder.Record(taskCtx, task)
	var err error
	if state == Failed {
		err = d.Reject(false)
	} else {
		err = d.Ack(false)
	}
	if err != nil {
		log.Error("Settling delivery failed", "short_code", task.Code, "state", state.String(), "err", err)
	}
}
