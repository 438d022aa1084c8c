package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"mailoreply.ai/platform/pkg/logger"
)

const maxBackoff = 30 * time.Second

// Consume delivers queued events to h until ctx is cancelled, redialing the
// broker with exponential backoff. Messages h rejects are dropped, not
// requeued.
func Consume(ctx context.Context, url string, h Handler, l *logger.Logger) error {
	log := l.With("component", "consumer", "queue", GenerationQueue)
	backoff := time.Second

	for {
		conn, err := dial(url, dialTimeout)
		if err != nil {
			log.Warn("Failed to dial broker", "error", err, "retry_in", backoff.String())
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, h, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("Consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, h Handler, log *logger.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("Set QoS failed", "error", err)
	}
	if _, err := ch.QueueDeclare(GenerationQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(GenerationQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Info("Consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := Process(ctx, d.Body, h); err != nil {
				log.Error("Handle message failed", "error", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Process decodes one message body and hands it to h.
func Process(ctx context.Context, body []byte, h Handler) error {
	ev, err := Decode(body)
	if err != nil {
		return err
	}
	return h(ctx, ev)
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
