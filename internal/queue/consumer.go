package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cineres/movie-booking/internal/coordination"
)

// NotificationConsumer drains the booking events queue on behalf of the
// notification collaborator.  Delivery from the broker is at-least-once, so
// every event is pushed through the idempotency guard keyed by its event id
// before any side effect runs; redelivered messages are acked without
// acting twice.
type NotificationConsumer struct {
	url   string
	guard *coordination.IdempotencyGuard
}

// NewNotificationConsumer builds a consumer for the broker at url.
func NewNotificationConsumer(url string, guard *coordination.IdempotencyGuard) *NotificationConsumer {
	return &NotificationConsumer{url: url, guard: guard}
}

// Run connects, consumes and reconnects with backoff until ctx is
// cancelled.  Individual message failures are logged and the message is
// rejected without requeue so one poison message cannot wedge the queue.
func (c *NotificationConsumer) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			log.Printf("notification-consumer: dial failed: %v; retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := c.consumeLoop(ctx, conn); err != nil {
			log.Printf("notification-consumer: consume loop ended: %v; reconnecting", err)
		}
		_ = conn.Close()
	}
}

func (c *NotificationConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("notification-consumer: set QoS failed: %v", err)
	}

	if _, err := ch.QueueDeclare(eventsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(eventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(ctx, d.Body); err != nil {
				log.Printf("notification-consumer: handle message failed: %v", err)
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *NotificationConsumer) handleMessage(ctx context.Context, body []byte) error {
	var ev BookingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.EventID == "" {
		return errors.New("event without id")
	}
	isNew, _, err := c.guard.CheckAndExecute(ctx, "notification:"+ev.EventID, func(context.Context) ([]byte, error) {
		if err := appendNotificationLog(ev); err != nil {
			return nil, err
		}
		return []byte("sent"), nil
	})
	if err != nil {
		return err
	}
	if !isNew {
		log.Printf("notification-consumer: duplicate delivery for event %s, skipped", ev.EventID)
	}
	return nil
}

func appendNotificationLog(ev BookingEvent) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	fpath := filepath.Join("logs", "notifications.log")
	f, err := os.OpenFile(fpath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s | booking_id=%d | user_id=%d | amount=%d cents | txn=%s\n",
		ev.OccurredAt, ev.Type, ev.BookingID, ev.UserID, ev.AmountCents, ev.TransactionID)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
