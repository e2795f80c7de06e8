package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const appID = "portal-chat"

// ErrClosed is returned by Publish once the broker channel is gone.
var ErrClosed = errors.New("rabbitmq: channel closed")

// Publisher publishes chat events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// dialAttempts bounds start-up retries before falling back to noop.
var dialAttempts uint64 = 3

// NewPublisher connects to RabbitMQ and declares the topic exchange. When the
// url is empty or the broker stays unreachable it returns a noop publisher so
// the service runs without events.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		log.Printf("rabbitmq disabled, using noop: empty amqp url")
		return noopPublisher{reason: "empty amqp url"}
	}

	var conn *amqp.Connection
	dial := func() error {
		var err error
		conn, err = amqp.Dial(amqpURL)
		if err != nil {
			log.Printf("rabbitmq dial failed: %v", err)
		}
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), dialAttempts-1)
	if err := backoff.Retry(dial, policy); err != nil {
		log.Printf("rabbitmq disabled, using noop: %v", err)
		return noopPublisher{reason: err.Error()}
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("rabbitmq disabled, using noop: %v", err)
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		log.Printf("rabbitmq disabled, using noop: %v", err)
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	p := &amqpPublisher{conn: conn, ch: ch, exchange: exchange}
	go p.watch(ch.NotifyClose(make(chan *amqp.Error, 1)))
	log.Printf("rabbitmq connected exchange=%s", exchange)
	return p
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	mu     sync.RWMutex
	closed bool
}

func (p *amqpPublisher) watch(closed <-chan *amqp.Error) {
	if err, ok := <-closed; ok && err != nil {
		log.Printf("rabbitmq channel closed: %v", err)
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	msg, err := buildPublishing(routingKey, event, headers, time.Now())
	if err != nil {
		return err
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		log.Printf("rabbitmq publish failed routing_key=%s: %v", routingKey, err)
		return err
	}
	return nil
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// buildPublishing encodes event as a persistent JSON message. The routing key
// doubles as the message type so consumers can dispatch without decoding.
func buildPublishing(routingKey string, event any, headers map[string]string, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode event: %w", err)
	}

	table := amqp.Table{}
	for key, value := range headers {
		table[key] = value
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		AppId:        appID,
		Type:         routingKey,
		Timestamp:    now,
		Headers:      table,
		Body:         body,
	}, nil
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	if named, ok := event.(interface{ Kind() string }); ok {
		log.Printf("rabbitmq noop publish routing_key=%s kind=%s request_id=%s", routingKey, named.Kind(), headers["x-request-id"])
		return nil
	}
	log.Printf("rabbitmq noop publish routing_key=%s", routingKey)
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason explains why the noop publisher is in use.
func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
