// Package notify publishes reconciliation outcomes to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatwoot-formbricks-sync/config"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Envelope is the JSON body of every published message.
type Envelope struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NoopPublisher drops every outcome.
type NoopPublisher struct{}

// Publish does nothing.
func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

// channel is the part of an AMQP channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitPublisher publishes outcomes to durable queues. Event types listed in SpecificEvents get a
// queue of their own named <prefix>_<event>; every other event goes to <prefix>_<queue>.
type RabbitPublisher struct {
	mu             sync.Mutex
	conn           *amqp091.Connection
	ch             channel
	queue          string
	prefix         string
	specificEvents map[string]bool
	declared       map[string]bool
}

// NewRabbitPublisher connects to the broker.
func NewRabbitPublisher(cfg config.RabbitConfig) (*RabbitPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL cannot be empty")
	}
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}
	p := newRabbitPublisher(ch, cfg)
	p.conn = conn

	log.Info().
		Str("queue", cfg.Queue).
		Str("prefix", cfg.QueuePrefix).
		Strs("specificEvents", cfg.SpecificEvents).
		Msg("RabbitMQ connection established.")
	return p, nil
}

func newRabbitPublisher(ch channel, cfg config.RabbitConfig) *RabbitPublisher {
	specific := make(map[string]bool, len(cfg.SpecificEvents))
	for _, e := range cfg.SpecificEvents {
		specific[strings.ToLower(strings.TrimSpace(e))] = true
	}
	return &RabbitPublisher{
		ch:             ch,
		queue:          cfg.Queue,
		prefix:         cfg.QueuePrefix,
		specificEvents: specific,
		declared:       map[string]bool{},
	}
}

// QueueName returns the queue an event type is published to.
func (p *RabbitPublisher) QueueName(eventType string) string {
	name := p.queue
	if p.specificEvents[strings.ToLower(eventType)] {
		name = strings.ToLower(eventType)
	}
	if p.prefix == "" {
		return name
	}
	return p.prefix + "_" + name
}

// Publish sends the payload wrapped in an Envelope as a persistent JSON message.
func (p *RabbitPublisher) Publish(ctx context.Context, eventType string, payload any) error {
	env := Envelope{
		ID:        uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", eventType, err)
	}
	queueName := p.QueueName(eventType)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[queueName] {
		_, err := p.ch.QueueDeclare(
			queueName,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			log.Error().Err(err).Str("queue", queueName).Msg("Could not declare RabbitMQ queue")
			return err
		}
		p.declared[queueName] = true
	}

	err = p.ch.PublishWithContext(ctx,
		"",        // exchange (default)
		queueName, // routing key = queue
		false,     // mandatory
		false,     // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    env.ID,
			Timestamp:    env.Timestamp,
			Type:         eventType,
			Body:         body,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Str("queue", queueName).Msg("Could not publish to RabbitMQ")
		return err
	}
	log.Debug().Str("eventType", eventType).Str("queue", queueName).Msg("Published message to RabbitMQ")
	return nil
}

// Close shuts the channel and the connection.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing RabbitMQ channel")
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
