package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "signal.events"

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type RabbitMQ struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
}

func NewRabbitMQ(uri, exchange string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	r, err := newRabbitMQ(ch, exchange)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	r.conn = conn
	return r, nil
}

func newRabbitMQ(ch channel, exchange string) (*RabbitMQ, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &RabbitMQ{ch: ch, exchange: exchange}, nil
}

func (r *RabbitMQ) PublishRosterChanged(ctx context.Context, ev RosterChanged) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.ch.PublishWithContext(ctx, r.exchange, KindRosterChanged, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Type:         KindRosterChanged,
		Body:         body,
	})
}

func (r *RabbitMQ) Close() {
	if r.ch != nil {
		r.ch.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}
