package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Default AMQP topology for accounts changed notifications.
const (
	DefaultExchange   = "multibank.events"
	DefaultRoutingKey = "accounts.changed"
)

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes AccountsChanged as JSON to a RabbitMQ exchange
// so that other processes can react to balance changes.
type RabbitPublisher struct {
	conn       *amqp.Connection
	channel    amqpChannel
	exchange   string
	routingKey string
}

// NewRabbitPublisher dials amqpURL and declares a durable direct exchange.
func NewRabbitPublisher(amqpURL, exchange, routingKey string) (*RabbitPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if routingKey == "" {
		routingKey = DefaultRoutingKey
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("NewRabbitPublisher: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("NewRabbitPublisher: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("NewRabbitPublisher: declare exchange %s: %w", exchange, err)
	}

	return &RabbitPublisher{
		conn:       conn,
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

// Publish implements Publisher.
func (r *RabbitPublisher) Publish(ctx context.Context, e AccountsChanged) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("Publish: marshal event: %w", err)
	}

	err = r.channel.PublishWithContext(ctx,
		r.exchange,
		r.routingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			DeliveryMode: amqp.Persistent,
			Type:         "accounts.changed",
		},
	)
	if err != nil {
		return fmt.Errorf("Publish: %w", err)
	}
	return nil
}

// Close closes the channel and the connection.
func (r *RabbitPublisher) Close() error {
	if err := r.channel.Close(); err != nil {
		if r.conn != nil {
			r.conn.Close()
		}
		return err
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

var _ Publisher = (*RabbitPublisher)(nil)
