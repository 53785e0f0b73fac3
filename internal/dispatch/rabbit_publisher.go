package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/swiftride/service-tracking/internal/domain/tracking"
	"github.com/swiftride/service-tracking/internal/events"
)

// RabbitAlertPublisher pushes deviation alerts to a durable fanout exchange
// consumed by the notification workers.
type RabbitAlertPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewRabbitAlertPublisher connects to RabbitMQ and declares the alert
// exchange, queue and binding.
func NewRabbitAlertPublisher(url, exchange, queue string, logger *zap.Logger) (*RabbitAlertPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, "", exchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}

	logger.Info("rabbitmq alert publisher ready", zap.String("exchange", exchange), zap.String("queue", queue))
	return &RabbitAlertPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

// Name implements AlertPublisher.
func (p *RabbitAlertPublisher) Name() string {
	return "rabbitmq"
}

// IsOpen reports whether the broker connection is usable, used by the
// readiness endpoint.
func (p *RabbitAlertPublisher) IsOpen() bool {
	return !p.conn.IsClosed()
}

// PublishAlert publishes the alert payload as a persistent JSON message.
func (p *RabbitAlertPublisher) PublishAlert(ctx context.Context, alert tracking.DeviationAlert) error {
	body, err := json.Marshal(events.NewRouteDeviationEvent(alert))
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	return p.ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    alert.ID.String(),
		Timestamp:    alert.DetectedAt,
		Body:         body,
	})
}

// Close releases the channel and connection.
func (p *RabbitAlertPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return fmt.Errorf("failed to close rabbitmq channel: %w", err)
	}
	return p.conn.Close()
}

var _ AlertPublisher = (*RabbitAlertPublisher)(nil)
