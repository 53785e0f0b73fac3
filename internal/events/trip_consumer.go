package events

import (
	"context"
	"errors"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/swiftride/service-tracking/internal/domain"
	"github.com/swiftride/service-tracking/internal/kafka"
)

// TripLifecycleHandler is the application-side contract the consumer
// drives. Satisfied by application.TrackingService.
type TripLifecycleHandler interface {
	HandleTripStarted(ctx context.Context, evt TripStartedEvent) error
	HandleTripCompleted(ctx context.Context, evt TripCompletedEvent) error
	HandleTripCancelled(ctx context.Context, evt TripCancelledEvent) error
}

// TripEventConsumer consumes trip lifecycle events and drives monitoring
// sessions from them. Messages that fail with transient errors are left
// uncommitted and redelivered; malformed messages are skipped.
type TripEventConsumer struct {
	consumer *kafka.Consumer
	service  TripLifecycleHandler
	logger   *zap.Logger
}

// NewTripEventConsumer creates a consumer for the trip events topic.
func NewTripEventConsumer(brokers []string, groupID string, service TripLifecycleHandler, logger *zap.Logger) *TripEventConsumer {
	return &TripEventConsumer{
		consumer: kafka.NewConsumer(brokers, groupID, TopicTripEvents, logger),
		service:  service,
		logger:   logger,
	}
}

// Start blocks consuming messages until the context is cancelled.
func (c *TripEventConsumer) Start(ctx context.Context) error {
	c.logger.Info("trip event consumer starting", zap.String("topic", TopicTripEvents))
	return c.consumer.Consume(ctx, c.handleMessage)
}

// Close shuts down the underlying reader.
func (c *TripEventConsumer) Close() error {
	return c.consumer.Close()
}

func (c *TripEventConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	ce, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Error("skipping malformed event envelope",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return nil
	}

	c.logger.Debug("trip event received",
		zap.String("event_id", ce.ID),
		zap.String("event_type", ce.Type),
	)

	switch ce.Type {
	case TripStarted:
		return c.handleTripStarted(ctx, ce)
	case TripCompleted:
		return c.handleTripCompleted(ctx, ce)
	case TripCancelled:
		return c.handleTripCancelled(ctx, ce)
	default:
		c.logger.Debug("ignoring unhandled event type", zap.String("event_type", ce.Type))
		return nil
	}
}

func (c *TripEventConsumer) handleTripStarted(ctx context.Context, ce kafka.CloudEvent) error {
	var evt TripStartedEvent
	if err := ce.ParseData(&evt); err != nil {
		c.logger.Error("skipping undecodable trip.started payload",
			zap.String("event_id", ce.ID),
			zap.Error(err),
		)
		return nil
	}
	return c.dispatch(ce, c.service.HandleTripStarted(ctx, evt))
}

func (c *TripEventConsumer) handleTripCompleted(ctx context.Context, ce kafka.CloudEvent) error {
	var evt TripCompletedEvent
	if err := ce.ParseData(&evt); err != nil {
		c.logger.Error("skipping undecodable trip.completed payload",
			zap.String("event_id", ce.ID),
			zap.Error(err),
		)
		return nil
	}
	return c.dispatch(ce, c.service.HandleTripCompleted(ctx, evt))
}

func (c *TripEventConsumer) handleTripCancelled(ctx context.Context, ce kafka.CloudEvent) error {
	var evt TripCancelledEvent
	if err := ce.ParseData(&evt); err != nil {
		c.logger.Error("skipping undecodable trip.cancelled payload",
			zap.String("event_id", ce.ID),
			zap.Error(err),
		)
		return nil
	}
	return c.dispatch(ce, c.service.HandleTripCancelled(ctx, evt))
}

// dispatch maps handler outcomes to commit decisions. Validation failures
// are data problems that redelivery cannot fix, so they commit and skip.
func (c *TripEventConsumer) dispatch(ce kafka.CloudEvent, err error) error {
	if err == nil {
		return nil
	}
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		c.logger.Warn("skipping event rejected by validation",
			zap.String("event_id", ce.ID),
			zap.String("event_type", ce.Type),
			zap.Error(err),
		)
		return nil
	}
	return err
}
