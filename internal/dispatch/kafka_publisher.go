package dispatch

import (
	"context"

	"github.com/swiftride/service-tracking/internal/domain/tracking"
	"github.com/swiftride/service-tracking/internal/events"
	"github.com/swiftride/service-tracking/internal/kafka"
)

// eventSource identifies this service in outbound CloudEvents.
const eventSource = "service-tracking"

// KafkaAlertPublisher publishes deviation alerts to the tracking events
// topic, keyed by trip ID so downstream consumers see per-trip ordering.
type KafkaAlertPublisher struct {
	producer *kafka.Producer
}

// NewKafkaAlertPublisher creates a publisher on top of an existing producer.
func NewKafkaAlertPublisher(producer *kafka.Producer) *KafkaAlertPublisher {
	return &KafkaAlertPublisher{producer: producer}
}

// Name implements AlertPublisher.
func (p *KafkaAlertPublisher) Name() string {
	return "kafka"
}

// PublishAlert wraps the alert in a CloudEvent and writes it to Kafka.
func (p *KafkaAlertPublisher) PublishAlert(ctx context.Context, alert tracking.DeviationAlert) error {
	event, err := kafka.NewCloudEvent(eventSource, events.TrackingRouteDeviation, events.NewRouteDeviationEvent(alert))
	if err != nil {
		return err
	}
	return p.producer.PublishKeyed(ctx, events.TopicTrackingEvents, alert.TripID.String(), event)
}

var _ AlertPublisher = (*KafkaAlertPublisher)(nil)
