package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swiftride/service-tracking/internal/config"
	"github.com/swiftride/service-tracking/internal/domain/geo"
	"github.com/swiftride/service-tracking/internal/domain/tracking"
)

// qosAtLeastOnce is the MQTT QoS level for location subscriptions.
const qosAtLeastOnce byte = 1

// disconnectQuiesceMs is how long Disconnect waits for in-flight work.
const disconnectQuiesceMs uint = 250

// LocationService is the application-side contract the subscriber drives.
// Satisfied by application.TrackingService.
type LocationService interface {
	RecordLocation(ctx context.Context, tripID uuid.UUID, fix geo.Coordinate, recordedAt time.Time) (*tracking.DeviationAlert, error)
}

type locationMessage struct {
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	RecordedAt *time.Time `json:"recorded_at"`
}

// LocationSubscriber feeds location fixes published by runner devices into
// the monitoring service. The trip ID rides in the topic, one topic per
// trip, matched by the configured wildcard pattern.
type LocationSubscriber struct {
	client        mqtt.Client
	topic         string
	wildcardIndex int
	service       LocationService
	logger        *zap.Logger
}

// NewLocationSubscriber builds the MQTT client for the configured broker.
// The topic pattern must carry exactly one single-level wildcard marking
// the trip ID segment, e.g. "swiftride/trips/+/location".
func NewLocationSubscriber(cfg config.MQTTConfig, service LocationService, logger *zap.Logger) (*LocationSubscriber, error) {
	wildcardIndex := -1
	for i, segment := range strings.Split(cfg.LocationTopic, "/") {
		if segment == "+" {
			wildcardIndex = i
			break
		}
	}
	if wildcardIndex < 0 {
		return nil, fmt.Errorf("location topic %q has no trip ID wildcard segment", cfg.LocationTopic)
	}

	s := &LocationSubscriber{
		topic:         cfg.LocationTopic,
		wildcardIndex: wildcardIndex,
		service:       service,
		logger:        logger,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	// Subscribing from the on-connect hook restores the subscription after
	// every reconnect, not just the first connect.
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.BrokerURL))
		if token := client.Subscribe(s.topic, qosAtLeastOnce, s.handleMessage); token.Wait() && token.Error() != nil {
			logger.Error("mqtt subscribe failed",
				zap.String("topic", s.topic),
				zap.Error(token.Error()),
			)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	s.client = mqtt.NewClient(opts)
	return s, nil
}

// Start connects to the broker. The on-connect hook performs the
// subscription.
func (s *LocationSubscriber) Start() error {
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}
	return nil
}

// IsConnected reports broker connectivity, used by the readiness endpoint.
func (s *LocationSubscriber) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

// Close drops the subscription and disconnects from the broker.
func (s *LocationSubscriber) Close() {
	if token := s.client.Unsubscribe(s.topic); token.Wait() && token.Error() != nil {
		s.logger.Warn("mqtt unsubscribe failed", zap.Error(token.Error()))
	}
	s.client.Disconnect(disconnectQuiesceMs)
}

func (s *LocationSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	tripID, err := s.tripIDFromTopic(msg.Topic())
	if err != nil {
		s.logger.Warn("dropping location message with unusable topic",
			zap.String("topic", msg.Topic()),
			zap.Error(err),
		)
		return
	}

	var raw locationMessage
	if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
		s.logger.Warn("dropping undecodable location message",
			zap.String("topic", msg.Topic()),
			zap.Error(err),
		)
		return
	}

	recordedAt := time.Now().UTC()
	if raw.RecordedAt != nil {
		recordedAt = raw.RecordedAt.UTC()
	}

	fix := geo.Coordinate{Lat: raw.Latitude, Lng: raw.Longitude}
	if _, err := s.service.RecordLocation(context.Background(), tripID, fix, recordedAt); err != nil {
		s.logger.Warn("location fix rejected",
			zap.String("trip_id", tripID.String()),
			zap.Error(err),
		)
	}
}

func (s *LocationSubscriber) tripIDFromTopic(topic string) (uuid.UUID, error) {
	segments := strings.Split(topic, "/")
	if len(segments) <= s.wildcardIndex {
		return uuid.Nil, fmt.Errorf("topic %q is shorter than the subscription pattern", topic)
	}
	id, err := uuid.Parse(segments[s.wildcardIndex])
	if err != nil {
		return uuid.Nil, fmt.Errorf("topic segment %q is not a trip ID: %w", segments[s.wildcardIndex], err)
	}
	return id, nil
}
