package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/swiftride/service-tracking/internal/domain/geo"
	"github.com/swiftride/service-tracking/internal/domain/tracking"
)

// Kafka topics the tracking service talks to.
const (
	TopicTripEvents     = "trip.events"
	TopicTrackingEvents = "tracking.events"
)

// CloudEvent type names.
const (
	TripStarted            = "trip.started"
	TripCompleted          = "trip.completed"
	TripCancelled          = "trip.cancelled"
	TrackingRouteDeviation = "tracking.route_deviation"
)

// TripStartedEvent is published by the trip service when a runner begins a
// trip. The polyline is the expected route from the routing provider.
type TripStartedEvent struct {
	TripID        uuid.UUID `json:"trip_id"`
	TripNumber    string    `json:"trip_number"`
	OwnerID       uuid.UUID `json:"owner_id"`
	RunnerID      uuid.UUID `json:"runner_id"`
	PickupLat     float64   `json:"pickup_lat"`
	PickupLng     float64   `json:"pickup_lng"`
	DropoffLat    float64   `json:"dropoff_lat"`
	DropoffLng    float64   `json:"dropoff_lng"`
	RoutePolyline string    `json:"route_polyline"`
	StartedAt     time.Time `json:"started_at"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// TripCompletedEvent is published when a trip reaches its destination.
type TripCompletedEvent struct {
	TripID      uuid.UUID `json:"trip_id"`
	TripNumber  string    `json:"trip_number"`
	RunnerID    uuid.UUID `json:"runner_id"`
	CompletedAt time.Time `json:"completed_at"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// TripCancelledEvent is published when a trip is cancelled mid-flight.
type TripCancelledEvent struct {
	TripID      uuid.UUID `json:"trip_id"`
	CancelledBy uuid.UUID `json:"cancelled_by"`
	Reason      string    `json:"reason"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// RouteDeviationEvent is published by the tracking service whenever a
// deviation alert fires. The route snapshot travels as an encoded polyline.
type RouteDeviationEvent struct {
	AlertID        uuid.UUID `json:"alert_id"`
	TripID         uuid.UUID `json:"trip_id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	DistanceMeters int       `json:"distance_meters"`
	Severity       string    `json:"severity"`
	RoutePolyline  string    `json:"route_polyline"`
	DetectedAt     time.Time `json:"detected_at"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewRouteDeviationEvent converts a fired alert into its wire representation.
func NewRouteDeviationEvent(alert tracking.DeviationAlert) RouteDeviationEvent {
	return RouteDeviationEvent{
		AlertID:        alert.ID,
		TripID:         alert.TripID,
		Latitude:       alert.Location.Lat,
		Longitude:      alert.Location.Lng,
		DistanceMeters: alert.DistanceMeters,
		Severity:       string(alert.Severity),
		RoutePolyline:  geo.EncodePolyline(alert.ExpectedRoute),
		DetectedAt:     alert.DetectedAt,
		OccurredAt:     time.Now().UTC(),
	}
}
