package tracking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/swiftride/service-tracking/internal/domain/geo"
)

// DeviationAlert is the immutable record of a detected route deviation.
type DeviationAlert struct {
	// ID identifies this alert for downstream dedupe and audit.
	ID uuid.UUID `json:"id"`
	// TripID is the monitored trip the alert belongs to.
	TripID uuid.UUID `json:"trip_id"`
	// Location is the fix that triggered the alert.
	Location geo.Coordinate `json:"location"`
	// ExpectedRoute is the session's route snapshot.
	ExpectedRoute geo.Route `json:"expected_route"`
	// DistanceMeters is the off-route distance rounded to whole meters.
	DistanceMeters int `json:"distance_meters"`
	// Severity grades the deviation by distance.
	Severity Severity `json:"severity"`
	// DetectedAt is the UTC time the engine raised the alert.
	DetectedAt time.Time `json:"detected_at"`
}

// AlertFunc is the callback a monitor invokes synchronously, inline from
// CheckLocation, whenever an alert fires.
type AlertFunc func(alert DeviationAlert)

// AlertSink delivers alerts to an outbound channel such as a message broker.
type AlertSink interface {
	Deliver(ctx context.Context, alert DeviationAlert) error
}
