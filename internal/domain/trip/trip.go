package trip

import (
	"time"

	"github.com/google/uuid"

	"github.com/swiftride/service-tracking/internal/domain"
	"github.com/swiftride/service-tracking/internal/domain/geo"
)

// Trip is the aggregate root for the tracking service's local projection of
// a monitored trip. It is built from trip lifecycle events and records what
// monitoring observed: last known position and how many deviation alerts
// fired. It is never used to restore in-memory monitoring sessions.
type Trip struct {
	id         uuid.UUID
	tripNumber string
	ownerID    *uuid.UUID
	runnerID   uuid.UUID
	status     TripStatus
	routePlan  RoutePlan

	startedAt time.Time
	endedAt   *time.Time

	lastKnownLat *float64
	lastKnownLng *float64
	lastSeenAt   *time.Time

	deviationAlerts int64

	version   int64
	createdAt time.Time
	updatedAt time.Time
}

// NewTrip creates an active trip projection.
func NewTrip(
	id uuid.UUID,
	tripNumber string,
	ownerID *uuid.UUID,
	runnerID uuid.UUID,
	routePlan RoutePlan,
	startedAt time.Time,
) (*Trip, error) {
	if id == uuid.Nil {
		return nil, domain.NewValidationError("trip ID is required")
	}
	if runnerID == uuid.Nil {
		return nil, domain.NewValidationError("runner ID is required")
	}
	if routePlan.WaypointCount == 0 {
		return nil, domain.NewValidationError("route plan must contain at least one waypoint")
	}
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	now := time.Now().UTC()
	return &Trip{
		id:         id,
		tripNumber: tripNumber,
		ownerID:    ownerID,
		runnerID:   runnerID,
		status:     StatusActive,
		routePlan:  routePlan,
		startedAt:  startedAt,
		version:    1,
		createdAt:  now,
		updatedAt:  now,
	}, nil
}

// ReconstructTrip rebuilds a Trip from persistence data (no validation).
func ReconstructTrip(
	id uuid.UUID,
	tripNumber string,
	ownerID *uuid.UUID,
	runnerID uuid.UUID,
	status TripStatus,
	routePlan RoutePlan,
	startedAt time.Time,
	endedAt *time.Time,
	lastKnownLat *float64,
	lastKnownLng *float64,
	lastSeenAt *time.Time,
	deviationAlerts int64,
	version int64,
	createdAt time.Time,
	updatedAt time.Time,
) *Trip {
	return &Trip{
		id:              id,
		tripNumber:      tripNumber,
		ownerID:         ownerID,
		runnerID:        runnerID,
		status:          status,
		routePlan:       routePlan,
		startedAt:       startedAt,
		endedAt:         endedAt,
		lastKnownLat:    lastKnownLat,
		lastKnownLng:    lastKnownLng,
		lastSeenAt:      lastSeenAt,
		deviationAlerts: deviationAlerts,
		version:         version,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
	}
}

// --- Getters ---

// ID returns the trip's unique identifier.
func (t *Trip) ID() uuid.UUID { return t.id }

// TripNumber returns the human-readable trip number.
func (t *Trip) TripNumber() string { return t.tripNumber }

// OwnerID returns the requesting owner's user ID, or nil when unknown.
func (t *Trip) OwnerID() *uuid.UUID { return t.ownerID }

// RunnerID returns the runner driving the trip.
func (t *Trip) RunnerID() uuid.UUID { return t.runnerID }

// Status returns the current trip status.
func (t *Trip) Status() TripStatus { return t.status }

// RoutePlan returns the expected route plan.
func (t *Trip) RoutePlan() RoutePlan { return t.routePlan }

// StartedAt returns when the trip started.
func (t *Trip) StartedAt() time.Time { return t.startedAt }

// EndedAt returns when the trip ended, or nil while active.
func (t *Trip) EndedAt() *time.Time { return t.endedAt }

// LastKnownLat returns the latitude of the last recorded fix, or nil.
func (t *Trip) LastKnownLat() *float64 { return t.lastKnownLat }

// LastKnownLng returns the longitude of the last recorded fix, or nil.
func (t *Trip) LastKnownLng() *float64 { return t.lastKnownLng }

// LastSeenAt returns when the last fix was recorded, or nil.
func (t *Trip) LastSeenAt() *time.Time { return t.lastSeenAt }

// DeviationAlerts returns how many deviation alerts fired for this trip.
func (t *Trip) DeviationAlerts() int64 { return t.deviationAlerts }

// Version returns the entity version for optimistic locking.
func (t *Trip) Version() int64 { return t.version }

// CreatedAt returns the creation timestamp.
func (t *Trip) CreatedAt() time.Time { return t.createdAt }

// UpdatedAt returns the last-updated timestamp.
func (t *Trip) UpdatedAt() time.Time { return t.updatedAt }

// --- Behavior ---

// ReplaceRoutePlan swaps the expected route, used when monitoring restarts
// with a fresh route for the same trip.
func (t *Trip) ReplaceRoutePlan(plan RoutePlan) error {
	if plan.WaypointCount == 0 {
		return domain.NewValidationError("route plan must contain at least one waypoint")
	}
	t.routePlan = plan
	t.updatedAt = time.Now().UTC()
	return nil
}

// RecordPosition updates the last known position of the runner.
func (t *Trip) RecordPosition(fix geo.Coordinate, seenAt time.Time) {
	lat, lng := fix.Lat, fix.Lng
	if seenAt.IsZero() {
		seenAt = time.Now().UTC()
	}
	t.lastKnownLat = &lat
	t.lastKnownLng = &lng
	t.lastSeenAt = &seenAt
	t.updatedAt = time.Now().UTC()
}

// RecordDeviation notes one fired alert and the position that triggered it.
func (t *Trip) RecordDeviation(fix geo.Coordinate, detectedAt time.Time) {
	t.deviationAlerts++
	t.RecordPosition(fix, detectedAt)
}

// Complete transitions the trip from active to completed.
func (t *Trip) Complete(endedAt time.Time) error {
	if !t.status.CanTransitionTo(StatusCompleted) {
		return domain.NewInvalidStateError(string(t.status), string(StatusCompleted))
	}
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}
	t.status = StatusCompleted
	t.endedAt = &endedAt
	t.updatedAt = time.Now().UTC()
	return nil
}

// Cancel transitions the trip from active to cancelled.
func (t *Trip) Cancel(endedAt time.Time) error {
	if !t.status.CanTransitionTo(StatusCancelled) {
		return domain.NewInvalidStateError(string(t.status), string(StatusCancelled))
	}
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}
	t.status = StatusCancelled
	t.endedAt = &endedAt
	t.updatedAt = time.Now().UTC()
	return nil
}

// IncrementVersion bumps the version for optimistic locking.
func (t *Trip) IncrementVersion() {
	t.version++
	t.updatedAt = time.Now().UTC()
}
