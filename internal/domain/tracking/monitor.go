package tracking

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/swiftride/service-tracking/internal/domain"
	"github.com/swiftride/service-tracking/internal/domain/geo"
)

// Monitor watches a single trip's location fixes against its expected route
// and raises DeviationAlerts once the runner has been off-route for enough
// consecutive fixes. A Monitor holds at most one active session; all of its
// state lives in process memory and is lost on restart.
//
// A Monitor is not safe for concurrent use. Callers that share one across
// goroutines must serialize access (see Registry).
type Monitor struct {
	thresholds Thresholds

	tripID      uuid.UUID
	route       geo.Route
	onDeviation AlertFunc
	startedAt   time.Time
	active      bool

	// offRouteCount is the number of consecutive fixes at or beyond the
	// minor threshold. It is reset by an on-route fix or a restart, never
	// by an alert firing.
	offRouteCount int
}

// NewMonitor creates an idle Monitor with the given thresholds.
func NewMonitor(thresholds Thresholds) *Monitor {
	return &Monitor{thresholds: thresholds}
}

// Start begins monitoring the trip against the expected route. An already
// active session is replaced and its counter discarded. The route is
// snapshotted, so later mutation of the caller's slice has no effect.
func (m *Monitor) Start(tripID uuid.UUID, route geo.Route, onDeviation AlertFunc) error {
	if tripID == uuid.Nil {
		return domain.NewValidationError("trip ID is required")
	}
	if len(route) == 0 {
		return domain.NewValidationError(fmt.Sprintf("cannot monitor trip %s with an empty route", tripID))
	}

	m.tripID = tripID
	m.route = route.Clone()
	m.onDeviation = onDeviation
	m.startedAt = time.Now().UTC()
	m.active = true
	m.offRouteCount = 0
	return nil
}

// Stop ends the session. Stopping an idle monitor is a no-op.
func (m *Monitor) Stop() {
	m.tripID = uuid.Nil
	m.route = nil
	m.onDeviation = nil
	m.active = false
	m.offRouteCount = 0
}

// CheckLocation evaluates one location fix. It returns nil while the runner
// is on-route or the off-route streak is still below the alert threshold,
// and a DeviationAlert otherwise. The alert callback, when set, is invoked
// synchronously before CheckLocation returns. Checks on an idle monitor
// always return nil.
func (m *Monitor) CheckLocation(fix geo.Coordinate) *DeviationAlert {
	if !m.active {
		return nil
	}

	distance := geo.DistanceToRoute(fix, m.route)
	if distance < m.thresholds.MinorMeters {
		m.offRouteCount = 0
		return nil
	}

	m.offRouteCount++
	if m.offRouteCount < m.thresholds.AlertAfterCount {
		return nil
	}

	alert := DeviationAlert{
		ID:             uuid.New(),
		TripID:         m.tripID,
		Location:       fix,
		ExpectedRoute:  m.route,
		DistanceMeters: int(math.Round(distance)),
		Severity:       m.thresholds.Classify(distance),
		DetectedAt:     time.Now().UTC(),
	}

	if m.onDeviation != nil {
		m.onDeviation(alert)
	}
	return &alert
}

// Active reports whether a session is running.
func (m *Monitor) Active() bool { return m.active }

// TripID returns the monitored trip, or uuid.Nil when idle.
func (m *Monitor) TripID() uuid.UUID { return m.tripID }

// Route returns the session's route snapshot.
func (m *Monitor) Route() geo.Route { return m.route }

// OffRouteCount returns the current consecutive off-route fix count.
func (m *Monitor) OffRouteCount() int { return m.offRouteCount }

// StartedAt returns when the session started.
func (m *Monitor) StartedAt() time.Time { return m.startedAt }
