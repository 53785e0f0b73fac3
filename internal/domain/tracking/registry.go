package tracking

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swiftride/service-tracking/internal/domain/geo"
)

// SessionStatus is a point-in-time snapshot of one monitoring session.
type SessionStatus struct {
	TripID        uuid.UUID `json:"trip_id"`
	StartedAt     time.Time `json:"started_at"`
	RoutePoints   int       `json:"route_points"`
	OffRouteCount int       `json:"off_route_count"`
}

// Registry owns one Monitor per actively monitored trip. A single mutex
// serializes every operation, so each session keeps the strictly sequential
// fix processing the engine requires while many trips are tracked at once.
type Registry struct {
	mu         sync.Mutex
	thresholds Thresholds
	sessions   map[uuid.UUID]*Monitor
}

// NewRegistry creates an empty Registry using the given thresholds for
// every session it starts.
func NewRegistry(thresholds Thresholds) *Registry {
	return &Registry{
		thresholds: thresholds,
		sessions:   make(map[uuid.UUID]*Monitor),
	}
}

// Start begins monitoring a trip, replacing any existing session for the
// same trip. It rejects empty routes.
func (r *Registry) Start(tripID uuid.UUID, route geo.Route, onDeviation AlertFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	monitor := NewMonitor(r.thresholds)
	if err := monitor.Start(tripID, route, onDeviation); err != nil {
		return err
	}
	r.sessions[tripID] = monitor
	return nil
}

// Stop ends the trip's session if one exists. Stopping an unknown trip is
// a no-op.
func (r *Registry) Stop(tripID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if monitor, ok := r.sessions[tripID]; ok {
		monitor.Stop()
		delete(r.sessions, tripID)
	}
}

// StopAll ends every session.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for tripID, monitor := range r.sessions {
		monitor.Stop()
		delete(r.sessions, tripID)
	}
}

// CheckLocation evaluates a fix against the trip's session. It returns nil
// when the trip is not being monitored.
func (r *Registry) CheckLocation(tripID uuid.UUID, fix geo.Coordinate) *DeviationAlert {
	r.mu.Lock()
	defer r.mu.Unlock()

	monitor, ok := r.sessions[tripID]
	if !ok {
		return nil
	}
	return monitor.CheckLocation(fix)
}

// Status returns a snapshot of the trip's session, if one exists.
func (r *Registry) Status(tripID uuid.UUID) (SessionStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	monitor, ok := r.sessions[tripID]
	if !ok {
		return SessionStatus{}, false
	}
	return snapshot(monitor), true
}

// ActiveSessions returns snapshots of every running session.
func (r *Registry) ActiveSessions() []SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]SessionStatus, 0, len(r.sessions))
	for _, monitor := range r.sessions {
		statuses = append(statuses, snapshot(monitor))
	}
	return statuses
}

// Count returns the number of running sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func snapshot(m *Monitor) SessionStatus {
	return SessionStatus{
		TripID:        m.TripID(),
		StartedAt:     m.StartedAt(),
		RoutePoints:   len(m.Route()),
		OffRouteCount: m.OffRouteCount(),
	}
}
