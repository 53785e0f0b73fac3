package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swiftride/service-tracking/internal/domain"
	"github.com/swiftride/service-tracking/internal/domain/geo"
	"github.com/swiftride/service-tracking/internal/domain/tracking"
	"github.com/swiftride/service-tracking/internal/domain/trip"
	"github.com/swiftride/service-tracking/internal/events"
)

// alertHandleTimeout bounds the persistence and dispatch work done for a
// single fired alert.
const alertHandleTimeout = 5 * time.Second

// CoordinateDTO is a request/response representation of a waypoint.
type CoordinateDTO struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// StartMonitoringRequest holds the route for a new monitoring session.
// Either the encoded polyline or the explicit waypoint list must be set;
// the polyline wins when both are present.
type StartMonitoringRequest struct {
	RoutePolyline string          `json:"route_polyline"`
	Waypoints     []CoordinateDTO `json:"waypoints"`
}

// RecordLocationRequest holds a single location fix from the runner app.
type RecordLocationRequest struct {
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	RecordedAt *time.Time `json:"recorded_at"`
}

// AlertDTO is the response representation of a deviation alert.
type AlertDTO struct {
	ID             uuid.UUID `json:"id"`
	TripID         uuid.UUID `json:"trip_id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	DistanceMeters int       `json:"distance_meters"`
	Severity       string    `json:"severity"`
	RoutePolyline  string    `json:"route_polyline"`
	RoutePoints    int       `json:"route_points"`
	DetectedAt     time.Time `json:"detected_at"`
}

// CheckResultDTO is the response to a location fix check. Alert is null
// while the runner is considered on-route.
type CheckResultDTO struct {
	TripID uuid.UUID `json:"trip_id"`
	Alert  *AlertDTO `json:"alert"`
}

// MonitoringStatusDTO describes the monitoring state of a trip.
type MonitoringStatusDTO struct {
	TripID        uuid.UUID  `json:"trip_id"`
	Active        bool       `json:"active"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	RoutePoints   int        `json:"route_points,omitempty"`
	OffRouteCount int        `json:"off_route_count"`
	TripStatus    string     `json:"trip_status,omitempty"`
}

// TripDTO is the response representation of a trip projection.
type TripDTO struct {
	ID              uuid.UUID      `json:"id"`
	TripNumber      string         `json:"trip_number"`
	OwnerID         *uuid.UUID     `json:"owner_id,omitempty"`
	RunnerID        uuid.UUID      `json:"runner_id"`
	Status          string         `json:"status"`
	RoutePlan       trip.RoutePlan `json:"route_plan"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
	LastKnownLat    *float64       `json:"last_known_lat,omitempty"`
	LastKnownLng    *float64       `json:"last_known_lng,omitempty"`
	LastSeenAt      *time.Time     `json:"last_seen_at,omitempty"`
	DeviationAlerts int64          `json:"deviation_alerts"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// AlertStatsDTO holds alert statistics for the admin dashboard.
type AlertStatsDTO struct {
	TotalAlerts    int64            `json:"total_alerts"`
	BySeverity     map[string]int64 `json:"by_severity"`
	ActiveSessions int              `json:"active_sessions"`
}

// TrackingService is the application service orchestrating route deviation
// monitoring, from session lifecycle through alert persistence and dispatch.
type TrackingService struct {
	registry *tracking.Registry
	trips    trip.Repository
	alerts   tracking.AlertRepository
	sink     tracking.AlertSink
	logger   *zap.Logger
}

// NewTrackingService creates a new TrackingService.
func NewTrackingService(
	registry *tracking.Registry,
	trips trip.Repository,
	alerts tracking.AlertRepository,
	sink tracking.AlertSink,
	logger *zap.Logger,
) *TrackingService {
	return &TrackingService{
		registry: registry,
		trips:    trips,
		alerts:   alerts,
		sink:     sink,
		logger:   logger,
	}
}

// --- Event-driven lifecycle ---

// HandleTripStarted starts a monitoring session for a freshly started trip
// and upserts the local trip projection. Duplicate delivery replaces the
// session, which is safe.
func (s *TrackingService) HandleTripStarted(ctx context.Context, evt events.TripStartedEvent) error {
	route, err := geo.DecodePolyline(evt.RoutePolyline)
	if err != nil {
		return domain.NewValidationError(fmt.Sprintf("trip %s carries an undecodable route polyline: %v", evt.TripID, err))
	}
	if len(route) == 0 {
		s.logger.Warn("trip started without a route polyline, falling back to pickup-dropoff line",
			zap.String("trip_id", evt.TripID.String()),
		)
		route = geo.Route{
			{Lat: evt.PickupLat, Lng: evt.PickupLng},
			{Lat: evt.DropoffLat, Lng: evt.DropoffLng},
		}
	}

	if err := s.registry.Start(evt.TripID, route, s.deviationCallback()); err != nil {
		return err
	}

	ownerID := optionalID(evt.OwnerID)
	if err := s.upsertTrip(ctx, evt.TripID, evt.TripNumber, ownerID, evt.RunnerID, route, evt.StartedAt); err != nil {
		return err
	}

	s.logger.Info("monitoring started",
		zap.String("trip_id", evt.TripID.String()),
		zap.Int("route_points", len(route)),
	)
	return nil
}

// HandleTripCompleted stops the trip's session and closes the projection.
func (s *TrackingService) HandleTripCompleted(ctx context.Context, evt events.TripCompletedEvent) error {
	return s.endTrip(ctx, evt.TripID, func(t *trip.Trip) error {
		return t.Complete(evt.CompletedAt)
	})
}

// HandleTripCancelled stops the trip's session and closes the projection.
func (s *TrackingService) HandleTripCancelled(ctx context.Context, evt events.TripCancelledEvent) error {
	return s.endTrip(ctx, evt.TripID, func(t *trip.Trip) error {
		return t.Cancel(evt.OccurredAt)
	})
}

func (s *TrackingService) endTrip(ctx context.Context, tripID uuid.UUID, end func(*trip.Trip) error) error {
	s.registry.Stop(tripID)
	s.logger.Info("monitoring stopped", zap.String("trip_id", tripID.String()))

	t, err := s.trips.FindByID(ctx, tripID)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}

	if err := end(t); err != nil {
		// Terminal already, e.g. a redelivered lifecycle event.
		var invalidState *domain.InvalidStateError
		if errors.As(err, &invalidState) {
			s.logger.Debug("trip already ended", zap.String("trip_id", tripID.String()))
			return nil
		}
		return err
	}

	t.IncrementVersion()
	return s.trips.Update(ctx, t)
}

// --- Runner HTTP lifecycle ---

// StartTripMonitoring starts or replaces a monitoring session from a route
// supplied by the runner app, creating the trip projection if the trip
// lifecycle event never arrived.
func (s *TrackingService) StartTripMonitoring(ctx context.Context, tripID, runnerID uuid.UUID, req StartMonitoringRequest) (*MonitoringStatusDTO, error) {
	route, err := resolveRoute(req)
	if err != nil {
		return nil, err
	}

	if err := s.authorizeRunner(ctx, tripID, runnerID); err != nil {
		return nil, err
	}

	if err := s.registry.Start(tripID, route, s.deviationCallback()); err != nil {
		return nil, err
	}

	if err := s.upsertTrip(ctx, tripID, "", nil, runnerID, route, time.Now().UTC()); err != nil {
		return nil, err
	}

	s.logger.Info("monitoring started by runner",
		zap.String("trip_id", tripID.String()),
		zap.String("runner_id", runnerID.String()),
		zap.Int("route_points", len(route)),
	)
	return s.GetMonitoringStatus(ctx, tripID)
}

// StopTripMonitoring stops the runner's session for the trip. Stopping a
// trip that is not monitored is a no-op.
func (s *TrackingService) StopTripMonitoring(ctx context.Context, tripID, runnerID uuid.UUID) error {
	if err := s.authorizeRunner(ctx, tripID, runnerID); err != nil {
		return err
	}
	s.registry.Stop(tripID)
	s.logger.Info("monitoring stopped by runner",
		zap.String("trip_id", tripID.String()),
		zap.String("runner_id", runnerID.String()),
	)
	return nil
}

// ForceStopMonitoring stops a session without ownership checks (admin).
func (s *TrackingService) ForceStopMonitoring(ctx context.Context, tripID uuid.UUID) {
	s.registry.Stop(tripID)
	s.logger.Info("monitoring force-stopped", zap.String("trip_id", tripID.String()))
}

// RecordRunnerLocation checks a fix posted by the runner app.
func (s *TrackingService) RecordRunnerLocation(ctx context.Context, tripID, runnerID uuid.UUID, req RecordLocationRequest) (*CheckResultDTO, error) {
	if err := s.authorizeRunner(ctx, tripID, runnerID); err != nil {
		return nil, err
	}

	recordedAt := time.Now().UTC()
	if req.RecordedAt != nil {
		recordedAt = req.RecordedAt.UTC()
	}
	alert, err := s.RecordLocation(ctx, tripID, geo.Coordinate{Lat: req.Latitude, Lng: req.Longitude}, recordedAt)
	if err != nil {
		return nil, err
	}

	result := &CheckResultDTO{TripID: tripID}
	if alert != nil {
		dto := toAlertDTO(*alert)
		result.Alert = &dto
	}
	return result, nil
}

// --- Core check path ---

// RecordLocation evaluates one location fix against the trip's session.
// The returned alert is nil while the runner is on-route, the off-route
// streak is below the alert threshold, or the trip is not monitored.
// Persistence and dispatch of a fired alert happen inline via the session
// callback before this method returns.
func (s *TrackingService) RecordLocation(ctx context.Context, tripID uuid.UUID, fix geo.Coordinate, recordedAt time.Time) (*tracking.DeviationAlert, error) {
	if !fix.IsValid() {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid coordinate: lat=%v lng=%v", fix.Lat, fix.Lng))
	}

	alert := s.registry.CheckLocation(tripID, fix)
	if alert == nil {
		s.logger.Debug("location fix checked",
			zap.String("trip_id", tripID.String()),
			zap.Float64("lat", fix.Lat),
			zap.Float64("lng", fix.Lng),
			zap.Time("recorded_at", recordedAt),
		)
	}
	return alert, nil
}

// --- Queries ---

// GetMonitoringStatus returns the monitoring state of a trip, falling back
// to the projection when no session is active.
func (s *TrackingService) GetMonitoringStatus(ctx context.Context, tripID uuid.UUID) (*MonitoringStatusDTO, error) {
	dto := &MonitoringStatusDTO{TripID: tripID}

	if st, ok := s.registry.Status(tripID); ok {
		startedAt := st.StartedAt
		dto.Active = true
		dto.StartedAt = &startedAt
		dto.RoutePoints = st.RoutePoints
		dto.OffRouteCount = st.OffRouteCount
	}

	t, err := s.trips.FindByID(ctx, tripID)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			if dto.Active {
				return dto, nil
			}
			return nil, err
		}
		return nil, err
	}
	dto.TripStatus = string(t.Status())
	return dto, nil
}

// GetTrip retrieves a single trip projection by ID.
func (s *TrackingService) GetTrip(ctx context.Context, tripID uuid.UUID) (*TripDTO, error) {
	t, err := s.trips.FindByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	dto := toTripDTO(t)
	return &dto, nil
}

// ListTrips returns a paginated list of all trip projections (admin).
func (s *TrackingService) ListTrips(ctx context.Context, page, limit int) ([]TripDTO, int64, error) {
	trips, total, err := s.trips.ListAll(ctx, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list trips: %w", err)
	}

	dtos := make([]TripDTO, len(trips))
	for i, t := range trips {
		dtos[i] = toTripDTO(t)
	}
	return dtos, total, nil
}

// GetTripAlerts retrieves the paginated alert history of a trip.
func (s *TrackingService) GetTripAlerts(ctx context.Context, tripID uuid.UUID, page, limit int) (*domain.PaginatedResult[AlertDTO], error) {
	alerts, total, err := s.alerts.FindByTripID(ctx, tripID, page, limit)
	if err != nil {
		return nil, err
	}

	dtos := make([]AlertDTO, len(alerts))
	for i, a := range alerts {
		dtos[i] = toAlertDTO(a)
	}

	result := domain.NewPaginatedResult(dtos, total, page, limit)
	return &result, nil
}

// ListAllAlerts returns a paginated list of alerts across all trips,
// optionally filtered by severity (admin).
func (s *TrackingService) ListAllAlerts(ctx context.Context, severityFilter string, page, limit int) ([]AlertDTO, int64, error) {
	var severity tracking.Severity
	if severityFilter != "" {
		parsed, err := tracking.ParseSeverity(severityFilter)
		if err != nil {
			return nil, 0, domain.NewValidationError(err.Error())
		}
		severity = parsed
	}

	alerts, total, err := s.alerts.ListAll(ctx, severity, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}

	dtos := make([]AlertDTO, len(alerts))
	for i, a := range alerts {
		dtos[i] = toAlertDTO(a)
	}
	return dtos, total, nil
}

// GetAlertStats returns aggregate alert statistics (admin).
func (s *TrackingService) GetAlertStats(ctx context.Context) (*AlertStatsDTO, error) {
	counts, err := s.alerts.CountBySeverity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get alert stats: %w", err)
	}

	var total int64
	for _, c := range counts {
		total += c
	}

	return &AlertStatsDTO{
		TotalAlerts:    total,
		BySeverity:     counts,
		ActiveSessions: s.registry.Count(),
	}, nil
}

// ListActiveSessions returns snapshots of every running session (admin).
func (s *TrackingService) ListActiveSessions() []tracking.SessionStatus {
	return s.registry.ActiveSessions()
}

// --- Alert handling ---

// deviationCallback builds the AlertFunc given to every session. It runs
// inline within CheckLocation under alertHandleTimeout, so everything here
// must stay fast.
func (s *TrackingService) deviationCallback() tracking.AlertFunc {
	return func(alert tracking.DeviationAlert) {
		ctx, cancel := context.WithTimeout(context.Background(), alertHandleTimeout)
		defer cancel()

		s.logger.Warn("route deviation detected",
			zap.String("trip_id", alert.TripID.String()),
			zap.String("alert_id", alert.ID.String()),
			zap.Int("distance_meters", alert.DistanceMeters),
			zap.String("severity", string(alert.Severity)),
		)

		if err := s.alerts.Save(ctx, alert); err != nil {
			s.logger.Error("failed to persist deviation alert",
				zap.String("alert_id", alert.ID.String()),
				zap.Error(err),
			)
		}

		s.recordDeviationOnTrip(ctx, alert)

		if err := s.sink.Deliver(ctx, alert); err != nil {
			s.logger.Error("failed to dispatch deviation alert",
				zap.String("alert_id", alert.ID.String()),
				zap.Error(err),
			)
		}
	}
}

func (s *TrackingService) recordDeviationOnTrip(ctx context.Context, alert tracking.DeviationAlert) {
	t, err := s.trips.FindByID(ctx, alert.TripID)
	if err != nil {
		s.logger.Debug("no trip projection for alert",
			zap.String("trip_id", alert.TripID.String()),
			zap.Error(err),
		)
		return
	}

	t.RecordDeviation(alert.Location, alert.DetectedAt)
	t.IncrementVersion()
	if err := s.trips.Update(ctx, t); err != nil {
		s.logger.Warn("failed to update trip projection after alert",
			zap.String("trip_id", alert.TripID.String()),
			zap.Error(err),
		)
	}
}

// --- Helpers ---

func (s *TrackingService) upsertTrip(ctx context.Context, tripID uuid.UUID, tripNumber string, ownerID *uuid.UUID, runnerID uuid.UUID, route geo.Route, startedAt time.Time) error {
	plan := trip.NewRoutePlan(route)

	existing, err := s.trips.FindByID(ctx, tripID)
	if err != nil {
		var notFound *domain.NotFoundError
		if !errors.As(err, &notFound) {
			return err
		}

		t, err := trip.NewTrip(tripID, tripNumber, ownerID, runnerID, plan, startedAt)
		if err != nil {
			return err
		}
		return s.trips.Save(ctx, t)
	}

	if err := existing.ReplaceRoutePlan(plan); err != nil {
		return err
	}
	existing.IncrementVersion()
	return s.trips.Update(ctx, existing)
}

// authorizeRunner rejects runner actions on trips assigned to someone else.
// Trips without a projection are allowed through: the runner may be starting
// monitoring before the lifecycle event has been consumed.
func (s *TrackingService) authorizeRunner(ctx context.Context, tripID, runnerID uuid.UUID) error {
	t, err := s.trips.FindByID(ctx, tripID)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	if t.RunnerID() != runnerID {
		return domain.NewForbiddenError("trip is assigned to a different runner")
	}
	return nil
}

func resolveRoute(req StartMonitoringRequest) (geo.Route, error) {
	if req.RoutePolyline != "" {
		route, err := geo.DecodePolyline(req.RoutePolyline)
		if err != nil {
			return nil, domain.NewValidationError(err.Error())
		}
		if len(route) == 0 {
			return nil, domain.NewValidationError("route polyline decodes to an empty route")
		}
		return route, nil
	}

	if len(req.Waypoints) == 0 {
		return nil, domain.NewValidationError("route is required: provide route_polyline or waypoints")
	}

	route := make(geo.Route, len(req.Waypoints))
	for i, w := range req.Waypoints {
		c := geo.Coordinate{Lat: w.Latitude, Lng: w.Longitude}
		if !c.IsValid() {
			return nil, domain.NewValidationError(fmt.Sprintf("invalid waypoint at index %d: lat=%v lng=%v", i, w.Latitude, w.Longitude))
		}
		route[i] = c
	}
	return route, nil
}

func toAlertDTO(alert tracking.DeviationAlert) AlertDTO {
	return AlertDTO{
		ID:             alert.ID,
		TripID:         alert.TripID,
		Latitude:       alert.Location.Lat,
		Longitude:      alert.Location.Lng,
		DistanceMeters: alert.DistanceMeters,
		Severity:       string(alert.Severity),
		RoutePolyline:  geo.EncodePolyline(alert.ExpectedRoute),
		RoutePoints:    len(alert.ExpectedRoute),
		DetectedAt:     alert.DetectedAt,
	}
}

func toTripDTO(t *trip.Trip) TripDTO {
	return TripDTO{
		ID:              t.ID(),
		TripNumber:      t.TripNumber(),
		OwnerID:         t.OwnerID(),
		RunnerID:        t.RunnerID(),
		Status:          string(t.Status()),
		RoutePlan:       t.RoutePlan(),
		StartedAt:       t.StartedAt(),
		EndedAt:         t.EndedAt(),
		LastKnownLat:    t.LastKnownLat(),
		LastKnownLng:    t.LastKnownLng(),
		LastSeenAt:      t.LastSeenAt(),
		DeviationAlerts: t.DeviationAlerts(),
		Version:         t.Version(),
		CreatedAt:       t.CreatedAt(),
		UpdatedAt:       t.UpdatedAt(),
	}
}

func optionalID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
