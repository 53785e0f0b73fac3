package application

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swiftride/service-tracking/internal/domain"
	"github.com/swiftride/service-tracking/internal/domain/geo"
	"github.com/swiftride/service-tracking/internal/domain/tracking"
	"github.com/swiftride/service-tracking/internal/domain/trip"
	"github.com/swiftride/service-tracking/internal/events"
)

type mockTripRepo struct {
	trips       map[uuid.UUID]*trip.Trip
	saveFn      func(ctx context.Context, t *trip.Trip) error
	updateFn    func(ctx context.Context, t *trip.Trip) error
	saveCalls   int
	updateCalls int
}

var _ trip.Repository = (*mockTripRepo)(nil)

func newMockTripRepo() *mockTripRepo {
	return &mockTripRepo{trips: make(map[uuid.UUID]*trip.Trip)}
}

func (m *mockTripRepo) FindByID(_ context.Context, id uuid.UUID) (*trip.Trip, error) {
	t, ok := m.trips[id]
	if !ok {
		return nil, domain.NewNotFoundError("Trip", id.String())
	}
	return t, nil
}

func (m *mockTripRepo) ListAll(_ context.Context, page, limit int) ([]*trip.Trip, int64, error) {
	out := make([]*trip.Trip, 0, len(m.trips))
	for _, t := range m.trips {
		out = append(out, t)
	}
	return out, int64(len(out)), nil
}

func (m *mockTripRepo) CountByStatus(_ context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, t := range m.trips {
		counts[string(t.Status())]++
	}
	return counts, nil
}

func (m *mockTripRepo) Save(ctx context.Context, t *trip.Trip) error {
	m.saveCalls++
	if m.saveFn != nil {
		return m.saveFn(ctx, t)
	}
	m.trips[t.ID()] = t
	return nil
}

func (m *mockTripRepo) Update(ctx context.Context, t *trip.Trip) error {
	m.updateCalls++
	if m.updateFn != nil {
		return m.updateFn(ctx, t)
	}
	m.trips[t.ID()] = t
	return nil
}

type mockAlertRepo struct {
	saved  []tracking.DeviationAlert
	saveFn func(ctx context.Context, alert tracking.DeviationAlert) error
}

var _ tracking.AlertRepository = (*mockAlertRepo)(nil)

func (m *mockAlertRepo) Save(ctx context.Context, alert tracking.DeviationAlert) error {
	m.saved = append(m.saved, alert)
	if m.saveFn != nil {
		return m.saveFn(ctx, alert)
	}
	return nil
}

func (m *mockAlertRepo) FindByTripID(_ context.Context, tripID uuid.UUID, page, limit int) ([]tracking.DeviationAlert, int64, error) {
	var out []tracking.DeviationAlert
	for _, a := range m.saved {
		if a.TripID == tripID {
			out = append(out, a)
		}
	}
	return out, int64(len(out)), nil
}

func (m *mockAlertRepo) ListAll(_ context.Context, severity tracking.Severity, page, limit int) ([]tracking.DeviationAlert, int64, error) {
	var out []tracking.DeviationAlert
	for _, a := range m.saved {
		if severity == "" || a.Severity == severity {
			out = append(out, a)
		}
	}
	return out, int64(len(out)), nil
}

func (m *mockAlertRepo) CountBySeverity(_ context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, a := range m.saved {
		counts[string(a.Severity)]++
	}
	return counts, nil
}

type mockSink struct {
	delivered []tracking.DeviationAlert
	deliverFn func(ctx context.Context, alert tracking.DeviationAlert) error
}

var _ tracking.AlertSink = (*mockSink)(nil)

func (m *mockSink) Deliver(ctx context.Context, alert tracking.DeviationAlert) error {
	m.delivered = append(m.delivered, alert)
	if m.deliverFn != nil {
		return m.deliverFn(ctx, alert)
	}
	return nil
}

type serviceFixture struct {
	service  *TrackingService
	registry *tracking.Registry
	trips    *mockTripRepo
	alerts   *mockAlertRepo
	sink     *mockSink
}

func newFixture() *serviceFixture {
	f := &serviceFixture{
		registry: tracking.NewRegistry(tracking.DefaultThresholds()),
		trips:    newMockTripRepo(),
		alerts:   &mockAlertRepo{},
		sink:     &mockSink{},
	}
	f.service = NewTrackingService(f.registry, f.trips, f.alerts, f.sink, zap.NewNop())
	return f
}

// equatorPolyline encodes a route along the equator from lng 0 to lng 1.
func equatorPolyline(t *testing.T) string {
	t.Helper()
	return geo.EncodePolyline(geo.Route{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}})
}

func tripStartedEvent(t *testing.T, tripID uuid.UUID) events.TripStartedEvent {
	t.Helper()
	return events.TripStartedEvent{
		TripID:        tripID,
		TripNumber:    "TRP-20260823-0001",
		OwnerID:       uuid.New(),
		RunnerID:      uuid.New(),
		PickupLat:     0,
		PickupLng:     0,
		DropoffLat:    0,
		DropoffLng:    1,
		RoutePolyline: equatorPolyline(t),
		StartedAt:     time.Now().UTC(),
		OccurredAt:    time.Now().UTC(),
	}
}

// offRouteFixAt mirrors the perpendicular-offset geometry used by the
// domain tests: a fix this many meters north of the equatorial route.
func offRouteFixAt(meters float64) geo.Coordinate {
	return geo.Coordinate{Lat: meters / (2 * math.Pi * geo.EarthRadiusMeters / 360), Lng: 0.5}
}

func TestHandleTripStarted_StartsSessionAndSavesProjection(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	evt := tripStartedEvent(t, tripID)

	require.NoError(t, f.service.HandleTripStarted(context.Background(), evt))

	status, ok := f.registry.Status(tripID)
	require.True(t, ok)
	assert.Equal(t, 2, status.RoutePoints)

	saved, err := f.trips.FindByID(context.Background(), tripID)
	require.NoError(t, err)
	assert.Equal(t, evt.RunnerID, saved.RunnerID())
	assert.Equal(t, trip.StatusActive, saved.Status())
	require.NotNil(t, saved.OwnerID())
	assert.Equal(t, evt.OwnerID, *saved.OwnerID())
	assert.Equal(t, 1, f.trips.saveCalls)
}

func TestHandleTripStarted_BadPolylineIsValidationError(t *testing.T) {
	f := newFixture()
	evt := tripStartedEvent(t, uuid.New())
	evt.RoutePolyline = "_p~iF~ps|U_ul"

	err := f.service.HandleTripStarted(context.Background(), evt)
	var validationErr *domain.ValidationError
	assert.ErrorAs(t, err, &validationErr)
	assert.Equal(t, 0, f.registry.Count())
}

func TestHandleTripStarted_EmptyPolylineFallsBackToEndpoints(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	evt := tripStartedEvent(t, tripID)
	evt.RoutePolyline = ""
	evt.DropoffLat = 1
	evt.DropoffLng = 1

	require.NoError(t, f.service.HandleTripStarted(context.Background(), evt))

	status, ok := f.registry.Status(tripID)
	require.True(t, ok)
	assert.Equal(t, 2, status.RoutePoints)
}

func TestHandleTripStarted_RedeliveryReplacesSession(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	evt := tripStartedEvent(t, tripID)

	require.NoError(t, f.service.HandleTripStarted(context.Background(), evt))
	require.NoError(t, f.service.HandleTripStarted(context.Background(), evt))

	assert.Equal(t, 1, f.registry.Count())
	assert.Equal(t, 1, f.trips.saveCalls)
	assert.GreaterOrEqual(t, f.trips.updateCalls, 1)
}

func TestHandleTripCompleted_StopsSessionAndClosesProjection(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	evt := tripStartedEvent(t, tripID)
	require.NoError(t, f.service.HandleTripStarted(context.Background(), evt))

	completed := events.TripCompletedEvent{
		TripID:      tripID,
		TripNumber:  evt.TripNumber,
		RunnerID:    evt.RunnerID,
		CompletedAt: time.Now().UTC(),
		OccurredAt:  time.Now().UTC(),
	}
	require.NoError(t, f.service.HandleTripCompleted(context.Background(), completed))

	assert.Equal(t, 0, f.registry.Count())

	saved, err := f.trips.FindByID(context.Background(), tripID)
	require.NoError(t, err)
	assert.Equal(t, trip.StatusCompleted, saved.Status())

	// Fixes after completion are ignored.
	alert, err := f.service.RecordLocation(context.Background(), tripID, offRouteFixAt(5000), time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestHandleTripCompleted_UnknownTripIsNoop(t *testing.T) {
	f := newFixture()
	err := f.service.HandleTripCompleted(context.Background(), events.TripCompletedEvent{TripID: uuid.New()})
	assert.NoError(t, err)
}

func TestHandleTripCompleted_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	require.NoError(t, f.service.HandleTripStarted(context.Background(), tripStartedEvent(t, tripID)))

	completed := events.TripCompletedEvent{TripID: tripID, CompletedAt: time.Now().UTC()}
	require.NoError(t, f.service.HandleTripCompleted(context.Background(), completed))
	require.NoError(t, f.service.HandleTripCompleted(context.Background(), completed))
}

func TestHandleTripCancelled_StopsSession(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	require.NoError(t, f.service.HandleTripStarted(context.Background(), tripStartedEvent(t, tripID)))

	cancelled := events.TripCancelledEvent{
		TripID:      tripID,
		CancelledBy: uuid.New(),
		Reason:      "owner cancelled",
		OccurredAt:  time.Now().UTC(),
	}
	require.NoError(t, f.service.HandleTripCancelled(context.Background(), cancelled))

	assert.Equal(t, 0, f.registry.Count())
	saved, err := f.trips.FindByID(context.Background(), tripID)
	require.NoError(t, err)
	assert.Equal(t, trip.StatusCancelled, saved.Status())
}

func TestRecordLocation_FiresAlertAfterThreeOffRouteFixes(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	require.NoError(t, f.service.HandleTripStarted(context.Background(), tripStartedEvent(t, tripID)))

	fix := offRouteFixAt(2000)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		alert, err := f.service.RecordLocation(ctx, tripID, fix, time.Now().UTC())
		require.NoError(t, err)
		assert.Nil(t, alert)
	}

	alert, err := f.service.RecordLocation(ctx, tripID, fix, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, tracking.SeveritySignificant, alert.Severity)

	// The callback persisted, projected and dispatched before returning.
	require.Len(t, f.alerts.saved, 1)
	assert.Equal(t, alert.ID, f.alerts.saved[0].ID)
	require.Len(t, f.sink.delivered, 1)

	saved, err := f.trips.FindByID(ctx, tripID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.DeviationAlerts())
	require.NotNil(t, saved.LastKnownLat())
	assert.Equal(t, fix.Lat, *saved.LastKnownLat())
}

func TestRecordLocation_InvalidCoordinate(t *testing.T) {
	f := newFixture()

	_, err := f.service.RecordLocation(context.Background(), uuid.New(), geo.Coordinate{Lat: 91, Lng: 0}, time.Now().UTC())
	var validationErr *domain.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestRecordLocation_UnmonitoredTripReturnsNil(t *testing.T) {
	f := newFixture()

	alert, err := f.service.RecordLocation(context.Background(), uuid.New(), offRouteFixAt(5000), time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestRecordLocation_SideEffectFailuresDoNotDropAlert(t *testing.T) {
	f := newFixture()
	f.alerts.saveFn = func(context.Context, tracking.DeviationAlert) error {
		return errors.New("db down")
	}
	f.sink.deliverFn = func(context.Context, tracking.DeviationAlert) error {
		return errors.New("queue full")
	}

	tripID := uuid.New()
	require.NoError(t, f.service.HandleTripStarted(context.Background(), tripStartedEvent(t, tripID)))

	fix := offRouteFixAt(2000)
	f.service.RecordLocation(context.Background(), tripID, fix, time.Now().UTC())
	f.service.RecordLocation(context.Background(), tripID, fix, time.Now().UTC())
	alert, err := f.service.RecordLocation(context.Background(), tripID, fix, time.Now().UTC())

	require.NoError(t, err)
	assert.NotNil(t, alert)
}

func TestStartTripMonitoring_FromWaypoints(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	runnerID := uuid.New()

	status, err := f.service.StartTripMonitoring(context.Background(), tripID, runnerID, StartMonitoringRequest{
		Waypoints: []CoordinateDTO{
			{Latitude: 0, Longitude: 0},
			{Latitude: 0, Longitude: 1},
		},
	})
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, 2, status.RoutePoints)

	saved, err := f.trips.FindByID(context.Background(), tripID)
	require.NoError(t, err)
	assert.Equal(t, runnerID, saved.RunnerID())
	assert.Nil(t, saved.OwnerID())
}

func TestStartTripMonitoring_PolylineTakesPrecedence(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()

	threePoint := geo.EncodePolyline(geo.Route{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.5}, {Lat: 0, Lng: 1}})
	status, err := f.service.StartTripMonitoring(context.Background(), tripID, uuid.New(), StartMonitoringRequest{
		RoutePolyline: threePoint,
		Waypoints:     []CoordinateDTO{{Latitude: 5, Longitude: 5}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, status.RoutePoints)
}

func TestStartTripMonitoring_RouteValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	var validationErr *domain.ValidationError

	_, err := f.service.StartTripMonitoring(ctx, uuid.New(), uuid.New(), StartMonitoringRequest{})
	assert.ErrorAs(t, err, &validationErr)

	_, err = f.service.StartTripMonitoring(ctx, uuid.New(), uuid.New(), StartMonitoringRequest{
		Waypoints: []CoordinateDTO{{Latitude: 95, Longitude: 0}},
	})
	assert.ErrorAs(t, err, &validationErr)

	_, err = f.service.StartTripMonitoring(ctx, uuid.New(), uuid.New(), StartMonitoringRequest{
		RoutePolyline: "not-a-polyline!!",
	})
	assert.ErrorAs(t, err, &validationErr)
}

func TestStartTripMonitoring_RejectsForeignRunner(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	evt := tripStartedEvent(t, tripID)
	require.NoError(t, f.service.HandleTripStarted(context.Background(), evt))

	_, err := f.service.StartTripMonitoring(context.Background(), tripID, uuid.New(), StartMonitoringRequest{
		RoutePolyline: equatorPolyline(t),
	})
	var forbidden *domain.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}

func TestStopTripMonitoring(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	evt := tripStartedEvent(t, tripID)
	require.NoError(t, f.service.HandleTripStarted(context.Background(), evt))

	// A foreign runner cannot stop the session.
	err := f.service.StopTripMonitoring(context.Background(), tripID, uuid.New())
	var forbidden *domain.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
	assert.Equal(t, 1, f.registry.Count())

	// The assigned runner can.
	require.NoError(t, f.service.StopTripMonitoring(context.Background(), tripID, evt.RunnerID))
	assert.Equal(t, 0, f.registry.Count())
}

func TestForceStopMonitoring(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	require.NoError(t, f.service.HandleTripStarted(context.Background(), tripStartedEvent(t, tripID)))

	f.service.ForceStopMonitoring(context.Background(), tripID)
	assert.Equal(t, 0, f.registry.Count())
}

func TestRecordRunnerLocation_MapsAlertToDTO(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	evt := tripStartedEvent(t, tripID)
	require.NoError(t, f.service.HandleTripStarted(context.Background(), evt))

	fix := offRouteFixAt(3200)
	req := RecordLocationRequest{Latitude: fix.Lat, Longitude: fix.Lng}

	var result *CheckResultDTO
	var err error
	for i := 0; i < 3; i++ {
		result, err = f.service.RecordRunnerLocation(context.Background(), tripID, evt.RunnerID, req)
		require.NoError(t, err)
	}

	require.NotNil(t, result.Alert)
	assert.Equal(t, tripID, result.Alert.TripID)
	assert.Equal(t, string(tracking.SeverityCritical), result.Alert.Severity)
	assert.Equal(t, 3200, result.Alert.DistanceMeters)
	assert.Equal(t, 2, result.Alert.RoutePoints)
	assert.NotEmpty(t, result.Alert.RoutePolyline)
}

func TestRecordRunnerLocation_RejectsForeignRunner(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	require.NoError(t, f.service.HandleTripStarted(context.Background(), tripStartedEvent(t, tripID)))

	_, err := f.service.RecordRunnerLocation(context.Background(), tripID, uuid.New(), RecordLocationRequest{Latitude: 0, Longitude: 0.5})
	var forbidden *domain.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}

func TestGetMonitoringStatus(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	evt := tripStartedEvent(t, tripID)
	require.NoError(t, f.service.HandleTripStarted(context.Background(), evt))

	status, err := f.service.GetMonitoringStatus(context.Background(), tripID)
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, "active", status.TripStatus)
	require.NotNil(t, status.StartedAt)

	// After completion the projection still answers, inactive.
	require.NoError(t, f.service.HandleTripCompleted(context.Background(), events.TripCompletedEvent{TripID: tripID, CompletedAt: time.Now().UTC()}))

	status, err = f.service.GetMonitoringStatus(context.Background(), tripID)
	require.NoError(t, err)
	assert.False(t, status.Active)
	assert.Equal(t, "completed", status.TripStatus)

	// A trip never seen anywhere is not found.
	_, err = f.service.GetMonitoringStatus(context.Background(), uuid.New())
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestGetTripAlerts(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	require.NoError(t, f.service.HandleTripStarted(context.Background(), tripStartedEvent(t, tripID)))

	fix := offRouteFixAt(2000)
	for i := 0; i < 4; i++ {
		f.service.RecordLocation(context.Background(), tripID, fix, time.Now().UTC())
	}

	result, err := f.service.GetTripAlerts(context.Background(), tripID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Total)
	require.Len(t, result.Items, 2)
	assert.Equal(t, tripID, result.Items[0].TripID)
}

func TestListAllAlerts_SeverityFilter(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	require.NoError(t, f.service.HandleTripStarted(context.Background(), tripStartedEvent(t, tripID)))

	critical := offRouteFixAt(5000)
	for i := 0; i < 3; i++ {
		f.service.RecordLocation(context.Background(), tripID, critical, time.Now().UTC())
	}

	alerts, total, err := f.service.ListAllAlerts(context.Background(), "critical", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, alerts, 1)

	_, total, err = f.service.ListAllAlerts(context.Background(), "minor", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	_, _, err = f.service.ListAllAlerts(context.Background(), "bogus", 1, 20)
	var validationErr *domain.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestGetAlertStats(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	require.NoError(t, f.service.HandleTripStarted(context.Background(), tripStartedEvent(t, tripID)))

	fix := offRouteFixAt(2000)
	for i := 0; i < 3; i++ {
		f.service.RecordLocation(context.Background(), tripID, fix, time.Now().UTC())
	}

	stats, err := f.service.GetAlertStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalAlerts)
	assert.Equal(t, int64(1), stats.BySeverity["significant"])
	assert.Equal(t, 1, stats.ActiveSessions)
}

func TestGetTrip(t *testing.T) {
	f := newFixture()
	tripID := uuid.New()
	evt := tripStartedEvent(t, tripID)
	require.NoError(t, f.service.HandleTripStarted(context.Background(), evt))

	dto, err := f.service.GetTrip(context.Background(), tripID)
	require.NoError(t, err)
	assert.Equal(t, tripID, dto.ID)
	assert.Equal(t, evt.TripNumber, dto.TripNumber)
	assert.Equal(t, "active", dto.Status)
	assert.Equal(t, 2, dto.RoutePlan.WaypointCount)

	_, err = f.service.GetTrip(context.Background(), uuid.New())
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
