package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swiftride/service-tracking/internal/domain/geo"
	"github.com/swiftride/service-tracking/internal/domain/tracking"
)

// DeviationAlertModel is the GORM model for the deviation_alerts table.
type DeviationAlertModel struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TripID         uuid.UUID       `gorm:"type:uuid;index;not null"`
	Latitude       float64         `gorm:"not null"`
	Longitude      float64         `gorm:"not null"`
	DistanceMeters int             `gorm:"not null"`
	Severity       string          `gorm:"not null;size:20;index"`
	ExpectedRoute  json.RawMessage `gorm:"type:jsonb;not null"`
	DetectedAt     time.Time       `gorm:"not null;index"`
	CreatedAt      time.Time       `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (DeviationAlertModel) TableName() string {
	return "deviation_alerts"
}

// GormAlertRepository is the GORM-based implementation of
// tracking.AlertRepository.
type GormAlertRepository struct {
	db *gorm.DB
}

// NewGormAlertRepository creates a new GormAlertRepository.
func NewGormAlertRepository(db *gorm.DB) *GormAlertRepository {
	return &GormAlertRepository{db: db}
}

// Save persists a fired alert.
func (r *GormAlertRepository) Save(ctx context.Context, alert tracking.DeviationAlert) error {
	model, err := toAlertModel(alert)
	if err != nil {
		return fmt.Errorf("failed to convert alert to model: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// FindByTripID retrieves alerts for a trip, newest first, with pagination.
func (r *GormAlertRepository) FindByTripID(ctx context.Context, tripID uuid.UUID, page, limit int) ([]tracking.DeviationAlert, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&DeviationAlertModel{}).Where("trip_id = ?", tripID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count trip alerts: %w", err)
	}

	var models []DeviationAlertModel
	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).
		Where("trip_id = ?", tripID).
		Order("detected_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find trip alerts: %w", err)
	}

	alerts, err := toDomainAlerts(models)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

// ListAll retrieves alerts across all trips with pagination, optionally
// filtered by severity.
func (r *GormAlertRepository) ListAll(ctx context.Context, severity tracking.Severity, page, limit int) ([]tracking.DeviationAlert, int64, error) {
	query := r.db.WithContext(ctx).Model(&DeviationAlertModel{})
	if severity != "" {
		query = query.Where("severity = ?", string(severity))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	var models []DeviationAlertModel
	offset := (page - 1) * limit
	if err := query.
		Order("detected_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}

	alerts, err := toDomainAlerts(models)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

// CountBySeverity returns alert counts grouped by severity.
func (r *GormAlertRepository) CountBySeverity(ctx context.Context) (map[string]int64, error) {
	type severityCount struct {
		Severity string
		Count    int64
	}
	var results []severityCount
	if err := r.db.WithContext(ctx).Model(&DeviationAlertModel{}).
		Select("severity, count(*) as count").
		Group("severity").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to count by severity: %w", err)
	}

	counts := make(map[string]int64)
	for _, sc := range results {
		counts[sc.Severity] = sc.Count
	}
	return counts, nil
}

// --- Conversion Helpers ---

func toAlertModel(alert tracking.DeviationAlert) (*DeviationAlertModel, error) {
	routeJSON, err := json.Marshal(alert.ExpectedRoute)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal expected route: %w", err)
	}

	return &DeviationAlertModel{
		ID:             alert.ID,
		TripID:         alert.TripID,
		Latitude:       alert.Location.Lat,
		Longitude:      alert.Location.Lng,
		DistanceMeters: alert.DistanceMeters,
		Severity:       string(alert.Severity),
		ExpectedRoute:  routeJSON,
		DetectedAt:     alert.DetectedAt,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func toDomainAlert(m *DeviationAlertModel) (tracking.DeviationAlert, error) {
	var route geo.Route
	if err := json.Unmarshal(m.ExpectedRoute, &route); err != nil {
		return tracking.DeviationAlert{}, fmt.Errorf("failed to unmarshal expected route: %w", err)
	}

	severity, err := tracking.ParseSeverity(m.Severity)
	if err != nil {
		return tracking.DeviationAlert{}, err
	}

	return tracking.DeviationAlert{
		ID:             m.ID,
		TripID:         m.TripID,
		Location:       geo.Coordinate{Lat: m.Latitude, Lng: m.Longitude},
		ExpectedRoute:  route,
		DistanceMeters: m.DistanceMeters,
		Severity:       severity,
		DetectedAt:     m.DetectedAt,
	}, nil
}

func toDomainAlerts(models []DeviationAlertModel) ([]tracking.DeviationAlert, error) {
	alerts := make([]tracking.DeviationAlert, len(models))
	for i, m := range models {
		alert, err := toDomainAlert(&m)
		if err != nil {
			return nil, err
		}
		alerts[i] = alert
	}
	return alerts, nil
}
