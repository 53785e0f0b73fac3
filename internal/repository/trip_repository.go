package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swiftride/service-tracking/internal/domain"
	"github.com/swiftride/service-tracking/internal/domain/trip"
)

// TripModel is the GORM model for the trips table.
type TripModel struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TripNumber      string          `gorm:"size:20;index"`
	OwnerID         *uuid.UUID      `gorm:"type:uuid;index"`
	RunnerID        uuid.UUID       `gorm:"type:uuid;index;not null"`
	Status          string          `gorm:"not null;size:20;index"`
	RoutePlan       json.RawMessage `gorm:"type:jsonb;not null"`
	StartedAt       time.Time       `gorm:"not null"`
	EndedAt         *time.Time      `gorm:""`
	LastKnownLat    *float64        `gorm:""`
	LastKnownLng    *float64        `gorm:""`
	LastSeenAt      *time.Time      `gorm:""`
	DeviationAlerts int64           `gorm:"not null;default:0"`
	Version         int64           `gorm:"not null;default:1"`
	CreatedAt       time.Time       `gorm:"not null"`
	UpdatedAt       time.Time       `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (TripModel) TableName() string {
	return "trips"
}

// GormTripRepository is the GORM-based implementation of trip.Repository.
type GormTripRepository struct {
	db *gorm.DB
}

// NewGormTripRepository creates a new GormTripRepository.
func NewGormTripRepository(db *gorm.DB) *GormTripRepository {
	return &GormTripRepository{db: db}
}

// FindByID retrieves a trip by its unique identifier.
func (r *GormTripRepository) FindByID(ctx context.Context, id uuid.UUID) (*trip.Trip, error) {
	var model TripModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Trip", id.String())
		}
		return nil, fmt.Errorf("failed to find trip by ID: %w", err)
	}
	return toDomainTrip(&model)
}

// ListAll retrieves all trips with pagination, newest first (admin).
func (r *GormTripRepository) ListAll(ctx context.Context, page, limit int) ([]*trip.Trip, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&TripModel{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count trips: %w", err)
	}

	var models []TripModel
	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list trips: %w", err)
	}

	trips := make([]*trip.Trip, len(models))
	for i, m := range models {
		t, err := toDomainTrip(&m)
		if err != nil {
			return nil, 0, err
		}
		trips[i] = t
	}

	return trips, total, nil
}

// CountByStatus returns trip counts grouped by status (admin).
func (r *GormTripRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var results []statusCount
	if err := r.db.WithContext(ctx).Model(&TripModel{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}

	counts := make(map[string]int64)
	for _, sc := range results {
		counts[sc.Status] = sc.Count
	}
	return counts, nil
}

// Save persists a new trip projection.
func (r *GormTripRepository) Save(ctx context.Context, t *trip.Trip) error {
	model, err := toTripModel(t)
	if err != nil {
		return fmt.Errorf("failed to convert trip to model: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to save trip: %w", err)
	}
	return nil
}

// Update persists changes to an existing trip with optimistic locking.
func (r *GormTripRepository) Update(ctx context.Context, t *trip.Trip) error {
	model, err := toTripModel(t)
	if err != nil {
		return fmt.Errorf("failed to convert trip to model: %w", err)
	}

	// Optimistic locking: only update if the version matches (current version - 1 since IncrementVersion was called)
	expectedVersion := t.Version() - 1
	result := r.db.WithContext(ctx).
		Model(&TripModel{}).
		Where("id = ? AND version = ?", model.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":           model.Status,
			"route_plan":       model.RoutePlan,
			"ended_at":         model.EndedAt,
			"last_known_lat":   model.LastKnownLat,
			"last_known_lng":   model.LastKnownLng,
			"last_seen_at":     model.LastSeenAt,
			"deviation_alerts": model.DeviationAlerts,
			"version":          model.Version,
			"updated_at":       model.UpdatedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update trip: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return domain.NewConflictError("trip was modified by another transaction")
	}

	return nil
}

// --- Conversion Helpers ---

func toTripModel(t *trip.Trip) (*TripModel, error) {
	routePlanJSON, err := json.Marshal(t.RoutePlan())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal route plan: %w", err)
	}

	return &TripModel{
		ID:              t.ID(),
		TripNumber:      t.TripNumber(),
		OwnerID:         t.OwnerID(),
		RunnerID:        t.RunnerID(),
		Status:          string(t.Status()),
		RoutePlan:       routePlanJSON,
		StartedAt:       t.StartedAt(),
		EndedAt:         t.EndedAt(),
		LastKnownLat:    t.LastKnownLat(),
		LastKnownLng:    t.LastKnownLng(),
		LastSeenAt:      t.LastSeenAt(),
		DeviationAlerts: t.DeviationAlerts(),
		Version:         t.Version(),
		CreatedAt:       t.CreatedAt(),
		UpdatedAt:       t.UpdatedAt(),
	}, nil
}

func toDomainTrip(m *TripModel) (*trip.Trip, error) {
	var routePlan trip.RoutePlan
	if err := json.Unmarshal(m.RoutePlan, &routePlan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal route plan: %w", err)
	}

	status, err := trip.ParseTripStatus(m.Status)
	if err != nil {
		return nil, err
	}

	return trip.ReconstructTrip(
		m.ID,
		m.TripNumber,
		m.OwnerID,
		m.RunnerID,
		status,
		routePlan,
		m.StartedAt,
		m.EndedAt,
		m.LastKnownLat,
		m.LastKnownLng,
		m.LastSeenAt,
		m.DeviationAlerts,
		m.Version,
		m.CreatedAt,
		m.UpdatedAt,
	), nil
}
