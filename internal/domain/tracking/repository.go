package tracking

import (
	"context"

	"github.com/google/uuid"
)

// AlertRepository defines the persistence contract for the deviation alert
// audit trail.
type AlertRepository interface {
	// Save persists a fired alert.
	Save(ctx context.Context, alert DeviationAlert) error

	// FindByTripID retrieves alerts for a trip, newest first, with pagination.
	FindByTripID(ctx context.Context, tripID uuid.UUID, page, limit int) ([]DeviationAlert, int64, error)

	// ListAll retrieves alerts across all trips with pagination, optionally
	// filtered by severity (empty severity means no filter).
	ListAll(ctx context.Context, severity Severity, page, limit int) ([]DeviationAlert, int64, error)

	// CountBySeverity returns alert counts grouped by severity.
	CountBySeverity(ctx context.Context) (map[string]int64, error)
}
