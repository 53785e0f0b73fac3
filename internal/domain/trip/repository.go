package trip

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence contract for trip projections.
type Repository interface {
	// FindByID retrieves a trip by its unique identifier.
	FindByID(ctx context.Context, id uuid.UUID) (*Trip, error)

	// ListAll retrieves all trips with pagination, newest first (admin).
	ListAll(ctx context.Context, page, limit int) ([]*Trip, int64, error)

	// CountByStatus returns trip counts grouped by status (admin).
	CountByStatus(ctx context.Context) (map[string]int64, error)

	// Save persists a new trip projection.
	Save(ctx context.Context, trip *Trip) error

	// Update persists changes to an existing trip with optimistic locking.
	Update(ctx context.Context, trip *Trip) error
}
