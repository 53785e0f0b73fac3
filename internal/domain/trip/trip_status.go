package trip

import "fmt"

// TripStatus represents the lifecycle state of a monitored trip.
type TripStatus string

const (
	StatusActive    TripStatus = "active"
	StatusCompleted TripStatus = "completed"
	StatusCancelled TripStatus = "cancelled"
)

// validTransitions defines the state machine for trip status transitions.
var validTransitions = map[TripStatus][]TripStatus{
	StatusActive:    {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// IsValid returns true if the status is a recognized trip status.
func (s TripStatus) IsValid() bool {
	_, exists := validTransitions[s]
	return exists
}

// CanTransitionTo returns true if a transition from this status to the target is allowed.
func (s TripStatus) CanTransitionTo(target TripStatus) bool {
	allowed, exists := validTransitions[s]
	if !exists {
		return false
	}
	for _, t := range allowed {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible from this status.
func (s TripStatus) IsTerminal() bool {
	allowed, exists := validTransitions[s]
	if !exists {
		return true
	}
	return len(allowed) == 0
}

// String returns the string representation of the status.
func (s TripStatus) String() string {
	return string(s)
}

// ParseTripStatus converts a string to a TripStatus, returning an error if invalid.
func ParseTripStatus(s string) (TripStatus, error) {
	status := TripStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid trip status: %s", s)
	}
	return status, nil
}
