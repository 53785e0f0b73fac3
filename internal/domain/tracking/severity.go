package tracking

import "fmt"

// Severity grades a deviation alert by how far the runner is off the
// expected route. The grades are ordered: minor < significant < critical.
type Severity string

const (
	SeverityMinor       Severity = "minor"
	SeveritySignificant Severity = "significant"
	SeverityCritical    Severity = "critical"
)

// severityRank orders the grades for escalation comparisons.
var severityRank = map[Severity]int{
	SeverityMinor:       1,
	SeveritySignificant: 2,
	SeverityCritical:    3,
}

// IsValid returns true if the severity is a recognized grade.
func (s Severity) IsValid() bool {
	_, exists := severityRank[s]
	return exists
}

// Rank returns the numeric order of the grade, higher meaning more severe.
func (s Severity) Rank() int {
	return severityRank[s]
}

// EscalatesOver returns true if this grade is strictly more severe than other.
func (s Severity) EscalatesOver(other Severity) bool {
	return s.Rank() > other.Rank()
}

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// ParseSeverity converts a string to a Severity, returning an error if invalid.
func ParseSeverity(s string) (Severity, error) {
	severity := Severity(s)
	if !severity.IsValid() {
		return "", fmt.Errorf("invalid severity: %s", s)
	}
	return severity, nil
}

// Default deviation thresholds. The minor threshold doubles as the off-route
// boundary: fixes closer than it to the route reset the consecutive counter.
const (
	DefaultMinorThresholdMeters       = 500.0
	DefaultSignificantThresholdMeters = 1500.0
	DefaultCriticalThresholdMeters    = 3000.0
	DefaultAlertAfterCount            = 3
)

// Thresholds holds the tunable deviation engine parameters.
type Thresholds struct {
	// MinorMeters is the distance at which a fix counts as off-route.
	MinorMeters float64
	// SignificantMeters and CriticalMeters grade alert severity.
	SignificantMeters float64
	CriticalMeters    float64
	// AlertAfterCount is how many consecutive off-route fixes must be seen
	// before the first alert fires.
	AlertAfterCount int
}

// DefaultThresholds returns the platform default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinorMeters:       DefaultMinorThresholdMeters,
		SignificantMeters: DefaultSignificantThresholdMeters,
		CriticalMeters:    DefaultCriticalThresholdMeters,
		AlertAfterCount:   DefaultAlertAfterCount,
	}
}

// Classify grades a deviation distance. It is a pure function of the
// distance value; the consecutive-fix count never influences the grade.
func (t Thresholds) Classify(distanceMeters float64) Severity {
	switch {
	case distanceMeters >= t.CriticalMeters:
		return SeverityCritical
	case distanceMeters >= t.SignificantMeters:
		return SeveritySignificant
	default:
		return SeverityMinor
	}
}
