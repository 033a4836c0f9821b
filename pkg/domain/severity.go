package domain

import "fmt"

// Severity is the fixed ordinal scale for discrepancy severities.
// Ordering: critical > major > medium > minor.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMedium   Severity = "medium"
	SeverityMinor    Severity = "minor"
)

// severityRank maps severities onto the ordinal scale. Higher is more severe.
var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityMajor:    3,
	SeverityMedium:   2,
	SeverityMinor:    1,
}

// ParseSeverity validates and returns a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("unknown severity: %q", s)
	}
	return sev, nil
}

func (s Severity) String() string { return string(s) }

// IsValid reports whether the severity is on the scale.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the ordinal position; zero for unknown severities.
func (s Severity) Rank() int { return severityRank[s] }

// Downgrade reduces severity by exactly one level, flooring at minor.
func (s Severity) Downgrade() Severity {
	switch s {
	case SeverityCritical:
		return SeverityMajor
	case SeverityMajor:
		return SeverityMedium
	case SeverityMedium:
		return SeverityMinor
	default:
		return SeverityMinor
	}
}
