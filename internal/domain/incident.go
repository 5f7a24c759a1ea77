package domain

import "time"

// IncidentRecord is one historical threat incident. Records are immutable.
type IncidentRecord struct {
	Date       time.Time  `json:"date"`
	Location   LatLng     `json:"location"`
	Species    string     `json:"species"`
	ThreatType ThreatType `json:"threat_type"`
	Severity   int        `json:"severity"`
}

// IncidentFilter restricts incident queries. Empty fields match everything.
type IncidentFilter struct {
	Species     string
	ThreatTypes []ThreatType
	// Before excludes incidents on or after this instant when set.
	Before time.Time
}

// Match reports whether r passes the filter.
func (f IncidentFilter) Match(r IncidentRecord) bool {
	if f.Species != "" && r.Species != f.Species {
		return false
	}
	if !f.Before.IsZero() && !r.Date.Before(f.Before) {
		return false
	}
	if len(f.ThreatTypes) == 0 {
		return true
	}
	for _, t := range f.ThreatTypes {
		if r.ThreatType == t {
			return true
		}
	}
	return false
}
