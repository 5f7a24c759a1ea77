package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// MaxAreaKm2 caps the area of interest of a single analysis.
const MaxAreaKm2 = 1000.0

// CellSizesKm lists the supported grid granularities.
var CellSizesKm = []int{1, 2, 5}

// AreaType distinguishes named parks from user-drawn areas.
type AreaType string

const (
	AreaPark   AreaType = "park"
	AreaCustom AreaType = "custom"
)

// ThreatType is the kind of illegal activity an incident records.
type ThreatType string

const (
	ThreatPoaching     ThreatType = "poaching"
	ThreatLogging      ThreatType = "logging"
	ThreatFishing      ThreatType = "fishing"
	ThreatEncroachment ThreatType = "encroachment"
)

// ParseThreatType parses the string form of a ThreatType.
func ParseThreatType(s string) (ThreatType, error) {
	switch t := ThreatType(strings.ToLower(strings.TrimSpace(s))); t {
	case ThreatPoaching, ThreatLogging, ThreatFishing, ThreatEncroachment:
		return t, nil
	}
	return "", fmt.Errorf("unknown threat type %q", s)
}

// TimeOfDay is a patrol time bucket used for temporal breakdowns.
type TimeOfDay string

const (
	Dawn  TimeOfDay = "dawn"
	Day   TimeOfDay = "day"
	Dusk  TimeOfDay = "dusk"
	Night TimeOfDay = "night"
)

// TimesOfDay lists every bucket in chronological order.
var TimesOfDay = []TimeOfDay{Dawn, Day, Dusk, Night}

// Date is a calendar date that accepts "2006-01-02" or RFC 3339 in JSON.
type Date struct {
	time.Time
}

// NewDate returns the UTC midnight of the given day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	d.Time = t.UTC()
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(time.DateOnly))
}

// DateRange is an inclusive analysis window.
type DateRange struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Midpoint returns the instant halfway between start and end.
func (r DateRange) Midpoint() time.Time {
	return r.Start.Add(r.End.Sub(r.Start.Time) / 2)
}

// AreaOfInterest is the polygon or box under analysis. Polygon vertices are
// [lat, lng] pairs; when fewer than three are given the bounds are used.
type AreaOfInterest struct {
	Type    AreaType     `json:"type"`
	Polygon [][2]float64 `json:"polygon,omitempty"`
	Bounds  Bounds       `json:"bounds"`
}

// HasPolygon reports whether the area is a polygon rather than a box.
func (a AreaOfInterest) HasPolygon() bool { return len(a.Polygon) >= 3 }

// Ring returns the closed outer ring of the area.
func (a AreaOfInterest) Ring() []LatLng {
	if !a.HasPolygon() {
		return a.Bounds.Ring()
	}
	ring := make([]LatLng, len(a.Polygon))
	for i, v := range a.Polygon {
		ring[i] = LatLng{Lat: v[0], Lng: v[1]}
	}
	return CloseRing(ring)
}

// Key is a stable identifier of the area's geometry, used to match repeated
// analyses of the same area.
func (a AreaOfInterest) Key() string {
	var sb strings.Builder
	for _, p := range a.Ring() {
		fmt.Fprintf(&sb, "%.5f,%.5f;", p.Lat, p.Lng)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// AnalysisRequest is one risk analysis as accepted at the service boundary.
type AnalysisRequest struct {
	AreaOfInterest          AreaOfInterest `json:"areaOfInterest"`
	DateRange               DateRange      `json:"dateRange"`
	SpeciesFilter           string         `json:"speciesFilter,omitempty"`
	ThreatTypes             []ThreatType   `json:"threatTypes,omitempty"`
	TimeOfDay               []TimeOfDay    `json:"timeOfDay,omitempty"`
	GridGranularityKm       int            `json:"gridGranularityKm"`
	DisplayThresholdPercent float64        `json:"displayThresholdPercent"`
}

// Normalize fills derivable defaults in place: bounds from the polygon, the
// area type, lower-cased filters.
func (r *AnalysisRequest) Normalize() {
	aoi := &r.AreaOfInterest
	if aoi.Type == "" {
		aoi.Type = AreaCustom
	}
	if aoi.HasPolygon() && aoi.Bounds == (Bounds{}) {
		aoi.Bounds = BoundsOf(aoi.Ring())
	}
	r.SpeciesFilter = strings.ToLower(strings.TrimSpace(r.SpeciesFilter))
	for i, t := range r.ThreatTypes {
		r.ThreatTypes[i] = ThreatType(strings.ToLower(strings.TrimSpace(string(t))))
	}
}

// Validate rejects a request before any work is done. Every error is an
// input validation error with corrective guidance.
func (r AnalysisRequest) Validate() error {
	aoi := r.AreaOfInterest
	if aoi.Type != AreaPark && aoi.Type != AreaCustom {
		return NewInputValidationError("areaOfInterest.type %q must be \"park\" or \"custom\"", aoi.Type)
	}
	if len(aoi.Polygon) > 0 && len(aoi.Polygon) < 3 {
		return NewInputValidationError("areaOfInterest.polygon needs at least 3 vertices, got %d", len(aoi.Polygon))
	}
	for i, v := range aoi.Polygon {
		if !(LatLng{Lat: v[0], Lng: v[1]}).Valid() {
			return NewInputValidationError("areaOfInterest.polygon[%d] = %v is not a valid [lat, lng]", i, v)
		}
	}
	if aoi.HasPolygon() && distinctVertices(aoi.Ring()) < 3 {
		return NewInputValidationError("areaOfInterest.polygon must have at least 3 distinct vertices")
	}
	b := aoi.Bounds
	if !b.SouthWest.Valid() || !b.NorthEast.Valid() {
		return NewInputValidationError("areaOfInterest.bounds corners must be valid coordinates")
	}
	if b.SouthWest.Lat >= b.NorthEast.Lat || b.SouthWest.Lng >= b.NorthEast.Lng {
		return NewInputValidationError("areaOfInterest.bounds.southWest must lie south-west of northEast")
	}

	dr := r.DateRange
	if dr.Start.IsZero() || dr.End.IsZero() {
		return NewInputValidationError("dateRange.start and dateRange.end are required (YYYY-MM-DD)")
	}
	if dr.End.Before(dr.Start.Time) {
		return NewInputValidationError("dateRange.end %s is before dateRange.start %s",
			dr.End.Format(time.DateOnly), dr.Start.Format(time.DateOnly))
	}

	if !slices.Contains(CellSizesKm, r.GridGranularityKm) {
		return NewInputValidationError("gridGranularityKm must be one of %v, got %d", CellSizesKm, r.GridGranularityKm)
	}
	if r.DisplayThresholdPercent < 0 || r.DisplayThresholdPercent > 100 {
		return NewInputValidationError("displayThresholdPercent must be within [0, 100], got %v", r.DisplayThresholdPercent)
	}
	if r.SpeciesFilter != "" {
		if _, ok := LookupSpecies(r.SpeciesFilter); !ok {
			return NewInputValidationError("speciesFilter %q is not supported; use one of %v", r.SpeciesFilter, SpeciesNames())
		}
	}
	for _, t := range r.ThreatTypes {
		if _, err := ParseThreatType(string(t)); err != nil {
			return NewInputValidationError("threatTypes: %v", err)
		}
	}
	for _, t := range r.TimeOfDay {
		if !slices.Contains(TimesOfDay, t) {
			return NewInputValidationError("timeOfDay %q must be one of %v", t, TimesOfDay)
		}
	}
	return nil
}

func distinctVertices(ring []LatLng) int {
	seen := make(map[LatLng]struct{}, len(ring))
	for _, p := range ring {
		seen[p] = struct{}{}
	}
	return len(seen)
}
