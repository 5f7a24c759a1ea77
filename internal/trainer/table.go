package trainer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
)

// TargetColumn is the label column of the training table.
const TargetColumn = "risk_score"

// ParkColumn groups rows for imputation and cross-validation.
const ParkColumn = "park"

// Row is one labelled training example. Missing lists numeric columns that
// were empty in the source table and still need imputation.
type Row struct {
	Park     string
	Features domain.FeatureVector
	Target   float64
	Missing  []string
}

type numericColumn struct {
	name string
	get  func(*domain.FeatureVector) float64
	set  func(*domain.FeatureVector, float64)
}

func intColumn(name string, p func(*domain.FeatureVector) *int) numericColumn {
	return numericColumn{
		name: name,
		get:  func(f *domain.FeatureVector) float64 { return float64(*p(f)) },
		set:  func(f *domain.FeatureVector, v float64) { *p(f) = int(math.Round(v)) },
	}
}

func floatColumn(name string, p func(*domain.FeatureVector) *float64) numericColumn {
	return numericColumn{
		name: name,
		get:  func(f *domain.FeatureVector) float64 { return *p(f) },
		set:  func(f *domain.FeatureVector, v float64) { *p(f) = v },
	}
}

var numericColumns = []numericColumn{
	floatColumn("ndvi", func(f *domain.FeatureVector) *float64 { return &f.NDVI }),
	floatColumn("dist_to_boundary", func(f *domain.FeatureVector) *float64 { return &f.DistToBoundary }),
	floatColumn("dist_to_water", func(f *domain.FeatureVector) *float64 { return &f.DistToWater }),
	floatColumn("dist_to_road", func(f *domain.FeatureVector) *float64 { return &f.DistToRoad }),
	floatColumn("dist_to_settlement", func(f *domain.FeatureVector) *float64 { return &f.DistToSettlement }),
	intColumn("incidents_5km_radius", func(f *domain.FeatureVector) *int { return &f.Incidents5km }),
	intColumn("days_since_last_incident", func(f *domain.FeatureVector) *int { return &f.DaysSinceLastIncident }),
	floatColumn("seasonal_incident_rate", func(f *domain.FeatureVector) *float64 { return &f.SeasonalIncidentRate }),
	floatColumn("moon_illumination", func(f *domain.FeatureVector) *float64 { return &f.MoonIllumination }),
	intColumn("day_of_week", func(f *domain.FeatureVector) *int { return &f.DayOfWeek }),
	floatColumn("elevation", func(f *domain.FeatureVector) *float64 { return &f.Elevation }),
	floatColumn("slope", func(f *domain.FeatureVector) *float64 { return &f.Slope }),
	floatColumn("terrain_ruggedness", func(f *domain.FeatureVector) *float64 { return &f.TerrainRuggedness }),
	intColumn("migration_route", func(f *domain.FeatureVector) *int { return &f.MigrationRoute }),
	intColumn("breeding_season", func(f *domain.FeatureVector) *int { return &f.BreedingSeason }),
}

// Columns is the header of a training table.
var Columns = func() []string {
	cols := []string{ParkColumn}
	for _, c := range numericColumns {
		cols = append(cols, c.name)
	}
	return append(cols, "vegetation_type", "season", "watering_pattern", TargetColumn)
}()

// ReadTable parses a training table. Empty numeric cells are recorded in
// Row.Missing; an empty vegetation_type is reclassified from ndvi after
// imputation. Any other malformed cell fails the read with its line number.
func ReadTable(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, c := range Columns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row, err := parseRow(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(rec []string, idx map[string]int) (Row, error) {
	row := Row{Park: rec[idx[ParkColumn]]}
	if row.Park == "" {
		row.Park = domain.UnassignedPark
	}
	for _, c := range numericColumns {
		s := rec[idx[c.name]]
		if s == "" {
			row.Missing = append(row.Missing, c.name)
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Row{}, fmt.Errorf("%s: %w", c.name, err)
		}
		c.set(&row.Features, v)
	}

	var err error
	if s := rec[idx["vegetation_type"]]; s != "" {
		if row.Features.VegetationType, err = domain.ParseVegetationType(s); err != nil {
			return Row{}, err
		}
	}
	if row.Features.Season, err = domain.ParseSeason(rec[idx["season"]]); err != nil {
		return Row{}, err
	}
	if row.Features.WateringPattern, err = domain.ParseWateringPattern(rec[idx["watering_pattern"]]); err != nil {
		return Row{}, err
	}
	if row.Target, err = strconv.ParseFloat(rec[idx[TargetColumn]], 64); err != nil {
		return Row{}, fmt.Errorf("%s: %w", TargetColumn, err)
	}
	if row.Target < 0 || row.Target > 100 {
		return Row{}, fmt.Errorf("%s=%v outside [0, 100]", TargetColumn, row.Target)
	}
	return row, nil
}

// WriteTable writes rows with the Columns header. Columns named in
// Row.Missing are written empty.
func WriteTable(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range rows {
		rec := make([]string, 0, len(Columns))
		rec = append(rec, r.Park)
		for _, c := range numericColumns {
			if slices.Contains(r.Missing, c.name) {
				rec = append(rec, "")
				continue
			}
			rec = append(rec, strconv.FormatFloat(c.get(&r.Features), 'f', -1, 64))
		}
		rec = append(rec,
			string(r.Features.VegetationType),
			string(r.Features.Season),
			string(r.Features.WateringPattern),
			strconv.FormatFloat(r.Target, 'f', 2, 64),
		)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Impute fills every missing numeric cell with the median of that column
// within the row's park, or the global median when the park has no values.
// It clears Row.Missing and reclassifies an empty vegetation type.
func Impute(rows []Row) {
	for _, c := range numericColumns {
		global := []float64{}
		byPark := map[string][]float64{}
		for i := range rows {
			if slices.Contains(rows[i].Missing, c.name) {
				continue
			}
			v := c.get(&rows[i].Features)
			global = append(global, v)
			byPark[rows[i].Park] = append(byPark[rows[i].Park], v)
		}
		globalMedian := median(global)
		parkMedian := make(map[string]float64, len(byPark))
		for p, vs := range byPark {
			parkMedian[p] = median(vs)
		}
		for i := range rows {
			if !slices.Contains(rows[i].Missing, c.name) {
				continue
			}
			v, ok := parkMedian[rows[i].Park]
			if !ok {
				v = globalMedian
			}
			c.set(&rows[i].Features, v)
		}
	}
	for i := range rows {
		rows[i].Missing = nil
		if rows[i].Features.VegetationType == "" {
			rows[i].Features.VegetationType = domain.ClassifyVegetation(rows[i].Features.NDVI)
		}
	}
}

func median(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	s := slices.Clone(vs)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// Matrix derives every row and returns the model inputs and targets.
func Matrix(rows []Row) (x [][]float64, y []float64) {
	x = make([][]float64, len(rows))
	y = make([]float64, len(rows))
	for i, r := range rows {
		x[i] = domain.Derive(r.Features).Values()
		y[i] = r.Target
	}
	return x, y
}
