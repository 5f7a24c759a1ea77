package incidents

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
)

// Columns is the header of an incident CSV file.
var Columns = []string{"date", "lat", "lng", "species", "threat_type", "severity"}

// ReadCSV parses incident records. Rows that fail to parse are logged and
// skipped; a missing column fails the whole read.
func ReadCSV(r io.Reader, logger *slog.Logger) ([]domain.IncidentRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range Columns {
		if _, ok := col[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}

	var (
		records []domain.IncidentRecord
		skipped int
	)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := parseRow(row, col)
		if err != nil {
			logger.Warn("skipping incident row", "line", line, "error", err)
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if skipped > 0 {
		logger.Warn("incident rows skipped", "skipped", skipped, "loaded", len(records))
	}
	return records, nil
}

func parseRow(row []string, col map[string]int) (domain.IncidentRecord, error) {
	get := func(name string) string { return strings.TrimSpace(row[col[name]]) }

	date, err := time.Parse(time.DateOnly, get("date"))
	if err != nil {
		return domain.IncidentRecord{}, fmt.Errorf("date: %w", err)
	}
	lat, err := strconv.ParseFloat(get("lat"), 64)
	if err != nil {
		return domain.IncidentRecord{}, fmt.Errorf("lat: %w", err)
	}
	lng, err := strconv.ParseFloat(get("lng"), 64)
	if err != nil {
		return domain.IncidentRecord{}, fmt.Errorf("lng: %w", err)
	}
	loc := domain.LatLng{Lat: lat, Lng: lng}
	if !loc.Valid() {
		return domain.IncidentRecord{}, fmt.Errorf("invalid location %v", loc)
	}
	threat, err := domain.ParseThreatType(get("threat_type"))
	if err != nil {
		return domain.IncidentRecord{}, err
	}
	severity, err := strconv.Atoi(get("severity"))
	if err != nil {
		return domain.IncidentRecord{}, fmt.Errorf("severity: %w", err)
	}

	return domain.IncidentRecord{
		Date:       date,
		Location:   loc,
		Species:    strings.ToLower(get("species")),
		ThreatType: threat,
		Severity:   severity,
	}, nil
}

// WriteCSV writes records in the format ReadCSV accepts.
func WriteCSV(w io.Writer, records []domain.IncidentRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range records {
		err := cw.Write([]string{
			r.Date.Format(time.DateOnly),
			strconv.FormatFloat(r.Location.Lat, 'f', 5, 64),
			strconv.FormatFloat(r.Location.Lng, 'f', 5, 64),
			r.Species,
			string(r.ThreatType),
			strconv.Itoa(r.Severity),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadFile reads an incident CSV from disk and builds an index over it.
func LoadFile(path string, logger *slog.Logger) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open incidents: %w", err)
	}
	defer f.Close()

	records, err := ReadCSV(f, logger)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return NewIndex(records), nil
}
