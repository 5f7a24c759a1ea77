package satellite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/features"
	"github.com/couchcryptid/wildlife-risk-engine/internal/retry"
)

// maxErrorBody caps how much of an error response is copied into the error.
const maxErrorBody = 512

// Client implements features.VegetationSource against an NDVI raster
// service that serves composites for a bounding box and date window.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a satellite NDVI client.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		logger:  logger,
	}
}

// NDVI fetches the composite covering bounds over dr.
func (c *Client) NDVI(ctx context.Context, bounds domain.Bounds, dr domain.DateRange) (features.Raster, error) {
	params := url.Values{
		"bbox":  {bbox(bounds)},
		"start": {dr.Start.Format(time.DateOnly)},
		"end":   {dr.End.Format(time.DateOnly)},
	}
	if c.token != "" {
		params.Set("access_token", c.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ndvi?"+params.Encode(), nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ndvi request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := fmt.Errorf("satellite API error: status %d: %s", resp.StatusCode, body)
		if !retryable(resp.StatusCode) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	raster, err := payload.raster()
	if err != nil {
		return nil, retry.Permanent(err)
	}
	c.logger.Debug("ndvi composite fetched", "rows", len(raster.values), "bbox", bbox(bounds))
	return raster, nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// bbox formats bounds as west,south,east,north.
func bbox(b domain.Bounds) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	return f(b.SouthWest.Lng) + "," + f(b.SouthWest.Lat) + "," + f(b.NorthEast.Lng) + "," + f(b.NorthEast.Lat)
}

// Satellite API response types.

type response struct {
	// BBox is west,south,east,north of the returned grid.
	BBox   [4]float64  `json:"bbox"`
	NoData *float64    `json:"nodata"`
	Values [][]float64 `json:"values"` // row 0 is the northern edge
}

func (r response) raster() (*Raster, error) {
	if len(r.Values) == 0 || len(r.Values[0]) == 0 {
		return nil, errors.New("satellite API returned an empty raster")
	}
	cols := len(r.Values[0])
	for i, row := range r.Values {
		if len(row) != cols {
			return nil, fmt.Errorf("satellite raster row %d has %d columns, want %d", i, len(row), cols)
		}
	}
	b := domain.Bounds{
		SouthWest: domain.LatLng{Lat: r.BBox[1], Lng: r.BBox[0]},
		NorthEast: domain.LatLng{Lat: r.BBox[3], Lng: r.BBox[2]},
	}
	if b.SouthWest.Lat >= b.NorthEast.Lat || b.SouthWest.Lng >= b.NorthEast.Lng {
		return nil, fmt.Errorf("satellite raster bbox %v is empty", r.BBox)
	}
	noData := math.NaN()
	if r.NoData != nil {
		noData = *r.NoData
	}
	return &Raster{bounds: b, values: r.Values, noData: noData}, nil
}

// Raster is a north-up grid of NDVI values.
type Raster struct {
	bounds domain.Bounds
	values [][]float64
	noData float64
}

// NewRaster builds a raster over bounds; values[0] is the northern row.
func NewRaster(bounds domain.Bounds, values [][]float64) *Raster {
	return &Raster{bounds: bounds, values: values, noData: math.NaN()}
}

// Sample returns the value of the pixel containing p.
func (r *Raster) Sample(p domain.LatLng) (float64, bool) {
	if !r.bounds.Contains(p) {
		return 0, false
	}
	rows, cols := len(r.values), len(r.values[0])
	b := r.bounds
	row := int((b.NorthEast.Lat - p.Lat) / (b.NorthEast.Lat - b.SouthWest.Lat) * float64(rows))
	col := int((p.Lng - b.SouthWest.Lng) / (b.NorthEast.Lng - b.SouthWest.Lng) * float64(cols))
	row = min(max(row, 0), rows-1)
	col = min(max(col, 0), cols-1)

	v := r.values[row][col]
	if math.IsNaN(v) || v == r.noData {
		return 0, false
	}
	return v, true
}
