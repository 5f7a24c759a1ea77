// Package features assembles the fixed-schema feature vector of every grid
// cell from the vegetation, terrain, reference-geometry and incident sources.
package features

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/observability"
	"github.com/couchcryptid/wildlife-risk-engine/internal/retry"
)

const (
	incidentRadiusKm = 5.0
	recencyRadiusKm  = 10.0
	// noRecentIncidentDays is used when no incident lies within recencyRadiusKm.
	noRecentIncidentDays = 365
	// referenceMarginKm widens the reference query so cells near the edge of
	// the area still see features just outside it.
	referenceMarginKm = 10.0
	minNDVI           = -0.2
	maxNDVI           = 0.9
	maxSlope          = 60.0
	minElevation      = -500.0
	maxElevation      = 9000.0
	maxRuggedness     = 10.0
)

// Config bounds the assembler's use of external sources.
type Config struct {
	// Concurrency is the maximum number of cells extracted at once.
	Concurrency int
	// RateLimit is the maximum external calls per second; zero disables it.
	RateLimit float64
	// SourceTimeout bounds each attempt of an external call.
	SourceTimeout time.Duration
	Retry         retry.Policy
	// RuggednessRadiusM is the ring radius of the neighbour elevation samples.
	RuggednessRadiusM float64
}

// DefaultConfig matches the service defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       8,
		RateLimit:         20,
		SourceTimeout:     5 * time.Second,
		Retry:             retry.DefaultPolicy,
		RuggednessRadiusM: 250,
	}
}

// Sources groups the external feature sources. Any of them may be nil, in
// which case the features it provides are always imputed.
type Sources struct {
	Vegetation VegetationSource
	Terrain    TerrainSource
	References ReferenceSource
}

// Request is one extraction over the cells of an analysis.
type Request struct {
	Cells       []domain.GridCell
	Area        domain.AreaOfInterest
	DateRange   domain.DateRange
	Species     string
	ThreatTypes []domain.ThreatType
	// Incidents is the index snapshot used for the whole request; nil imputes
	// the historical features.
	Incidents IncidentIndex
	// Progress, if set, is called after each cell from worker goroutines.
	Progress func(done, total int)
}

// Assembler extracts feature vectors. It is safe for concurrent use.
type Assembler struct {
	sources Sources
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewAssembler creates an Assembler. The rate limit is shared by every
// request served by the returned Assembler.
func NewAssembler(sources Sources, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Assembler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = max(1, int(math.Ceil(cfg.RateLimit)))
	}
	if cfg.RuggednessRadiusM <= 0 {
		cfg.RuggednessRadiusM = 250
	}
	return &Assembler{
		sources: sources,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		metrics: metrics,
	}
}

// requestContext is everything shared by the cells of one request.
type requestContext struct {
	req       Request
	raster    Raster
	refs      ReferenceSet
	ring      []domain.LatLng
	species   domain.Species
	season    domain.Season
	moon      float64
	dayOfWeek int
	month     time.Month
	filter    domain.IncidentFilter

	// refsLoaded means the reference source answered, so an empty layer is
	// a real absence within the query window rather than missing data.
	refsLoaded bool
}

// Extract returns one CellFeatures per cell in input order. Missing optional
// context is imputed; the only errors are a missing area of interest, an
// unknown species and cancellation of ctx.
func (a *Assembler) Extract(ctx context.Context, req Request) ([]domain.CellFeatures, error) {
	ring := req.Area.Ring()
	if len(ring) < 4 {
		return nil, domain.NewInputValidationError("area of interest has no geometry")
	}
	if len(req.Cells) == 0 {
		return []domain.CellFeatures{}, nil
	}

	rc := &requestContext{req: req, ring: ring}
	if req.Species != "" {
		sp, ok := domain.LookupSpecies(req.Species)
		if !ok {
			return nil, domain.NewInputValidationError("speciesFilter %q is not supported; use one of %v", req.Species, domain.SpeciesNames())
		}
		rc.species = sp
	}
	mid := req.DateRange.Midpoint()
	rc.month = mid.Month()
	rc.season = domain.SeasonOf(mid.Month())
	rc.moon = domain.MoonIllumination(mid)
	rc.dayOfWeek = domain.WeekdayIndex(req.DateRange.Start.Time)
	rc.filter = domain.IncidentFilter{
		Species:     req.Species,
		ThreatTypes: req.ThreatTypes,
		Before:      req.DateRange.Start.Time,
	}

	if err := a.loadShared(ctx, rc); err != nil {
		return nil, err
	}

	out := make([]domain.CellFeatures, len(req.Cells))
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, cell := range req.Cells {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			cf, err := a.extractCell(gctx, rc, cell)
			if err != nil {
				return err
			}
			out[i] = cf
			if req.Progress != nil {
				req.Progress(int(done.Add(1)), len(req.Cells))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// loadShared fetches the per-request rasters and geometries once.
func (a *Assembler) loadShared(ctx context.Context, rc *requestContext) error {
	bounds := rc.req.Area.Bounds
	if rc.req.Area.HasPolygon() {
		bounds = domain.BoundsOf(rc.ring)
	}
	if a.sources.Vegetation != nil {
		raster, err := call(ctx, a, SourceVegetation, func(ctx context.Context) (Raster, error) {
			return a.sources.Vegetation.NDVI(ctx, bounds, rc.req.DateRange)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("vegetation source unavailable, imputing ndvi", "error", err)
		}
		rc.raster = raster
	}
	if a.sources.References != nil {
		refs, err := call(ctx, a, SourceReference, func(ctx context.Context) (ReferenceSet, error) {
			return a.sources.References.References(ctx, bounds.Expand(referenceMarginKm))
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("reference source unavailable, imputing proximity", "error", err)
		}
		rc.refs = refs
		rc.refsLoaded = err == nil
	}
	return nil
}

func (a *Assembler) extractCell(ctx context.Context, rc *requestContext, cell domain.GridCell) (domain.CellFeatures, error) {
	p := cell.Centroid
	f := domain.DefaultFeatureVector()
	imputed := map[domain.FeatureGroup]int{}

	// Vegetation.
	if v, ok := sampleNDVI(rc.raster, p); ok {
		f.NDVI = v
	} else {
		imputed[domain.GroupVegetation]++
	}
	f.VegetationType = domain.ClassifyVegetation(f.NDVI)

	// Proximity. The boundary is always known.
	f.DistToBoundary = capDistance(domain.DistanceToPath(p, rc.ring))
	for _, layer := range []struct {
		paths []Path
		dst   *float64
	}{
		{rc.refs.Water, &f.DistToWater},
		{rc.refs.Roads, &f.DistToRoad},
		{rc.refs.Settlements, &f.DistToSettlement},
	} {
		if len(layer.paths) == 0 {
			if rc.refsLoaded {
				*layer.dst = domain.MaxDistanceM
			} else {
				imputed[domain.GroupProximity]++
			}
			continue
		}
		*layer.dst = capDistance(nearest(p, layer.paths))
	}

	// Historical context.
	park := domain.ParkOf(p)
	if ix := rc.req.Incidents; ix != nil {
		f.Incidents5km = ix.CountWithin(p, incidentRadiusKm, rc.filter)
		f.DaysSinceLastIncident = noRecentIncidentDays
		if days, ok := ix.DaysSinceNearest(p, recencyRadiusKm, rc.filter.Before, rc.filter); ok {
			f.DaysSinceLastIncident = min(days, noRecentIncidentDays)
		}
		if r, ok := ix.SeasonalRate(park, rc.season); ok {
			f.SeasonalIncidentRate = r
		} else {
			imputed[domain.GroupHistorical]++
		}
	} else {
		imputed[domain.GroupHistorical] += 3
	}

	// Temporal.
	f.MoonIllumination = rc.moon
	f.Season = rc.season
	f.DayOfWeek = rc.dayOfWeek

	// Topographical.
	if a.sources.Terrain != nil {
		n, err := a.terrain(ctx, p, &f)
		if err != nil {
			return domain.CellFeatures{}, err
		}
		imputed[domain.GroupTopographical] += n
	} else {
		imputed[domain.GroupTopographical] += 3
	}

	// Species.
	if rc.species.Name != "" {
		domain.ApplySpecies(&f, rc.species, p, rc.month)
	}

	total := 0
	for g, n := range imputed {
		total += n
		if a.metrics != nil && n > 0 {
			a.metrics.ImputedFeatures.WithLabelValues(string(g)).Add(float64(n))
		}
	}
	return domain.CellFeatures{Cell: cell, Features: f, Imputed: total, Park: park}, nil
}

// terrain fills elevation, slope and ruggedness and returns how many of them
// were imputed. Only cancellation is returned as an error.
func (a *Assembler) terrain(ctx context.Context, p domain.LatLng, f *domain.FeatureVector) (int, error) {
	center, err := call(ctx, a, SourceTerrain, func(ctx context.Context) (TerrainSample, error) {
		return a.sources.Terrain.Terrain(ctx, p)
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		a.logger.Warn("terrain source unavailable, imputing topography", "lat", p.Lat, "lng", p.Lng, "error", err)
		return 3, nil
	}
	if !validTerrain(center) {
		a.logger.Warn("terrain source returned an unusable sample, imputing topography",
			"lat", p.Lat, "lng", p.Lng, "elevation", center.Elevation, "slope", center.Slope)
		return 3, nil
	}
	f.Elevation = center.Elevation
	f.Slope = math.Max(0, math.Min(center.Slope, maxSlope))

	elevations := []float64{center.Elevation}
	for _, q := range neighbours(p, a.cfg.RuggednessRadiusM) {
		s, err := call(ctx, a, SourceTerrain, func(ctx context.Context) (TerrainSample, error) {
			return a.sources.Terrain.Terrain(ctx, q)
		})
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			continue
		}
		if !validTerrain(s) {
			continue
		}
		elevations = append(elevations, s.Elevation)
	}
	if len(elevations) < 3 {
		return 1, nil
	}
	f.TerrainRuggedness = Ruggedness(elevations)
	return 0, nil
}

// Ruggedness is the sample standard deviation of the elevations divided by
// ten, capped at 10.
func Ruggedness(elevations []float64) float64 {
	if len(elevations) < 2 {
		return 0
	}
	return math.Min(stat.StdDev(elevations, nil)/10, maxRuggedness)
}

// neighbours returns eight points on a ring of radiusM around p.
func neighbours(p domain.LatLng, radiusM float64) []domain.LatLng {
	dLat := radiusM / 1000 / domain.KmPerDegreeLat
	dLng := radiusM / 1000 / domain.KmPerDegreeLng(p.Lat)
	out := make([]domain.LatLng, 0, 8)
	for k := range 8 {
		theta := float64(k) * math.Pi / 4
		out = append(out, domain.LatLng{
			Lat: p.Lat + dLat*math.Sin(theta),
			Lng: p.Lng + dLng*math.Cos(theta),
		})
	}
	return out
}

// validTerrain rejects nodata markers and non-finite samples.
func validTerrain(s TerrainSample) bool {
	if math.IsNaN(s.Slope) || math.IsInf(s.Slope, 0) {
		return false
	}
	return s.Elevation >= minElevation && s.Elevation <= maxElevation
}

func sampleNDVI(r Raster, p domain.LatLng) (float64, bool) {
	if r == nil {
		return 0, false
	}
	v, ok := r.Sample(p)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return math.Max(minNDVI, math.Min(v, maxNDVI)), true
}

func nearest(p domain.LatLng, paths []Path) float64 {
	best := math.Inf(1)
	for _, path := range paths {
		best = math.Min(best, domain.DistanceToPath(p, path))
	}
	return best
}

func capDistance(d float64) float64 {
	if math.IsNaN(d) || d > domain.MaxDistanceM {
		return domain.MaxDistanceM
	}
	return d
}

// call runs fn through the rate limiter, a per-attempt timeout and the retry
// policy, recording metrics. Failures are ExternalSourceErrors.
func call[T any](ctx context.Context, a *Assembler, source string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := retry.Do(ctx, a.cfg.Retry, func(ctx context.Context) (T, error) {
		if err := a.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, retry.Permanent(err)
		}
		if a.cfg.SourceTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.cfg.SourceTimeout)
			defer cancel()
		}
		return fn(ctx)
	}, func(attempt int, err error) {
		a.logger.Debug("retrying feature source", "source", source, "attempt", attempt, "error", err)
		if a.metrics != nil {
			a.metrics.SourceRetries.WithLabelValues(source).Inc()
		}
	})

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if a.metrics != nil {
		a.metrics.SourceDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
		a.metrics.SourceRequests.WithLabelValues(source, outcome).Inc()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return v, ctx.Err()
		}
		return v, domain.NewExternalSourceError(source, err)
	}
	return v, nil
}
