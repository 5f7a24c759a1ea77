// Package overpass reads reference geometries (water, roads, settlements)
// from an OpenStreetMap Overpass API endpoint.
package overpass

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/serjvanilla/go-overpass"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/features"
)

const queryTemplate = `[out:json][timeout:%d];
(
	way["highway"~"^(trunk|primary|secondary|tertiary|unclassified|track)$"](%[2]s);
	way["waterway"~"^(river|stream|canal)$"](%[2]s);
	way["natural"="water"](%[2]s);
	node["natural"="spring"](%[2]s);
	node["place"~"^(city|town|village|hamlet)$"](%[2]s);
);
out body;
>;
out skel qt;`

// Source implements features.ReferenceSource using the Overpass API.
type Source struct {
	endpoint string
	timeout  time.Duration
	base     http.RoundTripper
	logger   *slog.Logger
}

// NewSource creates an Overpass reference source. timeout bounds each query.
func NewSource(endpoint string, timeout time.Duration, logger *slog.Logger) *Source {
	return &Source{
		endpoint: endpoint,
		timeout:  timeout,
		base:     http.DefaultTransport,
		logger:   logger,
	}
}

// References queries the reference layers intersecting bounds.
func (s *Source) References(ctx context.Context, bounds domain.Bounds) (features.ReferenceSet, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// The Overpass client has no context parameter; the transport carries it.
	httpClient := &http.Client{Transport: contextTransport{ctx: ctx, base: s.base}}
	client := overpass.NewWithSettings(s.endpoint, 1, httpClient)

	result, err := client.Query(Query(bounds, s.timeout))
	if err != nil {
		if ctx.Err() != nil {
			return features.ReferenceSet{}, fmt.Errorf("overpass query: %w", ctx.Err())
		}
		return features.ReferenceSet{}, fmt.Errorf("overpass query: %w", err)
	}

	set := Classify(&result)
	s.logger.Debug("overpass references loaded",
		"water", len(set.Water),
		"roads", len(set.Roads),
		"settlements", len(set.Settlements),
	)
	return set, nil
}

// Query builds the Overpass QL for bounds.
func Query(bounds domain.Bounds, timeout time.Duration) string {
	bbox := fmt.Sprintf("%.6f,%.6f,%.6f,%.6f",
		bounds.SouthWest.Lat, bounds.SouthWest.Lng, bounds.NorthEast.Lat, bounds.NorthEast.Lng)
	return fmt.Sprintf(queryTemplate, max(1, int(timeout.Seconds())), bbox)
}

// Classify sorts Overpass elements into reference layers. Elements are
// visited in ID order so the result does not depend on map iteration.
func Classify(result *overpass.Result) features.ReferenceSet {
	var set features.ReferenceSet

	ways := make([]*overpass.Way, 0, len(result.Ways))
	for _, w := range result.Ways {
		ways = append(ways, w)
	}
	slices.SortFunc(ways, func(a, b *overpass.Way) int { return cmp.Compare(a.ID, b.ID) })
	for _, w := range ways {
		path := wayPath(w)
		if len(path) == 0 {
			continue
		}
		switch {
		case w.Tags["highway"] != "":
			set.Roads = append(set.Roads, path)
		case w.Tags["waterway"] != "", w.Tags["natural"] == "water":
			set.Water = append(set.Water, path)
		}
	}

	nodes := make([]*overpass.Node, 0, len(result.Nodes))
	for _, n := range result.Nodes {
		if len(n.Tags) > 0 {
			nodes = append(nodes, n)
		}
	}
	slices.SortFunc(nodes, func(a, b *overpass.Node) int { return cmp.Compare(a.ID, b.ID) })
	for _, n := range nodes {
		p := features.Path{{Lat: n.Lat, Lng: n.Lon}}
		switch {
		case n.Tags["natural"] == "spring":
			set.Water = append(set.Water, p)
		case isSettlement(n.Tags["place"]):
			set.Settlements = append(set.Settlements, p)
		}
	}
	return set
}

func isSettlement(place string) bool {
	switch strings.ToLower(place) {
	case "city", "town", "village", "hamlet":
		return true
	}
	return false
}

// wayPath returns the vertices of w that were resolved by the recursion.
func wayPath(w *overpass.Way) features.Path {
	path := make(features.Path, 0, len(w.Nodes))
	for _, n := range w.Nodes {
		if n == nil || (n.Lat == 0 && n.Lon == 0) {
			continue
		}
		path = append(path, domain.LatLng{Lat: n.Lat, Lng: n.Lon})
	}
	return path
}

type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
