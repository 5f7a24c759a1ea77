package domain

import "math"

const (
	earthRadiusM = 6371000.0

	// KmPerDegreeLat is the approximate length of one degree of latitude.
	KmPerDegreeLat = 111.0
)

// LatLng is a WGS84 coordinate in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies on the globe.
func (p LatLng) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Bounds is an axis-aligned box given by its south-west and north-east corners.
type Bounds struct {
	SouthWest LatLng `json:"southWest"`
	NorthEast LatLng `json:"northEast"`
}

// Contains reports whether p lies inside or on the edge of b.
func (b Bounds) Contains(p LatLng) bool {
	return p.Lat >= b.SouthWest.Lat && p.Lat <= b.NorthEast.Lat &&
		p.Lng >= b.SouthWest.Lng && p.Lng <= b.NorthEast.Lng
}

// Center returns the midpoint of the box.
func (b Bounds) Center() LatLng {
	return LatLng{
		Lat: (b.SouthWest.Lat + b.NorthEast.Lat) / 2,
		Lng: (b.SouthWest.Lng + b.NorthEast.Lng) / 2,
	}
}

// Expand grows the box by the given distance in kilometers on every side.
func (b Bounds) Expand(km float64) Bounds {
	dLat := km / KmPerDegreeLat
	dLng := km / KmPerDegreeLng(b.Center().Lat)
	return Bounds{
		SouthWest: LatLng{Lat: b.SouthWest.Lat - dLat, Lng: b.SouthWest.Lng - dLng},
		NorthEast: LatLng{Lat: b.NorthEast.Lat + dLat, Lng: b.NorthEast.Lng + dLng},
	}
}

// Ring returns the closed counter-clockwise ring of the box corners.
func (b Bounds) Ring() []LatLng {
	sw, ne := b.SouthWest, b.NorthEast
	return []LatLng{
		sw,
		{Lat: sw.Lat, Lng: ne.Lng},
		ne,
		{Lat: ne.Lat, Lng: sw.Lng},
		sw,
	}
}

// BoundsOf returns the bounding box of a set of points.
func BoundsOf(points []LatLng) Bounds {
	if len(points) == 0 {
		return Bounds{}
	}
	b := Bounds{SouthWest: points[0], NorthEast: points[0]}
	for _, p := range points[1:] {
		b.SouthWest.Lat = math.Min(b.SouthWest.Lat, p.Lat)
		b.SouthWest.Lng = math.Min(b.SouthWest.Lng, p.Lng)
		b.NorthEast.Lat = math.Max(b.NorthEast.Lat, p.Lat)
		b.NorthEast.Lng = math.Max(b.NorthEast.Lng, p.Lng)
	}
	return b
}

// KmPerDegreeLng is the length of one degree of longitude at the given latitude.
func KmPerDegreeLng(lat float64) float64 {
	return KmPerDegreeLat * math.Cos(lat*math.Pi/180)
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b LatLng) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// DistanceToSegment returns the distance in meters from p to the closest point
// of segment ab. The closest point is found on a local equirectangular plane
// centered at p; the distance to it is then measured with Haversine.
func DistanceToSegment(p, a, b LatLng) float64 {
	kx := KmPerDegreeLng(p.Lat)
	ky := KmPerDegreeLat

	ax, ay := (a.Lng-p.Lng)*kx, (a.Lat-p.Lat)*ky
	bx, by := (b.Lng-p.Lng)*kx, (b.Lat-p.Lat)*ky
	dx, dy := bx-ax, by-ay

	t := 0.0
	if l2 := dx*dx + dy*dy; l2 > 0 {
		t = -(ax*dx + ay*dy) / l2
		t = math.Max(0, math.Min(1, t))
	}
	closest := LatLng{
		Lat: a.Lat + t*(b.Lat-a.Lat),
		Lng: a.Lng + t*(b.Lng-a.Lng),
	}
	return Haversine(p, closest)
}

// DistanceToPath returns the distance in meters from p to the nearest vertex
// or edge of path. A single-point path is treated as a point. It returns
// +Inf for an empty path.
func DistanceToPath(p LatLng, path []LatLng) float64 {
	switch len(path) {
	case 0:
		return math.Inf(1)
	case 1:
		return Haversine(p, path[0])
	}
	best := math.Inf(1)
	for i := 1; i < len(path); i++ {
		best = math.Min(best, DistanceToSegment(p, path[i-1], path[i]))
	}
	return best
}

// PointInPolygon reports whether p lies inside ring using ray casting on the
// (lng, lat) plane. The ring may be open or closed.
func PointInPolygon(p LatLng, ring []LatLng) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := ring[i], ring[j]
		if (pi.Lat > p.Lat) != (pj.Lat > p.Lat) {
			x := (pj.Lng-pi.Lng)*(p.Lat-pi.Lat)/(pj.Lat-pi.Lat) + pi.Lng
			if p.Lng < x {
				inside = !inside
			}
		}
	}
	return inside
}

// CloseRing returns ring with its first vertex repeated at the end if needed.
func CloseRing(ring []LatLng) []LatLng {
	if len(ring) == 0 || ring[0] == ring[len(ring)-1] {
		return ring
	}
	out := make([]LatLng, len(ring), len(ring)+1)
	copy(out, ring)
	return append(out, ring[0])
}
