package geo

import (
	"math"

	"github.com/jacobbs10/responder-dispatch/internal/models"
)

const earthRadiusMeters = 6371000.0

// Distance returns the haversine distance between two points in meters.
func Distance(a, b models.Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// PathLength returns the total length of a path in meters, summed over its
// segments.
func PathLength(p models.Path) float64 {
	var total float64
	for i := 1; i < len(p); i++ {
		total += Distance(p[i-1], p[i])
	}
	return total
}

// PointAlong returns the point at fraction*PathLength(p) along the path,
// parameterized by arc length over the segments rather than by vertex index.
// Vertex spacing on provider routes is non-uniform, so per-vertex
// interpolation would drift; both the total and the per-segment lengths use
// the same haversine metric. The fraction is clamped to [0, 1]; at 1 the
// exact last vertex is returned.
func PointAlong(p models.Path, fraction float64) models.Point {
	if len(p) == 0 {
		return models.Point{}
	}
	if fraction <= 0 || len(p) == 1 {
		return p[0]
	}
	if fraction >= 1 {
		return p[len(p)-1]
	}

	target := fraction * PathLength(p)
	var covered float64
	for i := 1; i < len(p); i++ {
		seg := Distance(p[i-1], p[i])
		if covered+seg >= target {
			if seg == 0 {
				return p[i]
			}
			t := (target - covered) / seg
			return models.Point{
				Latitude:  p[i-1].Latitude + (p[i].Latitude-p[i-1].Latitude)*t,
				Longitude: p[i-1].Longitude + (p[i].Longitude-p[i-1].Longitude)*t,
			}
		}
		covered += seg
	}
	return p[len(p)-1]
}
