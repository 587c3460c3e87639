// Package geo provides great-circle distance and gate geometry for GPS
// track positions.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean earth radius used for haversine distances.
const EarthRadiusMeters = 6371000.0

// Point is a GPS coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// String formats the point as "lat,lon" with six decimal places, roughly
// 0.1 m of precision at the equator.
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// Haversine returns the great-circle distance in meters between two points.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Bearing returns the initial great-circle bearing in degrees from a to b,
// normalized to [0, 360).
func Bearing(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// Gate is a circular start/finish region on the track. A lap boundary is
// the moment the distance from Center falls below RadiusMeters.
type Gate struct {
	Center       Point   `json:"center"`
	RadiusMeters float64 `json:"radius_meters"`
}

// Contains reports whether p lies inside the gate circle.
func (g Gate) Contains(p Point) bool {
	return Haversine(g.Center, p) <= g.RadiusMeters
}

// Distance returns the distance in meters from p to the gate center.
func (g Gate) Distance(p Point) float64 {
	return Haversine(g.Center, p)
}

// CrossingFraction returns the fraction of the way from d0 to d1 at which
// the distance series crosses radius. Used to interpolate a boundary
// timestamp between two GPS fixes: the first fix is d0 meters from the
// gate center, the next is d1, and the gate edge sits at radius between
// them. Returns 0 when the segment is degenerate (d0 == d1).
func CrossingFraction(d0, d1, radius float64) float64 {
	if d0 == d1 {
		return 0
	}
	f := (d0 - radius) / (d0 - d1)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
