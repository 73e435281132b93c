// Package geo ranks catalog items by great-circle distance from a shopper
// and keeps an R-Tree of seller locations for nearby-seller lookups.
package geo

import (
	"math"

	"github.com/kass/go-mart-connect/pkg/models"
)

const earthRadius = 6371.0 // km

// Distance calculates the Haversine distance between two coordinates in kilometers.
//
// The longitude delta is used as a raw difference; sin² is periodic so a
// pair straddling the antimeridian (179 and -179) comes out 2° apart.
func Distance(a, b models.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180.0
	lat2 := b.Lat * math.Pi / 180.0
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180.0

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	// rounding can push h a hair outside [0, 1]
	h = math.Min(1, math.Max(0, h))
	return 2 * earthRadius * math.Asin(math.Sqrt(h))
}
