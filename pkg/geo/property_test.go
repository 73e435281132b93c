package geo

import (
	"math"
	"sort"
	"testing"

	"github.com/kass/go-mart-connect/pkg/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func latGen() gopter.Gen { return gen.Float64Range(-90, 90) }
func lonGen() gopter.Gen { return gen.Float64Range(-180, 180) }

func TestDistanceProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("distance from a point to itself is zero", prop.ForAll(
		func(lat, lon float64) bool {
			a := models.Coordinate{Lat: lat, Lon: lon}
			return Distance(a, a) == 0
		},
		latGen(), lonGen(),
	))

	properties.Property("distance is symmetric", prop.ForAll(
		func(lat1, lon1, lat2, lon2 float64) bool {
			a := models.Coordinate{Lat: lat1, Lon: lon1}
			b := models.Coordinate{Lat: lat2, Lon: lon2}
			return math.Abs(Distance(a, b)-Distance(b, a)) < 1e-9
		},
		latGen(), lonGen(), latGen(), lonGen(),
	))

	properties.Property("distance never exceeds half the circumference", prop.ForAll(
		func(lat1, lon1, lat2, lon2 float64) bool {
			d := Distance(models.Coordinate{Lat: lat1, Lon: lon1}, models.Coordinate{Lat: lat2, Lon: lon2})
			return d >= 0 && d <= math.Pi*earthRadius+1e-6
		},
		latGen(), lonGen(), latGen(), lonGen(),
	))

	properties.Property("distances add up along a meridian", prop.ForAll(
		func(lat1, lat2, lat3, lon float64) bool {
			lats := []float64{lat1, lat2, lat3}
			sort.Float64s(lats)
			a := models.Coordinate{Lat: lats[0], Lon: lon}
			b := models.Coordinate{Lat: lats[1], Lon: lon}
			c := models.Coordinate{Lat: lats[2], Lon: lon}
			return math.Abs(Distance(a, c)-(Distance(a, b)+Distance(b, c))) < 1e-3
		},
		latGen(), latGen(), latGen(), lonGen(),
	))

	properties.Property("distances add up along the equator", prop.ForAll(
		func(lon1, span1, span2 float64) bool {
			a := models.Coordinate{Lat: 0, Lon: lon1}
			b := models.Coordinate{Lat: 0, Lon: wrapLon(lon1 + span1)}
			c := models.Coordinate{Lat: 0, Lon: wrapLon(lon1 + span1 + span2)}
			return math.Abs(Distance(a, c)-(Distance(a, b)+Distance(b, c))) < 1e-3
		},
		lonGen(), gen.Float64Range(0, 90), gen.Float64Range(0, 90),
	))

	properties.TestingRun(t)
}

// wrapLon folds a longitude back into [-180, 180)
func wrapLon(lon float64) float64 {
	return math.Mod(lon+540, 360) - 180
}
