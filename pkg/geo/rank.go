package geo

import (
	"sort"

	"github.com/kass/go-mart-connect/pkg/models"
)

// RankOptions tunes RankByProximity.
type RankOptions struct {
	// RadiusKm drops items whose seller is farther than this. Zero or
	// negative means unrestricted.
	RadiusKm float64
}

// Ranked is a catalog item annotated with its distance from the origin.
// DistanceKm is nil when the seller has no known coordinate or no origin
// was given.
type Ranked struct {
	Item       models.Item `json:"item"`
	DistanceKm *float64    `json:"distance_km,omitempty"`
}

// RankByProximity orders items by the distance of their seller from origin.
//
// Without an origin the input order is returned unchanged. With an origin,
// items whose seller coordinate is known come first in ascending distance,
// followed by the unlocated items in their original relative order. The
// radius only ever excludes items with a known distance.
func RankByProximity(items []models.Item, sellers map[string]models.Coordinate, origin *models.Coordinate, opts RankOptions) []Ranked {
	out := make([]Ranked, 0, len(items))
	if origin == nil {
		for _, it := range items {
			out = append(out, Ranked{Item: it})
		}
		return out
	}

	located := make([]Ranked, 0, len(items))
	var unlocated []Ranked
	for _, it := range items {
		loc, ok := sellers[it.SellerID]
		if !ok {
			unlocated = append(unlocated, Ranked{Item: it})
			continue
		}
		d := Distance(*origin, loc)
		if opts.RadiusKm > 0 && d > opts.RadiusKm {
			continue
		}
		located = append(located, Ranked{Item: it, DistanceKm: &d})
	}

	sort.SliceStable(located, func(i, j int) bool {
		return *located[i].DistanceKm < *located[j].DistanceKm
	})

	out = append(out, located...)
	return append(out, unlocated...)
}

// SellerCoordinates flattens seller locations into the lookup map used by
// RankByProximity, skipping sellers without a coordinate.
func SellerCoordinates(locations []models.SellerLocation) map[string]models.Coordinate {
	m := make(map[string]models.Coordinate, len(locations))
	for _, l := range locations {
		if l.Coordinate == nil {
			continue
		}
		m[l.SellerID] = *l.Coordinate
	}
	return m
}
