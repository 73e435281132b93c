package catalog

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/kass/go-mart-connect/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DemoOptions controls GenerateDemo.
type DemoOptions struct {
	Center         models.Coordinate
	RadiusKm       float64
	Sellers        int
	ItemsPerSeller int
	// UnlocatedEvery leaves every n-th seller without a coordinate.
	UnlocatedEvery int
	Workers        int
	Seed           int64
}

var demoProducts = []struct {
	name     string
	category string
}{
	{"Basmati Rice 5kg", "grocery"},
	{"Sunflower Oil 1L", "grocery"},
	{"Whole Wheat Flour", "grocery"},
	{"Green Tea", "beverages"},
	{"Instant Coffee", "beverages"},
	{"Hand Wash", "household"},
	{"Detergent Powder", "household"},
	{"Toothpaste", "personal-care"},
	{"Shampoo", "personal-care"},
	{"Notebook", "stationery"},
}

// GenerateDemo builds a random catalogue of sellers scattered uniformly
// inside a circle of RadiusKm around Center. The output depends only on
// opts.
func GenerateDemo(opts DemoOptions) ([]models.SellerLocation, []models.Item) {
	if opts.Sellers <= 0 {
		return nil, nil
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	sellers := make([]models.SellerLocation, opts.Sellers)
	items := make([][]models.Item, opts.Sellers)

	type workRange struct {
		start, end int
		seed       int64
	}
	work := make(chan workRange, opts.Workers)
	done := make(chan bool, opts.Workers)

	for w := 0; w < opts.Workers; w++ {
		go func() {
			for wr := range work {
				r := rand.New(rand.NewSource(wr.seed))
				for i := wr.start; i < wr.end; i++ {
					sellers[i], items[i] = demoSeller(r, i, opts)
				}
			}
			done <- true
		}()
	}

	// Ranges and their seeds are fixed up front so the result does not
	// depend on scheduling.
	seeds := rand.New(rand.NewSource(opts.Seed))
	per := opts.Sellers / opts.Workers
	remainder := opts.Sellers % opts.Workers
	start := 0
	for w := 0; w < opts.Workers; w++ {
		size := per
		if w < remainder {
			size++
		}
		work <- workRange{start: start, end: start + size, seed: seeds.Int63()}
		start += size
	}
	close(work)
	for w := 0; w < opts.Workers; w++ {
		<-done
	}

	var flat []models.Item
	for _, its := range items {
		flat = append(flat, its...)
	}
	return sellers, flat
}

func demoSeller(r *rand.Rand, i int, opts DemoOptions) (models.SellerLocation, []models.Item) {
	s := models.SellerLocation{
		SellerID: fmt.Sprintf("seller_%d", i),
		Name:     fmt.Sprintf("Demo Store %d", i),
	}
	if opts.UnlocatedEvery <= 0 || (i+1)%opts.UnlocatedEvery != 0 {
		c := randomPointAround(r, opts.Center, opts.RadiusKm)
		s.Coordinate = &c
	}

	its := make([]models.Item, 0, opts.ItemsPerSeller)
	for j := 0; j < opts.ItemsPerSeller; j++ {
		p := demoProducts[r.Intn(len(demoProducts))]
		its = append(its, models.Item{
			ID:            fmt.Sprintf("item_%d_%d", i, j),
			SellerID:      s.SellerID,
			CategoryID:    p.category,
			Name:          p.name,
			Price:         decimal.NewFromInt(int64(50 + r.Intn(5000))).Div(decimal.NewFromInt(10)),
			StockQuantity: r.Intn(50),
		})
	}
	return s, its
}

// randomPointAround picks a point uniformly inside the circle using an
// equirectangular offset, which is accurate enough for demo radii.
func randomPointAround(r *rand.Rand, center models.Coordinate, radiusKm float64) models.Coordinate {
	dist := radiusKm * math.Sqrt(r.Float64())
	bearing := r.Float64() * 2 * math.Pi

	dLat := dist * math.Cos(bearing) / 111.195
	dLon := dist * math.Sin(bearing) / (111.195 * math.Max(math.Cos(center.Lat*math.Pi/180), 0.01))

	lat := math.Max(-90, math.Min(90, center.Lat+dLat))
	lon := center.Lon + dLon
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return models.Coordinate{Lat: lat, Lon: lon}
}

// Load writes sellers then items through w, stopping at the first error.
// Items go through BulkUpsertItems when w supports it.
func Load(ctx context.Context, w Writer, sellers []models.SellerLocation, items []models.Item) error {
	for _, s := range sellers {
		if err := w.UpsertSeller(ctx, s); err != nil {
			return fmt.Errorf("failed to write seller %s: %w", s.SellerID, err)
		}
	}
	if bw, ok := w.(BulkWriter); ok {
		if err := bw.BulkUpsertItems(ctx, items); err != nil {
			return fmt.Errorf("failed to write items: %w", err)
		}
		log.Info().Int("sellers", len(sellers)).Int("items", len(items)).Msg("Catalogue loaded")
		return nil
	}
	for _, it := range items {
		if err := w.UpsertItem(ctx, it); err != nil {
			return fmt.Errorf("failed to write item %s: %w", it.ID, err)
		}
	}
	log.Info().Int("sellers", len(sellers)).Int("items", len(items)).Msg("Catalogue loaded")
	return nil
}
