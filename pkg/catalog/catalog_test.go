package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/kass/go-mart-connect/pkg/geo"
	"github.com/kass/go-mart-connect/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	items   []models.Item
	sellers []models.SellerLocation
	err     error
	loads   int
}

func (s *fakeStore) ListItems(_ context.Context, f ItemFilter) ([]models.Item, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.Item
	for _, it := range s.items {
		if f.Matches(it) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *fakeStore) SellerLocations(context.Context) ([]models.SellerLocation, error) {
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return s.sellers, nil
}

func (s *fakeStore) UpsertSeller(_ context.Context, l models.SellerLocation) error {
	s.sellers = append(s.sellers, l)
	return nil
}

func (s *fakeStore) UpsertItem(_ context.Context, it models.Item) error {
	s.items = append(s.items, it)
	return nil
}

func coord(lat, lon float64) *models.Coordinate {
	return &models.Coordinate{Lat: lat, Lon: lon}
}

func product(id, seller, name, category string, stock int) models.Item {
	return models.Item{ID: id, SellerID: seller, Name: name, CategoryID: category, Price: decimal.NewFromInt(3), StockQuantity: stock}
}

// Bay Area sellers; distances are from San Francisco.
func bayArea() *fakeStore {
	return &fakeStore{
		sellers: []models.SellerLocation{
			{SellerID: "oak", Coordinate: coord(37.8044, -122.2712)}, // ~13 km
			{SellerID: "sj", Coordinate: coord(37.3382, -121.8863)},  // ~68 km
			{SellerID: "sac", Coordinate: coord(38.5816, -121.4944)}, // ~120 km
			{SellerID: "ghost"},
		},
		items: []models.Item{
			product("rice-sac", "sac", "Basmati Rice", "grocery", 4),
			product("tea-ghost", "ghost", "Green Tea", "beverages", 2),
			product("rice-sj", "sj", "Brown Rice", "grocery", 0),
			product("tea-oak", "oak", "Black Tea", "beverages", 9),
		},
	}
}

func rankedIDs(rs []geo.Ranked) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Item.ID
	}
	return out
}

func TestItemFilterMatches(t *testing.T) {
	it := product("a", "s", "Basmati Rice", "grocery", 0)

	assert.True(t, ItemFilter{}.Matches(it))
	assert.True(t, ItemFilter{Search: "  rice "}.Matches(it))
	assert.True(t, ItemFilter{CategoryID: "grocery"}.Matches(it))
	assert.False(t, ItemFilter{CategoryID: "beverages"}.Matches(it))
	assert.False(t, ItemFilter{Search: "tea"}.Matches(it))
	assert.False(t, ItemFilter{InStockOnly: true}.Matches(it))
}

func TestNearby(t *testing.T) {
	sf := coord(37.7749, -122.4194)

	tests := []struct {
		name  string
		query NearbyQuery
		want  []string
	}{
		{"no origin keeps store order", NearbyQuery{}, []string{"rice-sac", "tea-ghost", "rice-sj", "tea-oak"}},
		{"nearest first, unlocated last", NearbyQuery{Origin: sf}, []string{"tea-oak", "rice-sj", "rice-sac", "tea-ghost"}},
		{"radius drops far sellers only", NearbyQuery{Origin: sf, RadiusKm: 80}, []string{"tea-oak", "rice-sj", "tea-ghost"}},
		{"category filter", NearbyQuery{Origin: sf, ItemFilter: ItemFilter{CategoryID: "grocery"}}, []string{"rice-sj", "rice-sac"}},
		{"search and stock filter", NearbyQuery{Origin: sf, ItemFilter: ItemFilter{Search: "rice", InStockOnly: true}}, []string{"rice-sac"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(bayArea(), nil)
			ranked, err := svc.Nearby(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rankedIDs(ranked))
		})
	}
}

func TestNearbyDistances(t *testing.T) {
	svc := NewService(bayArea(), nil)
	ranked, err := svc.Nearby(context.Background(), NearbyQuery{Origin: coord(37.7749, -122.4194)})
	require.NoError(t, err)

	require.NotNil(t, ranked[0].DistanceKm)
	assert.InDelta(t, 13.43, *ranked[0].DistanceKm, 0.1)
	assert.Nil(t, ranked[3].DistanceKm)
}

func TestNearbyRejectsBadOrigin(t *testing.T) {
	svc := NewService(bayArea(), nil)
	_, err := svc.Nearby(context.Background(), NearbyQuery{Origin: coord(95, 0)})
	assert.ErrorIs(t, err, ErrInvalidOrigin)
}

func TestNearbyStoreFailure(t *testing.T) {
	boom := errors.New("db down")
	svc := NewService(&fakeStore{err: boom}, nil)
	_, err := svc.Nearby(context.Background(), NearbyQuery{})
	assert.ErrorIs(t, err, boom)
}

func TestNearbySellers(t *testing.T) {
	store := bayArea()
	svc := NewService(store, nil)
	sf := models.Coordinate{Lat: 37.7749, Lon: -122.4194}

	within, err := svc.NearbySellers(context.Background(), sf, 80, 0)
	require.NoError(t, err)
	require.Len(t, within, 2)
	assert.Equal(t, "oak", within[0].Seller.SellerID)
	assert.Equal(t, "sj", within[1].Seller.SellerID)
	assert.Equal(t, int64(3), svc.Index().Count())

	nearest, err := svc.NearbySellers(context.Background(), sf, 0, 1)
	require.NoError(t, err)
	require.Len(t, nearest, 1)
	assert.Equal(t, "oak", nearest[0].Seller.SellerID)

	// index is loaded once and reused
	assert.Equal(t, 1, store.loads)

	_, err = svc.NearbySellers(context.Background(), models.Coordinate{Lat: 0, Lon: 200}, 10, 1)
	assert.ErrorIs(t, err, ErrInvalidOrigin)
}

func TestRefreshIndexPicksUpNewSellers(t *testing.T) {
	store := bayArea()
	svc := NewService(store, nil)

	n, err := svc.RefreshIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	store.sellers = append(store.sellers, models.SellerLocation{SellerID: "sf", Coordinate: coord(37.78, -122.41)})
	n, err = svc.RefreshIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestGenerateDemo(t *testing.T) {
	opts := DemoOptions{
		Center:         models.Coordinate{Lat: 28.6139, Lon: 77.2090},
		RadiusKm:       25,
		Sellers:        40,
		ItemsPerSeller: 3,
		UnlocatedEvery: 10,
		Workers:        4,
		Seed:           7,
	}

	sellers, items := GenerateDemo(opts)
	require.Len(t, sellers, 40)
	assert.Len(t, items, 120)

	unlocated := 0
	for _, s := range sellers {
		if s.Coordinate == nil {
			unlocated++
			continue
		}
		assert.LessOrEqual(t, geo.Distance(opts.Center, *s.Coordinate), 25.5)
	}
	assert.Equal(t, 4, unlocated)
	for _, it := range items {
		assert.True(t, it.Price.IsPositive())
		assert.GreaterOrEqual(t, it.StockQuantity, 0)
	}

	again, _ := GenerateDemo(opts)
	assert.Equal(t, sellers, again)
}

func TestLoad(t *testing.T) {
	sellers, items := GenerateDemo(DemoOptions{Center: models.Coordinate{}, RadiusKm: 5, Sellers: 3, ItemsPerSeller: 2, Seed: 1})
	store := &fakeStore{}
	require.NoError(t, Load(context.Background(), store, sellers, items))
	assert.Len(t, store.sellers, 3)
	assert.Len(t, store.items, 6)
}
