// Package catalog answers "what can I buy near me" queries over the items
// and seller locations held by a store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kass/go-mart-connect/pkg/geo"
	"github.com/kass/go-mart-connect/pkg/models"
	"github.com/rs/zerolog/log"
)

var ErrInvalidOrigin = errors.New("invalid origin")

// DefaultNearestSellers is used by NearbySellers when k is not positive.
const DefaultNearestSellers = 10

// ItemFilter narrows ListItems. Zero values match everything.
type ItemFilter struct {
	CategoryID  string
	Search      string
	InStockOnly bool
}

// Matches reports whether it passes the filter. Search is a
// case-insensitive substring match on the item name.
func (f ItemFilter) Matches(it models.Item) bool {
	if f.CategoryID != "" && it.CategoryID != f.CategoryID {
		return false
	}
	if f.InStockOnly && it.StockQuantity <= 0 {
		return false
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		if !strings.Contains(strings.ToLower(it.Name), strings.ToLower(q)) {
			return false
		}
	}
	return true
}

// Store is the read side of the catalogue.
type Store interface {
	ListItems(ctx context.Context, filter ItemFilter) ([]models.Item, error)
	SellerLocations(ctx context.Context) ([]models.SellerLocation, error)
}

// Writer loads sellers and items into a store.
type Writer interface {
	UpsertSeller(ctx context.Context, s models.SellerLocation) error
	UpsertItem(ctx context.Context, it models.Item) error
}

// BulkWriter is implemented by writers that batch item inserts.
type BulkWriter interface {
	BulkUpsertItems(ctx context.Context, items []models.Item) error
}

// NearbyQuery describes a shopper's product search.
type NearbyQuery struct {
	Origin   *models.Coordinate
	RadiusKm float64
	ItemFilter
}

// Service ranks catalogue items and sellers by distance.
type Service struct {
	store Store
	index *geo.SellerIndex
}

// NewService creates a Service. A nil index gets a fresh empty one.
func NewService(store Store, index *geo.SellerIndex) *Service {
	if index == nil {
		index = geo.NewSellerIndex()
	}
	return &Service{store: store, index: index}
}

// Index exposes the seller index backing NearbySellers.
func (s *Service) Index() *geo.SellerIndex {
	return s.index
}

// Nearby lists items matching the query, nearest seller first. Items whose
// seller has no coordinate come last. Without an origin the store order is
// kept.
func (s *Service) Nearby(ctx context.Context, q NearbyQuery) ([]geo.Ranked, error) {
	if q.Origin != nil {
		if err := q.Origin.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
		}
	}

	items, err := s.store.ListItems(ctx, q.ItemFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	var sellers map[string]models.Coordinate
	if q.Origin != nil {
		locs, err := s.store.SellerLocations(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load seller locations: %w", err)
		}
		sellers = geo.SellerCoordinates(locs)
	}

	ranked := geo.RankByProximity(items, sellers, q.Origin, geo.RankOptions{RadiusKm: q.RadiusKm})
	log.Debug().Int("items", len(items)).Int("ranked", len(ranked)).Float64("radiusKm", q.RadiusKm).Msg("Ranked nearby items")
	return ranked, nil
}

// NearbySellers returns up to k sellers around origin. With a positive
// radius only sellers inside it are returned. The index is loaded from the
// store on first use.
func (s *Service) NearbySellers(ctx context.Context, origin models.Coordinate, radiusKm float64, k int) ([]geo.Neighbor, error) {
	if err := origin.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}
	if k <= 0 {
		k = DefaultNearestSellers
	}
	if s.index.Count() == 0 {
		if _, err := s.RefreshIndex(ctx); err != nil {
			return nil, err
		}
	}

	if radiusKm <= 0 {
		return s.index.Nearest(origin, k), nil
	}
	found, err := s.index.QueryRadius(origin, radiusKm)
	if err != nil {
		return nil, err
	}
	if len(found) > k {
		found = found[:k]
	}
	return found, nil
}

// RefreshIndex rebuilds the seller index from the store and returns the
// number of located sellers.
func (s *Service) RefreshIndex(ctx context.Context) (int, error) {
	locs, err := s.store.SellerLocations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load seller locations: %w", err)
	}
	n, err := s.index.Replace(locs)
	if err != nil {
		return 0, fmt.Errorf("failed to index sellers: %w", err)
	}
	log.Info().Int("sellers", len(locs)).Int("indexed", n).Msg("Seller index refreshed")
	return n, nil
}
