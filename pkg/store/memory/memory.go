// Package memory is an in-process store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kass/go-mart-connect/pkg/catalog"
	"github.com/kass/go-mart-connect/pkg/models"
	"github.com/kass/go-mart-connect/pkg/order"
)

// Store implements order.Repository, catalog.Store and catalog.Writer.
// Thread-safe via RWMutex.
type Store struct {
	mu        sync.RWMutex
	items     map[string]models.Item
	itemOrder []string
	sellers   map[string]models.SellerLocation
	sellerIDs []string
	orders    map[string]models.Order
}

var (
	_ order.Repository = (*Store)(nil)
	_ catalog.Store    = (*Store)(nil)
	_ catalog.Writer   = (*Store)(nil)
)

func New() *Store {
	return &Store{
		items:   make(map[string]models.Item),
		sellers: make(map[string]models.SellerLocation),
		orders:  make(map[string]models.Order),
	}
}

func (s *Store) UpsertSeller(ctx context.Context, l models.SellerLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sellers[l.SellerID]; !ok {
		s.sellerIDs = append(s.sellerIDs, l.SellerID)
	}
	if l.Coordinate != nil {
		c := *l.Coordinate
		l.Coordinate = &c
	}
	s.sellers[l.SellerID] = l
	return nil
}

func (s *Store) UpsertItem(ctx context.Context, it models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[it.ID]; !ok {
		s.itemOrder = append(s.itemOrder, it.ID)
	}
	s.items[it.ID] = it
	return nil
}

// ListItems returns matching items in insertion order.
func (s *Store) ListItems(ctx context.Context, filter catalog.ItemFilter) ([]models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Item, 0, len(s.itemOrder))
	for _, id := range s.itemOrder {
		if it := s.items[id]; filter.Matches(it) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *Store) SellerLocations(ctx context.Context) ([]models.SellerLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SellerLocation, 0, len(s.sellerIDs))
	for _, id := range s.sellerIDs {
		l := s.sellers[id]
		if l.Coordinate != nil {
			c := *l.Coordinate
			l.Coordinate = &c
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Store) GetItem(ctx context.Context, itemID string) (models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[itemID]
	if !ok {
		return models.Item{}, order.ErrItemNotFound
	}
	return it, nil
}

func (s *Store) InsertOrder(ctx context.Context, o models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return nil
}

func (s *Store) CompareAndSwapStock(ctx context.Context, itemID string, observed, next int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok || it.StockQuantity != observed {
		return false, nil
	}
	it.StockQuantity = next
	s.items[itemID] = it
	return true, nil
}

func (s *Store) FlagStockConflict(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return order.ErrOrderNotFound
	}
	o.StockConflict = true
	s.orders[orderID] = o
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return models.Order{}, order.ErrOrderNotFound
	}
	return o, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	s.orders[orderID] = o
	return true, nil
}

// ListOrders returns matching orders newest first, ties broken by id.
func (s *Store) ListOrders(ctx context.Context, filter order.OrderFilter) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Order
	for _, o := range s.orders {
		if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
			continue
		}
		if filter.SellerID != "" && o.SellerID != filter.SellerID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
