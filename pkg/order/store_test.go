package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kass/go-mart-connect/pkg/models"
	"github.com/shopspring/decimal"
)

// fakeStore is an in-package Repository with hooks for failure injection.
type fakeStore struct {
	mu     sync.Mutex
	items  map[string]models.Item
	orders map[string]models.Order
	writes int

	getErr    error
	insertErr func(ctx context.Context, o models.Order) error
	casErr    error
	flagErr   error

	// beforeSwap runs before every compare-and-swap, outside the lock.
	beforeSwap func(itemID string)
}

func newFakeStore(items ...models.Item) *fakeStore {
	s := &fakeStore{
		items:  make(map[string]models.Item),
		orders: make(map[string]models.Order),
	}
	for _, it := range items {
		s.items[it.ID] = it
	}
	return s
}

func (s *fakeStore) GetItem(_ context.Context, id string) (models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return models.Item{}, s.getErr
	}
	it, ok := s.items[id]
	if !ok {
		return models.Item{}, ErrItemNotFound
	}
	return it, nil
}

func (s *fakeStore) InsertOrder(ctx context.Context, o models.Order) error {
	if s.insertErr != nil {
		if err := s.insertErr(ctx, o); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	s.writes++
	return nil
}

func (s *fakeStore) CompareAndSwapStock(_ context.Context, id string, observed, next int) (bool, error) {
	if s.beforeSwap != nil {
		s.beforeSwap(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.casErr != nil {
		return false, s.casErr
	}
	it, ok := s.items[id]
	if !ok || it.StockQuantity != observed {
		return false, nil
	}
	it.StockQuantity = next
	s.items[id] = it
	s.writes++
	return true, nil
}

func (s *fakeStore) FlagStockConflict(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flagErr != nil {
		return s.flagErr
	}
	o, ok := s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.StockConflict = true
	s.orders[orderID] = o
	s.writes++
	return nil
}

func (s *fakeStore) GetOrder(_ context.Context, id string) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (s *fakeStore) UpdateOrderStatus(_ context.Context, id string, from, to models.OrderStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	s.orders[id] = o
	return true, nil
}

func (s *fakeStore) ListOrders(_ context.Context, f OrderFilter) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		if f.SellerID != "" && o.SellerID != f.SellerID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) stock(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id].StockQuantity
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func stockItem(id, seller string, price string, stock int) models.Item {
	return models.Item{
		ID:            id,
		SellerID:      seller,
		Name:          "item " + id,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	}
}

func delivery() models.DeliveryInfo {
	return models.DeliveryInfo{Address: "12 Market Street"}
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
}
