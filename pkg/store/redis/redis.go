// Package redisstore keeps the catalogue and orders in Redis hashes.
// Conditional writes run as Lua scripts so each one is atomic on the server.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/kass/go-mart-connect/pkg/catalog"
	"github.com/kass/go-mart-connect/pkg/models"
	"github.com/kass/go-mart-connect/pkg/order"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// casStockScript swaps the stock of one item if it still holds the
// observed value.
// KEYS[1] = item hash
// ARGV[1] = observed stock
// ARGV[2] = next stock
var casStockScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "stock_quantity")
if not current or tonumber(current) ~= tonumber(ARGV[1]) then
    return 0
end
redis.call("HSET", KEYS[1], "stock_quantity", ARGV[2])
return 1
`)

// updateStatusScript moves an order from one status to the next.
// KEYS[1] = order hash
// ARGV[1] = expected status
// ARGV[2] = new status
// ARGV[3] = updated_at (RFC3339Nano)
var updateStatusScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "status")
if not current or current ~= ARGV[1] then
    return 0
end
redis.call("HSET", KEYS[1], "status", ARGV[2], "updated_at", ARGV[3])
return 1
`)

// flagConflictScript sets stock_conflict on an existing order.
// KEYS[1] = order hash
var flagConflictScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return 0
end
redis.call("HSET", KEYS[1], "stock_conflict", "1")
return 1
`)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Defaults to "mart".
	Prefix string
}

// Store implements order.Repository, catalog.Store and catalog.Writer.
type Store struct {
	client *redis.Client
	prefix string
}

var (
	_ order.Repository = (*Store)(nil)
	_ catalog.Store    = (*Store)(nil)
	_ catalog.Writer   = (*Store)(nil)
)

// New creates a store backed by a new Redis client.
func New(opts Options) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(rdb, opts.Prefix)
}

func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "mart"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) itemKey(id string) string { return s.prefix + ":item:" + id }

func (s *Store) itemsKey() string { return s.prefix + ":items" }

func (s *Store) sellerKey(id string) string { return s.prefix + ":seller:" + id }

func (s *Store) sellersKey() string { return s.prefix + ":sellers" }

func (s *Store) orderKey(id string) string { return s.prefix + ":order:" + id }

func (s *Store) customerKey(id string) string { return s.prefix + ":orders:customer:" + id }

func (s *Store) sellerOrdersKey(id string) string { return s.prefix + ":orders:seller:" + id }

func (s *Store) UpsertSeller(ctx context.Context, l models.SellerLocation) error {
	fields := map[string]any{"name": l.Name, "lat": "", "lon": ""}
	if l.Coordinate != nil {
		fields["lat"] = strconv.FormatFloat(l.Coordinate.Lat, 'f', -1, 64)
		fields["lon"] = strconv.FormatFloat(l.Coordinate.Lon, 'f', -1, 64)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.sellerKey(l.SellerID), fields)
		pipe.SAdd(ctx, s.sellersKey(), l.SellerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert seller %s: %w", l.SellerID, err)
	}
	return nil
}

func (s *Store) UpsertItem(ctx context.Context, it models.Item) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.itemKey(it.ID), itemFields(it))
		pipe.SAdd(ctx, s.itemsKey(), it.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert item %s: %w", it.ID, err)
	}
	return nil
}

func itemFields(it models.Item) map[string]any {
	return map[string]any{
		"seller_id":      it.SellerID,
		"category_id":    it.CategoryID,
		"name":           it.Name,
		"price":          it.Price.String(),
		"stock_quantity": it.StockQuantity,
	}
}

func itemFromHash(id string, h map[string]string) (models.Item, error) {
	price, err := decimal.NewFromString(h["price"])
	if err != nil {
		return models.Item{}, fmt.Errorf("item %s: bad price %q: %w", id, h["price"], err)
	}
	stock, err := strconv.Atoi(h["stock_quantity"])
	if err != nil {
		return models.Item{}, fmt.Errorf("item %s: bad stock %q: %w", id, h["stock_quantity"], err)
	}
	return models.Item{
		ID:            id,
		SellerID:      h["seller_id"],
		CategoryID:    h["category_id"],
		Name:          h["name"],
		Price:         price,
		StockQuantity: stock,
	}, nil
}

// ListItems returns items matching filter ordered by id.
func (s *Store) ListItems(ctx context.Context, filter catalog.ItemFilter) ([]models.Item, error) {
	ids, err := s.client.SMembers(ctx, s.itemsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list items: %w", err)
	}
	sort.Strings(ids)

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.itemKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis list items: %w", err)
	}

	out := make([]models.Item, 0, len(ids))
	for i, id := range ids {
		h := cmds[i].Val()
		if len(h) == 0 {
			continue
		}
		it, err := itemFromHash(id, h)
		if err != nil {
			log.Warn().Err(err).Str("itemId", id).Msg("Skipping unreadable item")
			continue
		}
		if filter.Matches(it) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *Store) SellerLocations(ctx context.Context) ([]models.SellerLocation, error) {
	ids, err := s.client.SMembers(ctx, s.sellersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sellers: %w", err)
	}
	sort.Strings(ids)

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.sellerKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis list sellers: %w", err)
	}

	out := make([]models.SellerLocation, 0, len(ids))
	for i, id := range ids {
		out = append(out, sellerFromHash(id, cmds[i].Val()))
	}
	return out, nil
}

func sellerFromHash(id string, h map[string]string) models.SellerLocation {
	l := models.SellerLocation{SellerID: id, Name: h["name"]}
	lat, errLat := strconv.ParseFloat(h["lat"], 64)
	lon, errLon := strconv.ParseFloat(h["lon"], 64)
	if errLat == nil && errLon == nil {
		l.Coordinate = &models.Coordinate{Lat: lat, Lon: lon}
	}
	return l
}

func (s *Store) GetItem(ctx context.Context, itemID string) (models.Item, error) {
	h, err := s.client.HGetAll(ctx, s.itemKey(itemID)).Result()
	if err != nil {
		return models.Item{}, fmt.Errorf("redis get item %s: %w", itemID, err)
	}
	if len(h) == 0 {
		return models.Item{}, order.ErrItemNotFound
	}
	return itemFromHash(itemID, h)
}

func (s *Store) CompareAndSwapStock(ctx context.Context, itemID string, observed, next int) (bool, error) {
	n, err := casStockScript.Run(ctx, s.client, []string{s.itemKey(itemID)}, observed, next).Int()
	if err != nil {
		return false, fmt.Errorf("redis stock swap for item %s: %w", itemID, err)
	}
	return n == 1, nil
}

// Orders are hashes: the immutable order as JSON under "data" plus the
// mutable fields stored separately so scripts can update them.
func orderFields(o models.Order) (map[string]any, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	conflict := "0"
	if o.StockConflict {
		conflict = "1"
	}
	return map[string]any{
		"data":           string(data),
		"status":         string(o.Status),
		"stock_conflict": conflict,
		"updated_at":     o.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func orderFromHash(id string, h map[string]string) (models.Order, error) {
	var o models.Order
	if err := json.Unmarshal([]byte(h["data"]), &o); err != nil {
		return models.Order{}, fmt.Errorf("order %s: %w", id, err)
	}
	if st := h["status"]; st != "" {
		o.Status = models.OrderStatus(st)
	}
	o.StockConflict = h["stock_conflict"] == "1"
	if ts, err := time.Parse(time.RFC3339Nano, h["updated_at"]); err == nil {
		o.UpdatedAt = ts
	}
	return o, nil
}

func (s *Store) InsertOrder(ctx context.Context, o models.Order) error {
	fields, err := orderFields(o)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", o.ID, err)
	}
	score := float64(o.CreatedAt.UnixNano())
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.orderKey(o.ID), fields)
		pipe.ZAdd(ctx, s.customerKey(o.CustomerID), redis.Z{Score: score, Member: o.ID})
		pipe.ZAdd(ctx, s.sellerOrdersKey(o.SellerID), redis.Z{Score: score, Member: o.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis insert order %s: %w", o.ID, err)
	}
	return nil
}

func (s *Store) FlagStockConflict(ctx context.Context, orderID string) error {
	n, err := flagConflictScript.Run(ctx, s.client, []string{s.orderKey(orderID)}).Int()
	if err != nil {
		return fmt.Errorf("redis flag order %s: %w", orderID, err)
	}
	if n == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	h, err := s.client.HGetAll(ctx, s.orderKey(orderID)).Result()
	if err != nil {
		return models.Order{}, fmt.Errorf("redis get order %s: %w", orderID, err)
	}
	if len(h) == 0 {
		return models.Order{}, order.ErrOrderNotFound
	}
	return orderFromHash(orderID, h)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus, at time.Time) (bool, error) {
	n, err := updateStatusScript.Run(ctx, s.client, []string{s.orderKey(orderID)},
		string(from), string(to), at.UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return false, fmt.Errorf("redis update status of order %s: %w", orderID, err)
	}
	return n == 1, nil
}

// ListOrders returns orders newest first, ties broken by id. A filter with both ids set
// reads the customer's orders and keeps those of the seller.
func (s *Store) ListOrders(ctx context.Context, filter order.OrderFilter) ([]models.Order, error) {
	var key string
	switch {
	case filter.CustomerID != "":
		key = s.customerKey(filter.CustomerID)
	case filter.SellerID != "":
		key = s.sellerOrdersKey(filter.SellerID)
	default:
		return nil, errors.New("redis list orders: customer or seller id required")
	}

	ids, err := s.client.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list orders: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.orderKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis list orders: %w", err)
	}

	out := make([]models.Order, 0, len(ids))
	for i, id := range ids {
		h := cmds[i].Val()
		if len(h) == 0 {
			continue
		}
		o, err := orderFromHash(id, h)
		if err != nil {
			log.Warn().Err(err).Str("orderId", id).Msg("Skipping unreadable order")
			continue
		}
		if filter.SellerID != "" && o.SellerID != filter.SellerID {
			continue
		}
		out = append(out, o)
	}
	sortNewestFirst(out)
	return out, nil
}

// sortNewestFirst orders by created_at descending, ties by id ascending.
// ZREVRANGE alone would break score ties by descending member.
func sortNewestFirst(orders []models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
