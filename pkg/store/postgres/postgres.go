// Package postgres stores the catalogue and orders in PostgreSQL.
//
// Stock is only ever decremented with a conditional UPDATE on the value the
// caller observed, so no row locks or multi-statement transactions are
// needed on the checkout path.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/kass/go-mart-connect/pkg/catalog"
	"github.com/kass/go-mart-connect/pkg/models"
	"github.com/kass/go-mart-connect/pkg/order"
	"github.com/rs/zerolog/log"
)

// Options holds connection settings.
type Options struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	QueryTimeout time.Duration
}

// DSN renders the lib/pq connection string.
func (o Options) DSN() string {
	ssl := o.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		o.Host, o.Port, o.User, o.Password, o.Name, ssl)
}

// Store implements order.Repository, catalog.Store and catalog.Writer.
type Store struct {
	db           *sqlx.DB
	queryTimeout time.Duration
}

var (
	_ order.Repository   = (*Store)(nil)
	_ catalog.Store      = (*Store)(nil)
	_ catalog.Writer     = (*Store)(nil)
	_ catalog.BulkWriter = (*Store)(nil)
)

// Open connects to PostgreSQL and configures the connection pool.
func Open(opts Options) (*Store, error) {
	db, err := sqlx.Connect("postgres", opts.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Info().Str("host", opts.Host).Int("port", opts.Port).Str("database", opts.Name).Msg("Connected to PostgreSQL")
	return New(db, opts.QueryTimeout), nil
}

// New wraps an existing connection. A zero timeout leaves queries bounded
// only by the caller's context.
func New(db *sqlx.DB, queryTimeout time.Duration) *Store {
	return &Store{db: db, queryTimeout: queryTimeout}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sellers (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		lat  DOUBLE PRECISION,
		lon  DOUBLE PRECISION,
		CHECK ((lat IS NULL) = (lon IS NULL))
	);`,
	`CREATE TABLE IF NOT EXISTS items (
		id             TEXT PRIMARY KEY,
		seller_id      TEXT NOT NULL REFERENCES sellers(id),
		category_id    TEXT NOT NULL DEFAULT '',
		name           TEXT NOT NULL,
		price          NUMERIC(12, 2) NOT NULL,
		stock_quantity INTEGER NOT NULL CHECK (stock_quantity >= 0)
	);`,
	`CREATE TABLE IF NOT EXISTS orders (
		id               TEXT PRIMARY KEY,
		item_id          TEXT NOT NULL REFERENCES items(id),
		seller_id        TEXT NOT NULL,
		customer_id      TEXT NOT NULL,
		quantity         INTEGER NOT NULL CHECK (quantity > 0),
		total_price      NUMERIC(12, 2) NOT NULL,
		delivery_address TEXT NOT NULL,
		payment_method   TEXT NOT NULL,
		delivery_date    TIMESTAMPTZ,
		status           TEXT NOT NULL DEFAULT 'pending',
		stock_conflict   BOOLEAN NOT NULL DEFAULT FALSE,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_items_seller ON items (seller_id);`,
	`CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders (customer_id, created_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_orders_seller ON orders (seller_id, created_at DESC);`,
}

// InitSchema creates the tables and indexes if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, q := range schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", firstLine(q), err)
		}
	}
	log.Info().Int("statements", len(schema)).Msg("Schema initialised")
	return nil
}

const (
	upsertSellerQuery = `INSERT INTO sellers (id, name, lat, lon) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, lat = EXCLUDED.lat, lon = EXCLUDED.lon`
	upsertItemQuery = `INSERT INTO items (id, seller_id, category_id, name, price, stock_quantity) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET seller_id = EXCLUDED.seller_id, category_id = EXCLUDED.category_id,
		name = EXCLUDED.name, price = EXCLUDED.price, stock_quantity = EXCLUDED.stock_quantity`
	itemColumns          = `id, seller_id, category_id, name, price, stock_quantity`
	getItemQuery         = `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	sellerLocationsQuery = `SELECT id, name, lat, lon FROM sellers ORDER BY id`
	casStockQuery        = `UPDATE items SET stock_quantity = $1 WHERE id = $2 AND stock_quantity = $3`
	insertOrderQuery     = `INSERT INTO orders (id, item_id, seller_id, customer_id, quantity, total_price,
		delivery_address, payment_method, delivery_date, status, stock_conflict, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	flagConflictQuery = `UPDATE orders SET stock_conflict = TRUE WHERE id = $1`
	orderColumns      = `id, item_id, seller_id, customer_id, quantity, total_price, delivery_address,
		payment_method, delivery_date, status, stock_conflict, created_at, updated_at`
	getOrderQuery     = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	updateStatusQuery = `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	listOrdersQuery   = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR customer_id = $1) AND ($2 = '' OR seller_id = $2)
		ORDER BY created_at DESC, id`
)

func (s *Store) UpsertSeller(ctx context.Context, l models.SellerLocation) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var lat, lon sql.NullFloat64
	if l.Coordinate != nil {
		lat = sql.NullFloat64{Float64: l.Coordinate.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: l.Coordinate.Lon, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, upsertSellerQuery, l.SellerID, l.Name, lat, lon); err != nil {
		return fmt.Errorf("error upserting seller %s: %w", l.SellerID, err)
	}
	return nil
}

func (s *Store) UpsertItem(ctx context.Context, it models.Item) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, upsertItemQuery, it.ID, it.SellerID, it.CategoryID, it.Name, it.Price, it.StockQuantity)
	if err != nil {
		return fmt.Errorf("error upserting item %s: %w", it.ID, err)
	}
	return nil
}

// BulkUpsertItems writes items in batches, one transaction per batch.
func (s *Store) BulkUpsertItems(ctx context.Context, items []models.Item) error {
	const batchSize = 1000

	for start := 0; start < len(items); start += batchSize {
		end := min(start+batchSize, len(items))
		if err := s.upsertBatch(ctx, items[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertBatch(ctx context.Context, items []models.Item) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.PreparexContext(ctx, upsertItemQuery)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.ID, it.SellerID, it.CategoryID, it.Name, it.Price, it.StockQuantity); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert item %s: %w", it.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// ListItems returns items matching filter ordered by id.
func (s *Store) ListItems(ctx context.Context, filter catalog.ItemFilter) ([]models.Item, error) {
	query, args := listItemsQuery(filter)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var items []models.Item
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("error listing items: %w", err)
	}
	return items, nil
}

func listItemsQuery(f catalog.ItemFilter) (string, []any) {
	var where []string
	var args []any
	if f.CategoryID != "" {
		args = append(args, f.CategoryID)
		where = append(where, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if f.InStockOnly {
		where = append(where, "stock_quantity > 0")
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " ORDER BY id", args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

type sellerRow struct {
	ID   string          `db:"id"`
	Name string          `db:"name"`
	Lat  sql.NullFloat64 `db:"lat"`
	Lon  sql.NullFloat64 `db:"lon"`
}

func (s *Store) SellerLocations(ctx context.Context) ([]models.SellerLocation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []sellerRow
	if err := s.db.SelectContext(ctx, &rows, sellerLocationsQuery); err != nil {
		return nil, fmt.Errorf("error loading seller locations: %w", err)
	}
	out := make([]models.SellerLocation, 0, len(rows))
	for _, r := range rows {
		l := models.SellerLocation{SellerID: r.ID, Name: r.Name}
		if r.Lat.Valid && r.Lon.Valid {
			l.Coordinate = &models.Coordinate{Lat: r.Lat.Float64, Lon: r.Lon.Float64}
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Store) GetItem(ctx context.Context, itemID string) (models.Item, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var it models.Item
	err := s.db.GetContext(ctx, &it, getItemQuery, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Item{}, order.ErrItemNotFound
	}
	if err != nil {
		return models.Item{}, fmt.Errorf("error reading item %s: %w", itemID, err)
	}
	return it, nil
}

func (s *Store) InsertOrder(ctx context.Context, o models.Order) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, insertOrderQuery,
		o.ID, o.ItemID, o.SellerID, o.CustomerID, o.Quantity, o.TotalPrice,
		o.DeliveryAddress, o.PaymentMethod, o.DeliveryDate, string(o.Status), o.StockConflict,
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error inserting order %s: %w", o.ID, err)
	}
	return nil
}

// CompareAndSwapStock sets stock_quantity to next only when it still
// equals observed.
func (s *Store) CompareAndSwapStock(ctx context.Context, itemID string, observed, next int) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, casStockQuery, next, itemID, observed)
	if err != nil {
		return false, fmt.Errorf("error updating stock for item %s: %w", itemID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected for item %s: %w", itemID, err)
	}
	return rowsAffected == 1, nil
}

func (s *Store) FlagStockConflict(ctx context.Context, orderID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, flagConflictQuery, orderID)
	if err != nil {
		return fmt.Errorf("error flagging order %s: %w", orderID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var o models.Order
	err := s.db.GetContext(ctx, &o, getOrderQuery, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, order.ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("error reading order %s: %w", orderID, err)
	}
	return o, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus, at time.Time) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, updateStatusQuery, string(to), at, orderID, string(from))
	if err != nil {
		return false, fmt.Errorf("error updating status of order %s: %w", orderID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected for order %s: %w", orderID, err)
	}
	return rowsAffected == 1, nil
}

func (s *Store) ListOrders(ctx context.Context, filter order.OrderFilter) ([]models.Order, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var orders []models.Order
	if err := s.db.SelectContext(ctx, &orders, listOrdersQuery, filter.CustomerID, filter.SellerID); err != nil {
		return nil, fmt.Errorf("error listing orders: %w", err)
	}
	return orders, nil
}

func firstLine(q string) string {
	if i := strings.IndexByte(q, '\n'); i >= 0 {
		return strings.TrimSpace(q[:i])
	}
	return q
}
