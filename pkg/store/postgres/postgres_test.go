package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/kass/go-mart-connect/pkg/catalog"
	"github.com/kass/go-mart-connect/pkg/models"
	"github.com/kass/go-mart-connect/pkg/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres"), time.Second), mock
}

var orderCols = []string{"id", "item_id", "seller_id", "customer_id", "quantity", "total_price",
	"delivery_address", "payment_method", "delivery_date", "status", "stock_conflict", "created_at", "updated_at"}

func TestOptionsDSN(t *testing.T) {
	o := Options{Host: "db", Port: 5432, User: "mart", Password: "secret", Name: "mart"}
	assert.Equal(t, "host=db port=5432 user=mart password=secret dbname=mart sslmode=disable", o.DSN())

	o.SSLMode = "require"
	assert.Contains(t, o.DSN(), "sslmode=require")
}

func TestInitSchema(t *testing.T) {
	store, mock := newMockStore(t)
	for _, q := range schema {
		mock.ExpectExec(regexp.QuoteMeta(q)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, store.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitSchemaFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(schema[0])).WillReturnError(errors.New("permission denied"))

	err := store.InitSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CREATE TABLE IF NOT EXISTS sellers")
}

func TestGetItem(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(getItemQuery)).
		WithArgs("rice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "seller_id", "category_id", "name", "price", "stock_quantity"}).
			AddRow("rice", "s1", "grocery", "Basmati Rice", "2.50", int64(10)))

	it, err := store.GetItem(ctx, "rice")
	require.NoError(t, err)
	assert.Equal(t, "s1", it.SellerID)
	assert.Equal(t, 10, it.StockQuantity)
	assert.True(t, decimal.RequireFromString("2.50").Equal(it.Price))

	mock.ExpectQuery(regexp.QuoteMeta(getItemQuery)).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	_, err = store.GetItem(ctx, "ghost")
	assert.ErrorIs(t, err, order.ErrItemNotFound)

	boom := errors.New("connection reset")
	mock.ExpectQuery(regexp.QuoteMeta(getItemQuery)).
		WithArgs("rice").
		WillReturnError(boom)
	_, err = store.GetItem(ctx, "rice")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, order.ErrItemNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSwapStock(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		err      error
		want     bool
	}{
		{"swapped", 1, nil, true},
		{"stock moved", 0, nil, false},
		{"backend error", 0, errors.New("timeout"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			exp := mock.ExpectExec(regexp.QuoteMeta(casStockQuery)).WithArgs(4, "rice", 10)
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, tt.affected))
			}

			ok, err := store.CompareAndSwapStock(context.Background(), "rice", 10, 4)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestInsertOrder(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	o := models.Order{
		ID: "o1", ItemID: "rice", SellerID: "s1", CustomerID: "c1", Quantity: 2,
		TotalPrice: decimal.RequireFromString("5.00"), DeliveryAddress: "1 Main St",
		PaymentMethod: "offline", Status: models.StatusPending, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec(regexp.QuoteMeta(insertOrderQuery)).
		WithArgs("o1", "rice", "s1", "c1", 2, sqlmock.AnyArg(), "1 Main St", "offline", nil, "pending", false, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.InsertOrder(context.Background(), o))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFlagStockConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(flagConflictQuery)).WithArgs("o1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(flagConflictQuery)).WithArgs("nope").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, store.FlagStockConflict(context.Background(), "o1"))
	assert.ErrorIs(t, store.FlagStockConflict(context.Background(), "nope"), order.ErrOrderNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrder(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	deliver := created.Add(48 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(getOrderQuery)).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow("o1", "rice", "s1", "c1", int64(2), "5.00", "1 Main St", "offline", deliver, "dispatched", true, created, created))

	o, err := store.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatched, o.Status)
	assert.True(t, o.StockConflict)
	require.NotNil(t, o.DeliveryDate)
	assert.Equal(t, deliver, *o.DeliveryDate)

	mock.ExpectQuery(regexp.QuoteMeta(getOrderQuery)).WithArgs("nope").WillReturnError(sql.ErrNoRows)
	_, err = store.GetOrder(context.Background(), "nope")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderStatus(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(updateStatusQuery)).
		WithArgs("dispatched", at, "o1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(updateStatusQuery)).
		WithArgs("dispatched", at, "o1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.UpdateOrderStatus(context.Background(), "o1", models.StatusPending, models.StatusDispatched, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UpdateOrderStatus(context.Background(), "o1", models.StatusPending, models.StatusDispatched, at)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrders(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(listOrdersQuery)).
		WithArgs("", "s1").
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow("o2", "rice", "s1", "c2", int64(1), "2.50", "2 Main St", "offline", nil, "pending", false, now, now).
			AddRow("o1", "rice", "s1", "c1", int64(2), "5.00", "1 Main St", "card", nil, "received", false, now, now))

	orders, err := store.ListOrders(context.Background(), order.OrderFilter{SellerID: "s1"})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o2", orders[0].ID)
	assert.Nil(t, orders[0].DeliveryDate)
	assert.Equal(t, models.StatusReceived, orders[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListItemsQuery(t *testing.T) {
	tests := []struct {
		name      string
		filter    catalog.ItemFilter
		wantQuery string
		wantArgs  []any
	}{
		{"no filter", catalog.ItemFilter{}, "SELECT " + itemColumns + " FROM items ORDER BY id", nil},
		{
			"all filters",
			catalog.ItemFilter{CategoryID: "grocery", Search: "50%_off", InStockOnly: true},
			"SELECT " + itemColumns + " FROM items WHERE category_id = $1 AND name ILIKE $2 AND stock_quantity > 0 ORDER BY id",
			[]any{"grocery", `%50\%\_off%`},
		},
		{"in stock only", catalog.ItemFilter{InStockOnly: true}, "SELECT " + itemColumns + " FROM items WHERE stock_quantity > 0 ORDER BY id", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := listItemsQuery(tt.filter)
			assert.Equal(t, tt.wantQuery, q)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestListItems(t *testing.T) {
	store, mock := newMockStore(t)
	q, _ := listItemsQuery(catalog.ItemFilter{CategoryID: "grocery"})

	mock.ExpectQuery(regexp.QuoteMeta(q)).
		WithArgs("grocery").
		WillReturnRows(sqlmock.NewRows([]string{"id", "seller_id", "category_id", "name", "price", "stock_quantity"}).
			AddRow("flour", "s2", "grocery", "Flour", "1.10", int64(3)).
			AddRow("rice", "s1", "grocery", "Rice", "2.50", int64(0)))

	items, err := store.ListItems(context.Background(), catalog.ItemFilter{CategoryID: "grocery"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "flour", items[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSellerLocations(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(sellerLocationsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "lat", "lon"}).
			AddRow("s1", "Corner Shop", 37.77, -122.42).
			AddRow("s2", "Van", nil, nil))

	locs, err := store.SellerLocations(context.Background())
	require.NoError(t, err)
	require.Len(t, locs, 2)
	require.NotNil(t, locs[0].Coordinate)
	assert.Equal(t, 37.77, locs[0].Coordinate.Lat)
	assert.Nil(t, locs[1].Coordinate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSeller(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(upsertSellerQuery)).
		WithArgs("s1", "Corner Shop", 1.5, 2.5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(upsertSellerQuery)).
		WithArgs("s2", "Van", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpsertSeller(context.Background(), models.SellerLocation{
		SellerID: "s1", Name: "Corner Shop", Coordinate: &models.Coordinate{Lat: 1.5, Lon: 2.5},
	}))
	require.NoError(t, store.UpsertSeller(context.Background(), models.SellerLocation{SellerID: "s2", Name: "Van"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertItems(t *testing.T) {
	store, mock := newMockStore(t)
	items := []models.Item{
		{ID: "a", SellerID: "s1", Name: "A", Price: decimal.NewFromInt(1), StockQuantity: 1},
		{ID: "b", SellerID: "s1", Name: "B", Price: decimal.NewFromInt(2), StockQuantity: 2},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(upsertItemQuery))
	prep.ExpectExec().WithArgs("a", "s1", "", "A", sqlmock.AnyArg(), 1).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("b", "s1", "", "B", sqlmock.AnyArg(), 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.BulkUpsertItems(context.Background(), items))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertItemsRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	items := []models.Item{{ID: "a", SellerID: "missing", Name: "A", Price: decimal.NewFromInt(1)}}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(upsertItemQuery))
	prep.ExpectExec().WillReturnError(errors.New("foreign key violation"))
	mock.ExpectRollback()

	err := store.BulkUpsertItems(context.Background(), items)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert item a")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderAgainstPostgres(t *testing.T) {
	store, mock := newMockStore(t)
	placer := order.NewPlacer(store, order.Options{NewID: func() string { return "o1" }})

	mock.ExpectQuery(regexp.QuoteMeta(getItemQuery)).
		WithArgs("rice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "seller_id", "category_id", "name", "price", "stock_quantity"}).
			AddRow("rice", "s1", "grocery", "Rice", "2.50", int64(10)))
	mock.ExpectExec(regexp.QuoteMeta(insertOrderQuery)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(casStockQuery)).WithArgs(4, "rice", 10).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(flagConflictQuery)).WithArgs("o1").WillReturnResult(sqlmock.NewResult(0, 1))

	receipt, err := placer.PlaceOrder(context.Background(),
		[]models.CartLine{{ItemID: "rice", Quantity: 6}}, "c1", models.DeliveryInfo{Address: "1 Main St"})
	require.NoError(t, err)
	require.Len(t, receipt.Conflicts(), 1)
	assert.True(t, receipt.Orders[0].StockConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
