package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Coordinate represents a geographic location with latitude and longitude
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate reports whether the coordinate lies within the WGS84 ranges
func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]", c.Lon)
	}
	return nil
}

// Item is a sellable product owned by a seller
type Item struct {
	ID            string          `json:"id" db:"id"`
	SellerID      string          `json:"seller_id" db:"seller_id"`
	CategoryID    string          `json:"category_id,omitempty" db:"category_id"`
	Name          string          `json:"name" db:"name"`
	Price         decimal.Decimal `json:"price" db:"price"`
	StockQuantity int             `json:"stock_quantity" db:"stock_quantity"`
}

// SellerLocation links a seller to an optional coordinate
type SellerLocation struct {
	SellerID   string      `json:"seller_id"`
	Name       string      `json:"name,omitempty"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
}

// CartLine is a requested quantity of one item
type CartLine struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// DeliveryInfo carries the checkout form fields
type DeliveryInfo struct {
	Address       string     `json:"delivery_address"`
	PaymentMethod string     `json:"payment_method"`
	DeliveryDate  *time.Time `json:"delivery_date,omitempty"`
}

// OrderStatus is the fulfilment state of an order
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusDispatched OrderStatus = "dispatched"
	StatusOnTheWay   OrderStatus = "on_the_way"
	StatusReceived   OrderStatus = "received"
)

// Next returns the status that follows s, or false when s is terminal or unknown
func (s OrderStatus) Next() (OrderStatus, bool) {
	switch s {
	case StatusPending:
		return StatusDispatched, true
	case StatusDispatched:
		return StatusOnTheWay, true
	case StatusOnTheWay:
		return StatusReceived, true
	}
	return "", false
}

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDispatched, StatusOnTheWay, StatusReceived:
		return true
	}
	return false
}

// Order is one committed cart line
type Order struct {
	ID              string          `json:"id" db:"id"`
	ItemID          string          `json:"item_id" db:"item_id"`
	SellerID        string          `json:"seller_id" db:"seller_id"`
	CustomerID      string          `json:"customer_id" db:"customer_id"`
	Quantity        int             `json:"quantity" db:"quantity"`
	TotalPrice      decimal.Decimal `json:"total_price" db:"total_price"`
	DeliveryAddress string          `json:"delivery_address" db:"delivery_address"`
	PaymentMethod   string          `json:"payment_method" db:"payment_method"`
	DeliveryDate    *time.Time      `json:"delivery_date,omitempty" db:"delivery_date"`
	Status          OrderStatus     `json:"status" db:"status"`
	StockConflict   bool            `json:"stock_conflict" db:"stock_conflict"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}
