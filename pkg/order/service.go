package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kass/go-mart-connect/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// OrderFilter narrows ListOrders. Empty fields match everything.
type OrderFilter struct {
	CustomerID string
	SellerID   string
}

// Repository adds order reads and status updates to Store.
type Repository interface {
	Store
	// GetOrder returns ErrOrderNotFound when the order does not exist.
	GetOrder(ctx context.Context, orderID string) (models.Order, error)
	// UpdateOrderStatus moves the order to `to` only if it is still in
	// `from`, and reports whether it did.
	UpdateOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus, at time.Time) (bool, error)
	// ListOrders returns matching orders newest first.
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
}

// OrderPlacedEvent is published after a checkout created its orders.
type OrderPlacedEvent struct {
	EventID         string          `json:"eventId"`
	CustomerID      string          `json:"customerId"`
	OrderIDs        []string        `json:"orderIds"`
	Orders          []models.Order  `json:"orders"`
	Total           decimal.Decimal `json:"total"`
	ConflictItemIDs []string        `json:"conflictItemIds,omitempty"`
	DeliveryAddress string          `json:"deliveryAddress"`
	PaymentMethod   string          `json:"paymentMethod"`
	Timestamp       time.Time       `json:"timestamp"`
}

// StatusChangedEvent is published when a seller advances an order.
type StatusChangedEvent struct {
	EventID    string             `json:"eventId"`
	OrderID    string             `json:"orderId"`
	CustomerID string             `json:"customerId"`
	SellerID   string             `json:"sellerId"`
	From       models.OrderStatus `json:"from"`
	To         models.OrderStatus `json:"to"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Notifier receives order events. Failures never undo a checkout.
type Notifier interface {
	OrderPlaced(ctx context.Context, ev OrderPlacedEvent) error
	StatusChanged(ctx context.Context, ev StatusChangedEvent) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) OrderPlaced(context.Context, OrderPlacedEvent) error     { return nil }
func (NopNotifier) StatusChanged(context.Context, StatusChangedEvent) error { return nil }

// ServiceConfig configures a Service.
type ServiceConfig struct {
	ConflictRetries int
	NotifyTimeout   time.Duration
	Clock           func() time.Time
}

// CheckoutRequest is one shopper's checkout submission.
type CheckoutRequest struct {
	CustomerID string              `json:"customer_id"`
	Lines      []models.CartLine   `json:"items"`
	Delivery   models.DeliveryInfo `json:"delivery"`
}

// Service wires the placer to order queries, status transitions and
// notifications.
type Service struct {
	repo          Repository
	placer        *Placer
	notifier      Notifier
	notifyTimeout time.Duration
	clock         func() time.Time
}

// NewService creates a Service. A nil notifier disables notifications.
func NewService(repo Repository, notifier Notifier, cfg ServiceConfig) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{
		repo:          repo,
		placer:        NewPlacer(repo, Options{ConflictRetries: cfg.ConflictRetries, Clock: cfg.Clock}),
		notifier:      notifier,
		notifyTimeout: cfg.NotifyTimeout,
		clock:         cfg.Clock,
	}
}

// Checkout places the order and then notifies. Notification errors are
// logged only.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*Receipt, error) {
	receipt, err := s.placer.PlaceOrder(ctx, req.Lines, req.CustomerID, req.Delivery)
	if err != nil {
		return receipt, err
	}

	ev := OrderPlacedEvent{
		EventID:         uuid.NewString(),
		CustomerID:      req.CustomerID,
		OrderIDs:        receipt.OrderIDs,
		Orders:          receipt.Orders,
		Total:           receipt.Total,
		DeliveryAddress: req.Delivery.Address,
		PaymentMethod:   receipt.Orders[0].PaymentMethod,
		Timestamp:       s.clock().UTC(),
	}
	for _, c := range receipt.Conflicts() {
		ev.ConflictItemIDs = append(ev.ConflictItemIDs, c.ItemID)
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	if err := s.notifier.OrderPlaced(nctx, ev); err != nil {
		log.Error().Err(err).Str("customerId", req.CustomerID).Strs("orderIds", receipt.OrderIDs).Msg("Failed to publish order placed notification")
	}

	log.Info().Str("customerId", req.CustomerID).Int("orders", len(receipt.OrderIDs)).
		Int("conflicts", len(ev.ConflictItemIDs)).Str("total", receipt.Total.StringFixed(2)).Msg("Checkout completed")
	return receipt, nil
}

// AdvanceStatus moves an order one step along
// pending, dispatched, on_the_way, received. Only the seller owning the
// order may do this.
func (s *Service) AdvanceStatus(ctx context.Context, orderID, sellerID string, next models.OrderStatus) (models.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		return models.Order{}, err
	}
	if err != nil {
		return models.Order{}, backendError("load order "+orderID, err)
	}
	if o.SellerID != sellerID {
		return models.Order{}, ErrNotOrderSeller
	}

	want, ok := o.Status.Next()
	if !ok || want != next {
		return models.Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}

	now := s.clock().UTC()
	updated, err := s.repo.UpdateOrderStatus(ctx, orderID, o.Status, next, now)
	if err != nil {
		return models.Order{}, backendError("update status of order "+orderID, err)
	}
	if !updated {
		return models.Order{}, fmt.Errorf("%w: order %s is no longer %s", ErrInvalidTransition, orderID, o.Status)
	}

	prev := o.Status
	o.Status = next
	o.UpdatedAt = now

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	err = s.notifier.StatusChanged(nctx, StatusChangedEvent{
		EventID:    uuid.NewString(),
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		SellerID:   o.SellerID,
		From:       prev,
		To:         next,
		Timestamp:  now,
	})
	if err != nil {
		log.Error().Err(err).Str("orderId", o.ID).Msg("Failed to publish status change")
	}
	return o, nil
}

// CustomerOrders lists a customer's orders newest first.
func (s *Service) CustomerOrders(ctx context.Context, customerID string) ([]models.Order, error) {
	if customerID == "" {
		return nil, ErrMissingCustomer
	}
	orders, err := s.repo.ListOrders(ctx, OrderFilter{CustomerID: customerID})
	if err != nil {
		return nil, backendError("list customer orders", err)
	}
	return orders, nil
}

// SellerOrders lists orders for a seller's items newest first.
func (s *Service) SellerOrders(ctx context.Context, sellerID string) ([]models.Order, error) {
	if sellerID == "" {
		return nil, ErrMissingSeller
	}
	orders, err := s.repo.ListOrders(ctx, OrderFilter{SellerID: sellerID})
	if err != nil {
		return nil, backendError("list seller orders", err)
	}
	return orders, nil
}
