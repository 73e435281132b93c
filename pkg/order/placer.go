// Package order turns carts into orders without overselling.
//
// Stock is decremented with a compare-and-swap against the quantity read
// during validation, so concurrent checkouts of the same item can never
// drive stock negative. No multi-row transaction is required from the
// store; a lost race is reported per line instead of rolled back.
package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kass/go-mart-connect/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DefaultPaymentMethod is used when the checkout form leaves it blank.
const DefaultPaymentMethod = "offline"

// Store is the minimal persistence contract the placer relies on.
type Store interface {
	// GetItem returns ErrItemNotFound when the item does not exist.
	GetItem(ctx context.Context, itemID string) (models.Item, error)
	InsertOrder(ctx context.Context, o models.Order) error
	// CompareAndSwapStock sets the stock to next only if it currently
	// equals observed, and reports whether it did.
	CompareAndSwapStock(ctx context.Context, itemID string, observed, next int) (bool, error)
	FlagStockConflict(ctx context.Context, orderID string) error
}

// Outcome is the terminal state of one cart line.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeConflict  Outcome = "stock_conflict"
	OutcomeRejected  Outcome = "rejected"
	// OutcomeUnknown marks a line whose order exists but whose stock
	// write failed against the backend.
	OutcomeUnknown Outcome = "unknown"
)

// LineResult is the per-line verdict of a checkout.
type LineResult struct {
	ItemID    string  `json:"item_id"`
	Quantity  int     `json:"quantity"`
	OrderID   string  `json:"order_id,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Available *int    `json:"available,omitempty"`
	Err       error   `json:"-"`
}

// Message renders Err for API consumers.
func (l LineResult) Message() string {
	if l.Err == nil {
		return ""
	}
	return l.Err.Error()
}

// Receipt summarises what PlaceOrder wrote.
type Receipt struct {
	OrderIDs []string        `json:"order_ids"`
	Orders   []models.Order  `json:"orders"`
	Total    decimal.Decimal `json:"total"`
	Lines    []LineResult    `json:"lines"`
}

// Conflicts returns the lines whose order exists but whose stock
// decrement lost a race.
func (r *Receipt) Conflicts() []LineResult {
	var out []LineResult
	for _, l := range r.Lines {
		if l.Outcome == OutcomeConflict {
			out = append(out, l)
		}
	}
	return out
}

// Options tunes a Placer.
type Options struct {
	// ConflictRetries re-reads the stock and retries the swap after a
	// conflict. Only 0 and 1 are honoured.
	ConflictRetries int
	Clock           func() time.Time
	NewID           func() string
}

// Placer runs the validate, create, decrement sequence of a checkout.
type Placer struct {
	store Store
	opts  Options
}

// NewPlacer creates a placer over store.
func NewPlacer(store Store, opts Options) *Placer {
	if opts.ConflictRetries < 0 {
		opts.ConflictRetries = 0
	}
	if opts.ConflictRetries > 1 {
		opts.ConflictRetries = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Placer{store: store, opts: opts}
}

type checkedLine struct {
	line models.CartLine
	item models.Item
}

// PlaceOrder validates every line, creates one pending order per line and
// decrements stock with a compare-and-swap on the quantity it validated.
//
// If any line fails validation a *ValidationError listing all failing
// lines is returned and nothing is written. Once the first order is
// inserted the remaining writes ignore ctx cancellation so no order is
// left without its stock attempt. Store failures are wrapped with
// ErrBackendUnavailable and returned together with the partial receipt.
func (p *Placer) PlaceOrder(ctx context.Context, lines []models.CartLine, customerID string, delivery models.DeliveryInfo) (*Receipt, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, ErrMissingCustomer
	}
	if strings.TrimSpace(delivery.Address) == "" {
		return nil, ErrMissingAddress
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	if delivery.PaymentMethod == "" {
		delivery.PaymentMethod = DefaultPaymentMethod
	}

	checked, err := p.validate(ctx, mergeLines(lines))
	if err != nil {
		return nil, err
	}

	wctx := context.WithoutCancel(ctx)
	receipt := &Receipt{Total: decimal.Zero}

	// commit pass
	now := p.opts.Clock().UTC()
	created := 0
	var insertErr error
	for _, c := range checked {
		o := models.Order{
			ID:              p.opts.NewID(),
			ItemID:          c.item.ID,
			SellerID:        c.item.SellerID,
			CustomerID:      customerID,
			Quantity:        c.line.Quantity,
			TotalPrice:      c.item.Price.Mul(decimal.NewFromInt(int64(c.line.Quantity))),
			DeliveryAddress: delivery.Address,
			PaymentMethod:   delivery.PaymentMethod,
			DeliveryDate:    delivery.DeliveryDate,
			Status:          models.StatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := p.store.InsertOrder(wctx, o); err != nil {
			insertErr = backendError("insert order for item "+c.item.ID, err)
			log.Error().Err(err).Str("itemId", c.item.ID).Str("customerId", customerID).Msg("Failed to create order row")
			break
		}
		receipt.OrderIDs = append(receipt.OrderIDs, o.ID)
		receipt.Orders = append(receipt.Orders, o)
		receipt.Total = receipt.Total.Add(o.TotalPrice)
		created++
	}

	// decrement pass, only for lines whose order row exists
	var errs []error
	if insertErr != nil {
		errs = append(errs, insertErr)
	}
	for i := 0; i < created; i++ {
		res, err := p.decrement(wctx, checked[i], &receipt.Orders[i])
		receipt.Lines = append(receipt.Lines, res)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return receipt, errors.Join(errs...)
	}
	return receipt, nil
}

func (p *Placer) validate(ctx context.Context, lines []models.CartLine) ([]checkedLine, error) {
	checked := make([]checkedLine, 0, len(lines))
	var failures []LineResult
	for _, line := range lines {
		reject := func(err error) {
			failures = append(failures, LineResult{
				ItemID:   line.ItemID,
				Quantity: line.Quantity,
				Outcome:  OutcomeRejected,
				Err:      err,
			})
		}

		if line.Quantity <= 0 {
			reject(ErrInvalidQuantity)
			continue
		}

		item, err := p.store.GetItem(ctx, line.ItemID)
		switch {
		case errors.Is(err, ErrItemNotFound):
			reject(ErrItemNotFound)
			continue
		case err != nil:
			return nil, backendError("read stock for item "+line.ItemID, err)
		}

		switch {
		case item.StockQuantity <= 0:
			reject(ErrOutOfStock)
		case item.StockQuantity < line.Quantity:
			reject(&InsufficientStockError{Available: item.StockQuantity, Requested: line.Quantity})
			failures[len(failures)-1].Available = &item.StockQuantity
		default:
			checked = append(checked, checkedLine{line: line, item: item})
		}
	}

	if len(failures) > 0 {
		return nil, &ValidationError{Failures: failures}
	}
	return checked, nil
}

func (p *Placer) decrement(ctx context.Context, c checkedLine, o *models.Order) (LineResult, error) {
	res := LineResult{ItemID: c.item.ID, Quantity: c.line.Quantity, OrderID: o.ID}
	observed := c.item.StockQuantity

	for attempt := 0; ; attempt++ {
		swapped, err := p.store.CompareAndSwapStock(ctx, c.item.ID, observed, observed-c.line.Quantity)
		if err != nil {
			res.Outcome = OutcomeUnknown
			res.Err = backendError("decrement stock for item "+c.item.ID, err)
			return res, res.Err
		}
		if swapped {
			res.Outcome = OutcomeCommitted
			return res, nil
		}
		if attempt >= p.opts.ConflictRetries {
			break
		}

		fresh, err := p.store.GetItem(ctx, c.item.ID)
		if err != nil && !errors.Is(err, ErrItemNotFound) {
			res.Outcome = OutcomeUnknown
			res.Err = backendError("re-read stock for item "+c.item.ID, err)
			return res, res.Err
		}
		if err != nil || fresh.StockQuantity < c.line.Quantity {
			break
		}
		log.Debug().Str("itemId", c.item.ID).Int("observed", observed).Int("fresh", fresh.StockQuantity).Msg("Retrying stock swap after conflict")
		observed = fresh.StockQuantity
	}

	res.Outcome = OutcomeConflict
	res.Err = ErrStockConflict
	o.StockConflict = true
	log.Warn().Str("orderId", o.ID).Str("itemId", c.item.ID).Int("observed", observed).Int("requested", c.line.Quantity).
		Msg("Stock changed during checkout; order left pending for reconciliation")

	if err := p.store.FlagStockConflict(ctx, o.ID); err != nil {
		log.Error().Err(err).Str("orderId", o.ID).Msg("Failed to flag stock conflict on order")
	}
	return res, nil
}

// mergeLines sums quantities of repeated items, keeping first-seen order.
func mergeLines(lines []models.CartLine) []models.CartLine {
	out := make([]models.CartLine, 0, len(lines))
	pos := make(map[string]int, len(lines))
	for _, l := range lines {
		if i, ok := pos[l.ItemID]; ok && l.Quantity > 0 && out[i].Quantity > 0 {
			out[i].Quantity += l.Quantity
			continue
		}
		if _, ok := pos[l.ItemID]; !ok {
			pos[l.ItemID] = len(out)
		}
		out = append(out, l)
	}
	return out
}
