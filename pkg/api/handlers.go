package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/kass/go-mart-connect/pkg/catalog"
	"github.com/kass/go-mart-connect/pkg/geo"
	"github.com/kass/go-mart-connect/pkg/models"
	"github.com/kass/go-mart-connect/pkg/order"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	customerIDHeader = "X-Customer-ID"
	sellerIDHeader   = "X-Seller-ID"
)

// Handler serves the HTTP API.
type Handler struct {
	Catalog  *catalog.Service
	Orders   *order.Service
	Geocoder geo.Geocoder
	// DefaultRadiusKm applies when a product search gives no radius.
	DefaultRadiusKm float64
	// Ready reports backend health for /health. Nil means always ready.
	Ready func(ctx context.Context) error
}

type nearbyResponse struct {
	Items []geo.Ranked `json:"items"`
	Count int          `json:"count"`
}

func (h *Handler) nearbyProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	origin, err := parseOrigin(q.Get("lat"), q.Get("lon"), false)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	radius := h.DefaultRadiusKm
	if raw := q.Get("radius_km"); raw != "" {
		if radius, err = strconv.ParseFloat(raw, 64); err != nil {
			WriteJSONError(w, http.StatusBadRequest, "invalid_query", "radius_km must be a number")
			return
		}
	}
	inStock := false
	if raw := q.Get("in_stock"); raw != "" {
		if inStock, err = strconv.ParseBool(raw); err != nil {
			WriteJSONError(w, http.StatusBadRequest, "invalid_query", "in_stock must be a boolean")
			return
		}
	}

	ranked, err := h.Catalog.Nearby(r.Context(), catalog.NearbyQuery{
		Origin:   origin,
		RadiusKm: radius,
		ItemFilter: catalog.ItemFilter{
			CategoryID:  q.Get("category"),
			Search:      q.Get("q"),
			InStockOnly: inStock,
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nearbyResponse{Items: ranked, Count: len(ranked)})
}

func (h *Handler) nearbySellers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	origin, err := parseOrigin(q.Get("lat"), q.Get("lon"), true)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	radius := 0.0
	if raw := q.Get("radius_km"); raw != "" {
		if radius, err = strconv.ParseFloat(raw, 64); err != nil {
			WriteJSONError(w, http.StatusBadRequest, "invalid_query", "radius_km must be a number")
			return
		}
	}
	k := 0
	if raw := q.Get("k"); raw != "" {
		if k, err = strconv.Atoi(raw); err != nil {
			WriteJSONError(w, http.StatusBadRequest, "invalid_query", "k must be an integer")
			return
		}
	}

	sellers, err := h.Catalog.NearbySellers(r.Context(), *origin, radius, k)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sellers == nil {
		sellers = []geo.Neighbor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sellers": sellers, "count": len(sellers)})
}

func (h *Handler) geocode(w http.ResponseWriter, r *http.Request) {
	if h.Geocoder == nil {
		WriteJSONError(w, http.StatusServiceUnavailable, "geocoder_disabled", "")
		return
	}
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		var err error
		if limit, err = strconv.Atoi(raw); err != nil {
			WriteJSONError(w, http.StatusBadRequest, "invalid_query", "limit must be an integer")
			return
		}
	}

	results, err := h.Geocoder.Search(r.Context(), q.Get("q"), limit)
	if err != nil {
		WriteJSONError(w, http.StatusBadGateway, "geocoder_unavailable", err.Error())
		return
	}
	if results == nil {
		results = []geo.GeocodeResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type checkoutRequest struct {
	Items           []models.CartLine `json:"items"`
	DeliveryAddress string            `json:"delivery_address"`
	PaymentMethod   string            `json:"payment_method"`
	DeliveryDate    *time.Time        `json:"delivery_date,omitempty"`
}

type lineView struct {
	order.LineResult
	Error string `json:"error,omitempty"`
}

func lineViews(lines []order.LineResult) []lineView {
	out := make([]lineView, 0, len(lines))
	for _, l := range lines {
		out = append(out, lineView{LineResult: l, Error: l.Message()})
	}
	return out
}

type checkoutResponse struct {
	OrderIDs  []string        `json:"order_ids"`
	Orders    []models.Order  `json:"orders"`
	Total     decimal.Decimal `json:"total"`
	Lines     []lineView      `json:"lines"`
	Conflicts []lineView      `json:"conflicts"`
}

type partialCheckout struct {
	Error   string           `json:"error"`
	Details string           `json:"details"`
	Receipt checkoutResponse `json:"receipt"`
}

func receiptView(rc *order.Receipt) checkoutResponse {
	return checkoutResponse{
		OrderIDs:  rc.OrderIDs,
		Orders:    rc.Orders,
		Total:     rc.Total,
		Lines:     lineViews(rc.Lines),
		Conflicts: lineViews(rc.Conflicts()),
	}
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	customerID := strings.TrimSpace(r.Header.Get(customerIDHeader))
	if customerID == "" {
		WriteJSONError(w, http.StatusBadRequest, "invalid_request", customerIDHeader+" header is required")
		return
	}
	var body checkoutRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	receipt, err := h.Orders.Checkout(r.Context(), order.CheckoutRequest{
		CustomerID: customerID,
		Lines:      body.Items,
		Delivery: models.DeliveryInfo{
			Address:       body.DeliveryAddress,
			PaymentMethod: body.PaymentMethod,
			DeliveryDate:  body.DeliveryDate,
		},
	})
	if err != nil {
		// orders already written are reported alongside the error
		if receipt != nil && len(receipt.OrderIDs) > 0 {
			status, code := errorStatus(err)
			log.Error().Err(err).Str("customerId", customerID).Strs("orderIds", receipt.OrderIDs).Msg("Checkout partially written")
			writeJSON(w, status, partialCheckout{Error: code, Details: err.Error(), Receipt: receiptView(receipt)})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receiptView(receipt))
}

func (h *Handler) customerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Orders.CustomerOrders(r.Context(), mux.Vars(r)["id"])
	h.writeOrders(w, r, orders, err)
}

func (h *Handler) sellerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Orders.SellerOrders(r.Context(), mux.Vars(r)["id"])
	h.writeOrders(w, r, orders, err)
}

func (h *Handler) writeOrders(w http.ResponseWriter, r *http.Request, orders []models.Order, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

type statusRequest struct {
	Status models.OrderStatus `json:"status"`
}

func (h *Handler) advanceStatus(w http.ResponseWriter, r *http.Request) {
	sellerID := strings.TrimSpace(r.Header.Get(sellerIDHeader))
	if sellerID == "" {
		WriteJSONError(w, http.StatusBadRequest, "invalid_request", sellerIDHeader+" header is required")
		return
	}
	var body statusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if !body.Status.Valid() {
		WriteJSONError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unknown status %q", body.Status))
		return
	}

	o, err := h.Orders.AdvanceStatus(r.Context(), mux.Vars(r)["id"], sellerID, body.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			WriteJSONError(w, http.StatusServiceUnavailable, "unhealthy", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseOrigin reads an optional lat/lon pair. Both or neither must be set.
func parseOrigin(rawLat, rawLon string, required bool) (*models.Coordinate, error) {
	if rawLat == "" && rawLon == "" {
		if required {
			return nil, errors.New("lat and lon are required")
		}
		return nil, nil
	}
	if rawLat == "" || rawLon == "" {
		return nil, errors.New("lat and lon must be given together")
	}
	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return nil, errors.New("lat must be a number")
	}
	lon, err := strconv.ParseFloat(rawLon, 64)
	if err != nil {
		return nil, errors.New("lon must be a number")
	}
	c := models.Coordinate{Lat: lat, Lon: lon}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
