package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter registers HTTP routes and returns the handler with middleware.
func NewRouter(h *Handler) http.Handler {
	router := mux.NewRouter()
	router.Use(WithRequestID, WithLogging)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/products/nearby", h.nearbyProducts).Methods(http.MethodGet)
	api.HandleFunc("/sellers/nearby", h.nearbySellers).Methods(http.MethodGet)
	api.HandleFunc("/geocode", h.geocode).Methods(http.MethodGet)
	api.HandleFunc("/orders", h.checkout).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/status", h.advanceStatus).Methods(http.MethodPatch)
	api.HandleFunc("/customers/{id}/orders", h.customerOrders).Methods(http.MethodGet)
	api.HandleFunc("/sellers/{id}/orders", h.sellerOrders).Methods(http.MethodGet)

	router.HandleFunc("/health", h.health).Methods(http.MethodGet)

	// subrouters resolve misses themselves, so both need the JSON fallbacks
	for _, rt := range []*mux.Router{router, api} {
		rt.NotFoundHandler = http.HandlerFunc(notFound)
		rt.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	}
	return router
}

func notFound(w http.ResponseWriter, r *http.Request) {
	WriteJSONError(w, http.StatusNotFound, "not_found", r.URL.Path)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
}
