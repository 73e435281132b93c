// Package api exposes the catalogue and checkout over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kass/go-mart-connect/pkg/catalog"
	"github.com/kass/go-mart-connect/pkg/order"
	"github.com/rs/zerolog/log"
)

// jsonError represents a JSON error payload.
type jsonError struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// WriteJSONError writes a JSON error payload with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, code string, details any) {
	writeJSON(w, status, jsonError{Error: code, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// errorStatus maps domain errors to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	var verr *order.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusConflict, "validation_failed"
	case errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrMissingCustomer),
		errors.Is(err, order.ErrMissingAddress),
		errors.Is(err, order.ErrMissingSeller),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, catalog.ErrInvalidOrigin):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, order.ErrNotOrderSeller):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, "invalid_transition"
	case errors.Is(err, order.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, "backend_unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("requestId", RequestIDFromContext(r.Context())).Str("path", r.URL.Path).Msg("Request failed")
	}

	var verr *order.ValidationError
	if errors.As(err, &verr) {
		WriteJSONError(w, status, code, lineViews(verr.Failures))
		return
	}
	WriteJSONError(w, status, code, err.Error())
}
