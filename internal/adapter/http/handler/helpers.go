package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/iho/eventledger/internal/adapter/http/dto"
	"github.com/iho/eventledger/internal/domain"
)

// retryAfterSeconds is sent with 409 responses for optimistic conflicts that
// survived the server side retries.
const retryAfterSeconds = "1"

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error:   message,
		Message: details,
	})
}

// writeDomainError maps err to a status and writes it. Internal faults are
// logged and their details kept out of the response.
func writeDomainError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := mapDomainError(err)
	code := errorCode(err)

	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
		writeJSON(w, status, dto.ErrorResponse{Error: "internal server error", Code: code})
		return
	}

	if code == string(domain.KindConflict) {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, status, dto.ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
		Code:    code,
	})
}

// mapDomainError maps domain errors to HTTP status codes.
func mapDomainError(err error) int {
	switch {
	case errors.Is(err, dto.ErrInvalidRequest),
		errors.Is(err, domain.ErrAccountIDMismatch):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrReservationAlreadyCaptured),
		errors.Is(err, domain.ErrReservationAlreadyCanceled),
		errors.Is(err, domain.ErrTransactionIDConflict),
		errors.Is(err, domain.ErrAccountInactive):
		return http.StatusConflict
	}

	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindBusinessRule:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	if errors.Is(err, dto.ErrInvalidRequest) {
		return "invalid_request"
	}
	return string(domain.KindOf(err))
}

// decodeJSON decodes the request body into v and writes a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}
