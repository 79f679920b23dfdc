// Package httpapi holds the JSON response and error-mapping helpers
// shared by every role service's own internal/httpapi package, keyed
// on the enumerated *apperr.Error codes used throughout this module.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ap2-labs/ap2-reference/internal/apperr"
)

// RespondJSON writes data as a JSON response body with the given
// status code.
func RespondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes err as a JSON error body. An *apperr.Error
// carries its own code and HTTP status; any other error is logged and
// reported as an opaque internal error so handler code never leaks
// unexpected detail to callers.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		RespondJSON(w, appErr.ErrCode.HTTPStatus(), appErr)
		return
	}

	slog.ErrorContext(r.Context(), "unhandled error", "error", err)
	RespondJSON(w, http.StatusInternalServerError, apperr.New(apperr.InternalError, "internal error", nil))
}

// DecodeJSON decodes the request body into v, returning an
// apperr.InvalidRequest error on malformed JSON.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.New(apperr.InvalidRequest, "malformed request body", map[string]any{"error": err.Error()})
	}
	return nil
}
