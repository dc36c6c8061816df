package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/monscodex/spot-and-block/internal/entity"
)

// JSONResponse sends a JSON response with the given status code
func JSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// ErrorResponse sends a JSON error response
func ErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"error":   message,
		"success": false,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	JSONResponse(w, statusCode, response)
}

// DecodeJSON decodes JSON from request body
func DecodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// ProviderErrorResponse maps provider failures onto upstream-facing status
// codes. Credential rejections carry a marker field so the caller can alert
// once and stop retrying.
func ProviderErrorResponse(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrInvalidCredentials):
		JSONResponse(w, http.StatusBadGateway, map[string]interface{}{
			"error":               "provider rejected the configured API key",
			"success":             false,
			"invalid_credentials": true,
			"details":             err.Error(),
		})
	case errors.Is(err, entity.ErrQuotaExceeded):
		ErrorResponse(w, http.StatusServiceUnavailable, "provider quota exhausted, try again later", err)
	default:
		var statusErr *entity.StatusError
		var validationErr *entity.ValidationError
		if errors.As(err, &statusErr) || errors.As(err, &validationErr) {
			ErrorResponse(w, http.StatusBadGateway, "provider returned an unusable response", err)
			return
		}
		ErrorResponse(w, http.StatusInternalServerError, "assessment failed", err)
	}
}
