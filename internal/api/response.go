// Package api implements the HTTP control surface. It uses Chi as the
// router: realtime dispatch and introspection live under /api/ws, runtime
// settings under /api/settings, and /health plus /metrics sit at the root.
package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// envelope is the standard JSON wrapper for every response from this API.
//
// Success:     {"success":true,"data":{...}}
// Failure:     {"success":false,"error":"..."}
// Validation:  {"success":false,"error":"Validation failed","details":[...]}
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON writes a JSON-encoded response with the given status code.
// It sets Content-Type to application/json automatically.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Ok writes a 200 OK response with the payload in the success envelope.
func Ok(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// Fail writes a failure envelope with the given status and error text.
func Fail(w http.ResponseWriter, status int, errText string) {
	JSON(w, status, envelope{Success: false, Error: errText})
}

// ErrClientNotFound writes the 404 envelope used by every direct-addressed
// client operation.
func ErrClientNotFound(w http.ResponseWriter) {
	Fail(w, http.StatusNotFound, "Client not found or disconnected")
}

// ErrInternal writes the 500 envelope. The actual error stays in the logs.
func ErrInternal(w http.ResponseWriter) {
	JSON(w, http.StatusInternalServerError, envelope{
		Success: false,
		Error:   "Internal server error",
		Message: "An unexpected error occurred",
	})
}

// validationDetail is one field-level entry in a 400 response.
type validationDetail struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// failValidation writes the 400 envelope with field-level details extracted
// from a validator error.
func failValidation(w http.ResponseWriter, err error) {
	var details []validationDetail
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details = append(details, validationDetail{Field: fe.Field(), Rule: fe.Tag()})
		}
	}
	failValidationFields(w, details...)
}

// failValidationFields writes the 400 envelope from explicit details, for
// checks the struct validator cannot express.
func failValidationFields(w http.ResponseWriter, details ...validationDetail) {
	JSON(w, http.StatusBadRequest, envelope{
		Success: false,
		Error:   "Validation failed",
		Details: details,
	})
}

// decodeJSON decodes the request body into dst. Returns false and writes the
// 400 envelope if decoding fails, so callers can early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		JSON(w, http.StatusBadRequest, envelope{
			Success: false,
			Error:   "Validation failed",
			Details: "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}
