package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/BradenHooton/keystone/internal/models"
)

// Machine-readable messages returned at the boundary
const (
	MsgBadRequest          = "BAD_REQUEST"
	MsgValidationFailed    = "VALIDATION_FAILED"
	MsgUnauthorized        = "UNAUTHORIZED"
	MsgInvalidCredentials  = "INVALID_CREDENTIALS"
	MsgTokenExpired        = "TOKEN_EXPIRED"
	MsgTokenInvalid        = "TOKEN_INVALID"
	MsgTokenAlreadyUsed    = "TOKEN_ALREADY_USED"
	MsgNotFound            = "NOT_FOUND"
	MsgConflict            = "CONFLICT"
	MsgRateLimited         = "RATE_LIMITED"
	MsgTwoFactorRequired   = "TWO_FACTOR_REQUIRED"
	MsgTwoFactorNotEnabled = "TWO_FACTOR_NOT_ENABLED"
	MsgInvalidTwoFactor    = "INVALID_TWO_FACTOR_CODE"
	MsgInternalError       = "INTERNAL_ERROR"
)

// ErrorResponse is the error payload returned by every endpoint
type ErrorResponse struct {
	Error      bool   `json:"error"`
	Message    string `json:"message"`              // Enum string, never free text
	Code       int    `json:"code"`                 // HTTP status
	RetryAfter *int   `json:"retryAfter,omitempty"` // Seconds, on 429 only
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	writeErrorResponse(w, ErrorResponse{Error: true, Message: message, Code: statusCode})
}

// WriteRateLimited writes a 429 response carrying retryAfter in seconds
func WriteRateLimited(w http.ResponseWriter, retryAfterSeconds int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	writeErrorResponse(w, ErrorResponse{
		Error:      true,
		Message:    MsgRateLimited,
		Code:       http.StatusTooManyRequests,
		RetryAfter: &retryAfterSeconds,
	})
}

func writeErrorResponse(w http.ResponseWriter, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Code)

	// Encoding errors are not exposed to the client
	_ = json.NewEncoder(w).Encode(resp)
}

// FromError maps a service error to its HTTP status and enum message.
// The second return value is false for errors outside the taxonomy, which
// the caller must log before responding.
func FromError(err error) (int, string, bool) {
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized, MsgInvalidCredentials, true
	case errors.Is(err, models.ErrTokenExpired):
		return http.StatusUnauthorized, MsgTokenExpired, true
	case errors.Is(err, models.ErrTokenInvalid):
		return http.StatusBadRequest, MsgTokenInvalid, true
	case errors.Is(err, models.ErrTokenAlreadyUsed):
		return http.StatusBadRequest, MsgTokenAlreadyUsed, true
	case errors.Is(err, models.ErrTwoFactorRequired):
		return http.StatusUnauthorized, MsgTwoFactorRequired, true
	case errors.Is(err, models.ErrInvalidCode):
		return http.StatusUnauthorized, MsgInvalidTwoFactor, true
	case errors.Is(err, models.ErrNotEnabled):
		return http.StatusBadRequest, MsgTwoFactorNotEnabled, true
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, MsgNotFound, true
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, MsgConflict, true
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests, MsgRateLimited, true
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized, MsgUnauthorized, true
	case errors.Is(err, models.ErrBadRequest):
		return http.StatusBadRequest, MsgBadRequest, true
	default:
		return http.StatusInternalServerError, MsgInternalError, false
	}
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter) {
	WriteError(w, http.StatusBadRequest, MsgBadRequest)
}

func WriteUnauthorized(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, MsgUnauthorized)
}

func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, MsgInternalError)
}
