package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	pkgauth "github.com/BradenHooton/keystone/pkg/auth"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes bounds every JSON request body
const maxBodyBytes = 1 << 20

// MessageResponse is the body of endpoints that only acknowledge a request
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeAndValidate reads a JSON body into dst and validates it. It writes
// the 400 response itself and reports whether the handler may continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		pkghttp.WriteBadRequest(w)
		return false
	}
	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.MsgValidationFailed)
		return false
	}
	return true
}

// writeServiceError maps a service error onto the error taxonomy. Errors
// outside the taxonomy are logged and surface as INTERNAL_ERROR.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var pve *pkgauth.PasswordValidationError
	if errors.As(err, &pve) {
		pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.MsgValidationFailed)
		return
	}

	status, msg, known := pkghttp.FromError(err)
	if !known {
		logger.Error("request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	pkghttp.WriteError(w, status, msg)
}
