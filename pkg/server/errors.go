package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"mercator-hq/warden/pkg/approval"
	"mercator-hq/warden/pkg/approval/archive"
	"mercator-hq/warden/pkg/engine"
)

// Error codes returned in ErrorResponse.
const (
	codeInvalidRequest = "invalid_request"
	codeUnauthorized   = "unauthorized"
	codeNotFound       = "not_found"
	codeConflict       = "conflict"
	codeTooLarge       = "request_too_large"
	codeTimeout        = "timeout"
	codeUnavailable    = "unavailable"
	codeInternal       = "internal_error"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes an API error.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// writeErr maps a domain error to a status code.
func writeErr(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, codeTooLarge, err.Error())
	case errors.Is(err, engine.ErrPolicyNotFound),
		errors.Is(err, approval.ErrRequestNotFound),
		errors.Is(err, archive.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, approval.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, engine.ErrInvalidProof):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
	case errors.Is(err, engine.ErrClosed), errors.Is(err, approval.ErrEngineClosed):
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
	}
}
