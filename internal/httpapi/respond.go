package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/forest6511/nimbusvault/pkg/keymgr"
	"github.com/forest6511/nimbusvault/pkg/vault"
	"github.com/forest6511/nimbusvault/pkg/weather"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return false
	}
	return true
}

// handleError maps domain errors onto status codes. Storage failures are
// logged and reported without detail.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *keymgr.AuthError
	switch {
	case errors.Is(err, vault.ErrVaultLocked):
		writeError(w, http.StatusLocked, "locked", "vault is locked")
	case errors.Is(err, keymgr.ErrCooldown):
		if errors.As(err, &authErr) && authErr.Remaining > 0 {
			w.Header().Set("Retry-After", retryAfter(authErr))
		}
		writeError(w, http.StatusTooManyRequests, "cooldown", "too many failed attempts")
	case errors.Is(err, keymgr.ErrNotInitialized):
		writeError(w, http.StatusConflict, "not_initialized", "vault is not initialized")
	case errors.Is(err, vault.ErrAuthFailed):
		writeError(w, http.StatusUnauthorized, "auth_failed", "authentication failed")
	case errors.Is(err, vault.ErrNotFound), errors.Is(err, weather.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, vault.ErrFolderExists):
		writeError(w, http.StatusConflict, "exists", err.Error())
	case errors.Is(err, vault.ErrCyclicMove), errors.Is(err, vault.ErrFolderTooDeep):
		writeError(w, http.StatusConflict, "invalid_move", err.Error())
	case errors.Is(err, vault.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
	case errors.Is(err, vault.ErrInsufficientDisk):
		writeError(w, http.StatusInsufficientStorage, "disk_full", err.Error())
	case isValidation(err):
		writeError(w, http.StatusBadRequest, "invalid", err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

var validationErrors = []error{
	vault.ErrInvalidType, vault.ErrTitleEmpty, vault.ErrTitleTooLong,
	vault.ErrFolderNameInvalid, vault.ErrFolderNameTooLong, vault.ErrSettingKeyInvalid,
	weather.ErrInvalidCoordinate, weather.ErrInvalidName, weather.ErrReorderMismatch,
	keymgr.ErrCredentialTooShort, keymgr.ErrCredentialTooLong,
}

func isValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func retryAfter(e *keymgr.AuthError) string {
	secs := int(e.Remaining.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// optionalID turns "" into nil so JSON clients can target the root with
// either null or an empty string.
func optionalID(id *string) *string {
	if id == nil || *id == "" {
		return nil
	}
	return id
}
