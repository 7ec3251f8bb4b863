package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/cmdbook/auth"
)

const (
	codeBadRequest      = "bad_request"
	codeUnknownAction   = "unknown_action"
	codeRequestTooLarge = "request_too_large"

	internalErrorMessage = "Internal server error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: msg, Code: code})
}

// statusForKind maps an auth error kind onto an HTTP status.
func statusForKind(kind auth.Kind) int {
	switch kind {
	case auth.KindTooShort, auth.KindAlreadyInitialized:
		return http.StatusBadRequest
	case auth.KindInvalidCredential,
		auth.KindMalformedArtifact,
		auth.KindArtifactStale,
		auth.KindNotInitialized,
		auth.KindSessionInvalid:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// mapError writes the failure body for an auth.Service error. Storage
// failures are reported generically; the cause is logged, never returned.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "admin-auth request failed", slog.Any("error", err))
		writeError(w, status, internalErrorMessage, string(auth.KindStorageFailure))
		return
	}
	msg := err.Error()
	var ae *auth.Error
	if errors.As(err, &ae) {
		msg = ae.Message()
	}
	writeError(w, status, msg, string(kind))
}

// collapseNotInitialized reports a missing admin as a bad credential so the
// login paths do not reveal whether setup has happened.
func collapseNotInitialized(err error) error {
	if auth.KindOf(err) != auth.KindNotInitialized {
		return err
	}
	op := "login"
	var ae *auth.Error
	if errors.As(err, &ae) && ae.Op != "" {
		op = ae.Op
	}
	return &auth.Error{Kind: auth.KindInvalidCredential, Op: op, Err: auth.ErrInvalidCredential}
}
