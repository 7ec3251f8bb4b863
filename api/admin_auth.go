package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/cmdbook/auth"
)

// AdminAuth handles POST /admin-auth. The body names an action and carries
// that action's parameters; the action table decodes and runs it.
func (a *API) AdminAuth(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	body, err := readBody(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", codeRequestTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body", codeBadRequest)
		return
	}

	var envelope AdminAuthRequest
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", codeBadRequest)
		return
	}
	handler, ok := actionHandlers[envelope.Action]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown action", codeUnknownAction)
		return
	}
	handler(a, w, r, body)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// sessionToken prefers the token in the body and falls back to an
// Authorization bearer header.
func sessionToken(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (a *API) checkStatus(w http.ResponseWriter, r *http.Request, _ CheckStatusRequest) {
	status, err := a.svc.Status(r.Context())
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{IsFirstTimeSetup: status.FirstTimeSetup})
}

func (a *API) setup(w http.ResponseWriter, r *http.Request, req SetupRequest) {
	sess, err := a.svc.Setup(r.Context(), req.Password)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditSetup, r)
	writeSession(w, sess)
}

func (a *API) login(w http.ResponseWriter, r *http.Request, req LoginRequest) {
	sess, err := a.svc.Login(r.Context(), req.Password)
	if err != nil {
		err = collapseNotInitialized(err)
		if auth.KindOf(err) == auth.KindInvalidCredential {
			a.audit.logFailure(AuditLoginFailure, r, string(auth.KindInvalidCredential),
				slog.String("method", "password"))
		}
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditLoginSuccess, r)
	writeSession(w, sess)
}

func (a *API) loginWithFile(w http.ResponseWriter, r *http.Request, req LoginWithFileRequest) {
	sess, err := a.svc.LoginWithFile(r.Context(), req.FileContent)
	if err != nil {
		err = collapseNotInitialized(err)
		if kind := auth.KindOf(err); kind != auth.KindStorageFailure {
			a.audit.logFailure(AuditLoginFailure, r, string(kind),
				slog.String("method", "file"))
		}
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditLoginFileSuccess, r)
	writeSession(w, sess)
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request, req ChangePasswordRequest) {
	token := sessionToken(r, req.SessionToken)
	sess, err := a.svc.ChangePassword(r.Context(), token, req.CurrentPassword, req.NewPassword)
	if err != nil {
		a.auditSessionFailure(r, err)
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditPasswordChanged, r)
	writeSession(w, sess)
}

func (a *API) generateAuthFile(w http.ResponseWriter, r *http.Request, req GenerateFileRequest) {
	token := sessionToken(r, req.SessionToken)
	key, err := a.svc.GenerateAuthFile(r.Context(), token, req.CurrentPassword)
	if err != nil {
		a.auditSessionFailure(r, err)
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditAuthFileGenerated, r)
	writeJSON(w, http.StatusOK, KeyResponse{Success: true, Key: key})
}

func (a *API) generateResetKey(w http.ResponseWriter, r *http.Request, req GenerateFileRequest) {
	token := sessionToken(r, req.SessionToken)
	key, err := a.svc.GenerateResetKey(r.Context(), token, req.CurrentPassword)
	if err != nil {
		a.auditSessionFailure(r, err)
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditResetKeyGenerated, r)
	writeJSON(w, http.StatusOK, KeyResponse{Success: true, Key: key})
}

func (a *API) resetPasswordWithKey(w http.ResponseWriter, r *http.Request, req ResetPasswordRequest) {
	sess, err := a.svc.ResetPasswordWithKey(r.Context(), req.FileContent, req.NewPassword)
	if err != nil {
		if kind := auth.KindOf(err); kind != auth.KindStorageFailure && kind != auth.KindTooShort {
			a.audit.logFailure(AuditPasswordResetFail, r, string(kind))
		}
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditPasswordReset, r)
	writeSession(w, sess)
}

func (a *API) validateSession(w http.ResponseWriter, r *http.Request, req SessionRequest) {
	v, err := a.svc.ValidateSession(r.Context(), sessionToken(r, req.SessionToken))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Valid: v.Valid, IsFirstTimeSetup: v.FirstTimeSetup})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request, req SessionRequest) {
	if err := a.svc.Logout(r.Context(), sessionToken(r, req.SessionToken)); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditLogout, r)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// auditSessionFailure records rejected session-bound calls. Wrong current
// passwords count toward the login failure window.
func (a *API) auditSessionFailure(r *http.Request, err error) {
	switch auth.KindOf(err) {
	case auth.KindSessionInvalid:
		a.audit.logFailure(AuditSessionInvalid, r, string(auth.KindSessionInvalid))
	case auth.KindInvalidCredential:
		a.audit.logFailure(AuditLoginFailure, r, string(auth.KindInvalidCredential),
			slog.String("method", "current_password"))
	}
}

func writeSession(w http.ResponseWriter, sess auth.Session) {
	writeJSON(w, http.StatusOK, SessionResponse{
		Success:      true,
		SessionToken: sess.Token,
		ExpiresAt:    sess.ExpiresAt,
	})
}
