package api

import (
	"encoding/json"
	"net/http"
)

// Action names one operation of the admin-auth endpoint.
type Action string

const (
	ActionCheckStatus          Action = "check-status"
	ActionSetup                Action = "setup"
	ActionLogin                Action = "login"
	ActionLoginWithFile        Action = "login-with-file"
	ActionChangePassword       Action = "change-password"
	ActionGenerateResetKey     Action = "generate-reset-key"
	ActionGenerateAuthFile     Action = "generate-auth-file"
	ActionResetPasswordWithKey Action = "reset-password-with-key"
	ActionValidateSession      Action = "validate-session"
	ActionLogout               Action = "logout"
)

// Actions lists every supported action.
var Actions = []Action{
	ActionCheckStatus,
	ActionSetup,
	ActionLogin,
	ActionLoginWithFile,
	ActionChangePassword,
	ActionGenerateResetKey,
	ActionGenerateAuthFile,
	ActionResetPasswordWithKey,
	ActionValidateSession,
	ActionLogout,
}

// actionHandler decodes the raw body into an action's request type and runs it.
type actionHandler func(a *API, w http.ResponseWriter, r *http.Request, body []byte)

func handle[T any](fn func(*API, http.ResponseWriter, *http.Request, T)) actionHandler {
	return func(a *API, w http.ResponseWriter, r *http.Request, body []byte) {
		var req T
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", codeBadRequest)
			return
		}
		fn(a, w, r, req)
	}
}

var actionHandlers = map[Action]actionHandler{
	ActionCheckStatus:          handle((*API).checkStatus),
	ActionSetup:                handle((*API).setup),
	ActionLogin:                handle((*API).login),
	ActionLoginWithFile:        handle((*API).loginWithFile),
	ActionChangePassword:       handle((*API).changePassword),
	ActionGenerateResetKey:     handle((*API).generateResetKey),
	ActionGenerateAuthFile:     handle((*API).generateAuthFile),
	ActionResetPasswordWithKey: handle((*API).resetPasswordWithKey),
	ActionValidateSession:      handle((*API).validateSession),
	ActionLogout:               handle((*API).logout),
}
