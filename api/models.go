package api

import "time"

// AdminAuthRequest is the body of POST /admin-auth. Only Action is common to
// every call; the remaining fields belong to individual actions.
type AdminAuthRequest struct {
	Action Action `json:"action"`
}

// CheckStatusRequest is the check-status action. It takes no parameters.
type CheckStatusRequest struct{}

// SetupRequest is the setup action.
type SetupRequest struct {
	Password string `json:"password"`
}

// LoginRequest is the login action.
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginWithFileRequest is the login-with-file action.
type LoginWithFileRequest struct {
	FileContent string `json:"fileContent"`
}

// ChangePasswordRequest is the change-password action.
type ChangePasswordRequest struct {
	SessionToken    string `json:"sessionToken,omitempty"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// GenerateFileRequest is shared by generate-auth-file and generate-reset-key.
type GenerateFileRequest struct {
	SessionToken    string `json:"sessionToken,omitempty"`
	CurrentPassword string `json:"currentPassword"`
}

// ResetPasswordRequest is the reset-password-with-key action.
type ResetPasswordRequest struct {
	FileContent string `json:"fileContent"`
	NewPassword string `json:"newPassword"`
}

// SessionRequest is shared by validate-session and logout.
type SessionRequest struct {
	SessionToken string `json:"sessionToken,omitempty"`
}

// StatusResponse is returned from check-status.
type StatusResponse struct {
	IsFirstTimeSetup bool `json:"isFirstTimeSetup"`
}

// SessionResponse is returned whenever a session is issued.
type SessionResponse struct {
	Success      bool      `json:"success"`
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// KeyResponse carries a generated auth file or reset key.
type KeyResponse struct {
	Success bool   `json:"success"`
	Key     string `json:"key"`
}

// ValidateResponse is returned from validate-session.
type ValidateResponse struct {
	Valid            bool `json:"valid"`
	IsFirstTimeSetup bool `json:"isFirstTimeSetup"`
}

// SuccessResponse is returned from logout.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is returned for all error cases. Code is machine-readable;
// clients must not parse Error.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}
