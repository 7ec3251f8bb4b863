package auth

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable class of an auth failure. Its string value is
// the "code" reported on the wire.
type Kind string

const (
	KindTooShort           Kind = "too_short"
	KindInvalidCredential  Kind = "invalid_credential"
	KindMalformedArtifact  Kind = "malformed_artifact"
	KindArtifactStale      Kind = "artifact_stale"
	KindAlreadyInitialized Kind = "already_initialized"
	KindNotInitialized     Kind = "not_initialized"
	KindSessionInvalid     Kind = "session_invalid"
	KindStorageFailure     Kind = "storage_failure"
)

var (
	// ErrTooShort indicates a new password has fewer than MinPasswordLength characters.
	ErrTooShort = errors.New("password too short")
	// ErrInvalidCredential indicates a wrong password or a hash mismatch.
	ErrInvalidCredential = errors.New("invalid credentials")
	// ErrMalformedArtifact indicates a recovery file that cannot be decrypted or parsed,
	// or whose type does not fit the operation.
	ErrMalformedArtifact = errors.New("invalid recovery file")
	// ErrArtifactStale indicates a recovery file issued for an earlier password.
	ErrArtifactStale = errors.New("recovery file no longer matches the current password")
	// ErrAlreadyInitialized indicates setup was attempted after an admin exists.
	ErrAlreadyInitialized = errors.New("admin already set up")
	// ErrNotInitialized indicates an operation other than setup before setup.
	ErrNotInitialized = errors.New("admin not set up")
	// ErrSessionInvalid indicates a missing, unknown, expired or revoked session token.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrStorageFailure indicates the backing store could not be read or written.
	ErrStorageFailure = errors.New("storage failure")
)

var kindSentinels = map[Kind]error{
	KindTooShort:           ErrTooShort,
	KindInvalidCredential:  ErrInvalidCredential,
	KindMalformedArtifact:  ErrMalformedArtifact,
	KindArtifactStale:      ErrArtifactStale,
	KindAlreadyInitialized: ErrAlreadyInitialized,
	KindNotInitialized:     ErrNotInitialized,
	KindSessionInvalid:     ErrSessionInvalid,
	KindStorageFailure:     ErrStorageFailure,
}

// Sentinel returns the sentinel error for k, or nil if k is not a known kind.
func (k Kind) Sentinel() error {
	return kindSentinels[k]
}

// Error is returned by every Service operation. errors.Is matches it against
// the sentinel of its Kind as well as against the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := kindSentinels[e.Kind].Error()
	if e.Err == nil || e.Err == kindSentinels[e.Kind] {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == kindSentinels[e.Kind]
}

// Message is the caller-facing text for the error. It never includes the
// wrapped cause, which may carry storage internals.
func (e *Error) Message() string {
	return kindSentinels[e.Kind].Error()
}

func newError(kind Kind, op string, cause error) *Error {
	if cause == nil {
		cause = kindSentinels[kind]
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf reports the Kind of err. Errors that carry no Kind are treated as
// storage failures; nil yields "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindStorageFailure
}
