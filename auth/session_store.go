package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SessionRecord is the server-side state for an issued session token.
type SessionRecord struct {
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	Generation     string    `json:"generation"`
}

// SessionStore abstracts session CRUD so that sessions can be kept in memory
// or sealed in persistent storage. Records are addressed by session ID, the
// SHA-256 of the token; raw tokens are never stored.
//
// Expiry policy belongs to the Service, so stores return whatever they hold.
type SessionStore interface {
	// Get returns the record for id; ok is false if none exists.
	Get(ctx context.Context, id string) (rec SessionRecord, ok bool, err error)
	// Put creates or replaces the record for id.
	Put(ctx context.Context, id string, rec SessionRecord) error
	// Touch sets LastAccessedAt on the record for id if it still exists; ok
	// is false when it does not. It never recreates a deleted record.
	Touch(ctx context.Context, id string, at time.Time) (ok bool, err error)
	// Delete removes the record for id. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteIf removes every record for which match returns true and reports
	// how many were removed.
	DeleteIf(ctx context.Context, match func(SessionRecord) bool) (int, error)
}

// SessionID returns the storage key for a session token.
func SessionID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
