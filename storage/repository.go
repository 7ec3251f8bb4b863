// Package storage provides the storage abstraction layer for sealed records.
//
// Records are addressed by (vaultID, recordType, recordID). A vault is a
// namespace: the admin credential lives in one vault, server-side sessions in
// another. Every backend stores opaque Envelopes and supports optimistic
// concurrency through PutCAS.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVaultNotFound is returned when no record exists under a vault ID.
	ErrVaultNotFound = errors.New("vault not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// Repository defines the interface for sealed record storage.
//
// PutCAS with expectedVersion 0 is insert-only: it fails with ErrCASFailed if
// the record already exists. Any other expectedVersion must match the stored
// envelope's Version.
type Repository interface {
	Put(ctx context.Context, vaultID, recordType, recordID string, envelope *Envelope) error
	Get(ctx context.Context, vaultID, recordType, recordID string) (*Envelope, error)
	List(ctx context.Context, vaultID, recordType string) ([]string, error)
	Delete(ctx context.Context, vaultID, recordType, recordID string) error
	PutCAS(ctx context.Context, vaultID, recordType, recordID string, expectedVersion uint64, envelope *Envelope) error
}

// IsNotFound reports whether err means the record (or its whole vault) is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrVaultNotFound)
}
