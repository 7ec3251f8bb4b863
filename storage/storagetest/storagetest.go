// Package storagetest holds the behaviour every storage.Repository backend
// must share. Backend packages call Run from their own tests.
package storagetest

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/jmcleod/cmdbook/storage"
)

func envelope(version uint64, payload string) *storage.Envelope {
	return &storage.Envelope{
		Ver:        1,
		Scheme:     "aes256gcm",
		Nonce:      make([]byte, 12),
		Ciphertext: []byte(payload),
		Version:    version,
	}
}

// Run exercises repo against the storage.Repository contract. The repository
// must start empty.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	ctx := t.Context()
	const vaultID = "__admin"
	const recordType = "CREDENTIALS"

	t.Run("PutGet", func(t *testing.T) {
		env := envelope(0, "cipher")
		if err := repo.Put(ctx, vaultID, recordType, "r1", env); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := repo.Get(ctx, vaultID, recordType, "r1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Ver != env.Ver || got.Scheme != env.Scheme || !bytes.Equal(got.Ciphertext, env.Ciphertext) {
			t.Errorf("Get returned wrong envelope: %+v", got)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		if err := repo.Put(ctx, vaultID, recordType, "r1", envelope(0, "second")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := repo.Get(ctx, vaultID, recordType, "r1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got.Ciphertext) != "second" {
			t.Errorf("expected overwritten ciphertext, got %q", got.Ciphertext)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.Get(ctx, "missing-vault", recordType, "r1")
		if !storage.IsNotFound(err) {
			t.Errorf("expected not-found for missing vault, got %v", err)
		}
		_, err = repo.Get(ctx, vaultID, recordType, "missing")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo.Put(ctx, vaultID, recordType, "r2", envelope(0, "x")) //nolint:errcheck
		repo.Put(ctx, vaultID, "OTHER", "r3", envelope(0, "x"))    //nolint:errcheck

		ids, err := repo.List(ctx, vaultID, recordType)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		slices.Sort(ids)
		if !slices.Equal(ids, []string{"r1", "r2"}) {
			t.Errorf("expected [r1 r2], got %v", ids)
		}

		ids, err = repo.List(ctx, "missing-vault", recordType)
		if err != nil {
			t.Fatalf("List on missing vault failed: %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("expected no IDs for missing vault, got %v", ids)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, vaultID, recordType, "r2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(ctx, vaultID, recordType, "r2"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.Delete(ctx, vaultID, recordType, "r2"); !storage.IsNotFound(err) {
			t.Errorf("expected not-found deleting twice, got %v", err)
		}
	})

	t.Run("PutCAS", func(t *testing.T) {
		if err := repo.PutCAS(ctx, vaultID, recordType, "cas", 0, envelope(1, "v1")); err != nil {
			t.Fatalf("PutCAS insert failed: %v", err)
		}
		if err := repo.PutCAS(ctx, vaultID, recordType, "cas", 0, envelope(1, "dup")); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed on second insert, got %v", err)
		}
		if err := repo.PutCAS(ctx, vaultID, recordType, "cas-missing", 1, envelope(2, "x")); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed updating a missing record, got %v", err)
		}
		if err := repo.PutCAS(ctx, vaultID, recordType, "cas", 1, envelope(2, "v2")); err != nil {
			t.Fatalf("PutCAS update failed: %v", err)
		}
		if err := repo.PutCAS(ctx, vaultID, recordType, "cas", 1, envelope(2, "stale")); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed on stale version, got %v", err)
		}

		got, err := repo.Get(ctx, vaultID, recordType, "cas")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Version != 2 || string(got.Ciphertext) != "v2" {
			t.Errorf("expected version 2 with v2 payload, got %d %q", got.Version, got.Ciphertext)
		}
	})
}
