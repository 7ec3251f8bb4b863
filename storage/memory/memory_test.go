package memory

import (
	"bytes"
	"errors"
	"testing"

	"github.com/jmcleod/cmdbook/storage"
	"github.com/jmcleod/cmdbook/storage/storagetest"
)

func TestMemoryRepository(t *testing.T) {
	ctx := t.Context()
	repo := NewRepository()
	vaultID := "__sessions"
	recordType := "SESSION"
	recordID := "id1"
	env := &storage.Envelope{
		Ver:        1,
		Scheme:     "aes256gcm",
		Nonce:      []byte("nonce1234567"),
		Ciphertext: []byte("ciphertext"),
		Version:    1,
	}

	t.Run("PutAndGet", func(t *testing.T) {
		if err := repo.Put(ctx, vaultID, recordType, recordID, env); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := repo.Get(ctx, vaultID, recordType, recordID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Ver != env.Ver || got.Scheme != env.Scheme || !bytes.Equal(got.Nonce, env.Nonce) || !bytes.Equal(got.Ciphertext, env.Ciphertext) || got.Version != env.Version {
			t.Errorf("Get returned wrong envelope: %+v", got)
		}

		got.Nonce[0] = 'X'
		got2, _ := repo.Get(ctx, vaultID, recordType, recordID)
		if got2.Nonce[0] == 'X' {
			t.Error("memory repository should return clones of envelopes")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get(ctx, "nonexistent", recordType, recordID)
		if !errors.Is(err, storage.ErrVaultNotFound) {
			t.Errorf("expected ErrVaultNotFound, got %v", err)
		}

		_, err = repo.Get(ctx, vaultID, recordType, "nonexistent")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo.Put(ctx, vaultID, recordType, "id2", env)
		repo.Put(ctx, vaultID, "OTHER", "id1", env)

		ids, err := repo.List(ctx, vaultID, recordType)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(ids) != 2 {
			t.Errorf("expected 2 IDs, got %d: %v", len(ids), ids)
		}

		ids, _ = repo.List(ctx, "nonexistent", recordType)
		if len(ids) != 0 {
			t.Errorf("expected 0 IDs for nonexistent vault, got %d", len(ids))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, vaultID, recordType, "id2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(ctx, vaultID, recordType, "id2"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.Delete(ctx, vaultID, recordType, "id2"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}
	})

	t.Run("PutCAS", func(t *testing.T) {
		repo := NewRepository()
		env1 := &storage.Envelope{Version: 1}
		env2 := &storage.Envelope{Version: 2}

		// Insert-only.
		if err := repo.PutCAS(ctx, vaultID, recordType, recordID, 0, env1); err != nil {
			t.Fatalf("PutCAS create failed: %v", err)
		}
		if err := repo.PutCAS(ctx, vaultID, recordType, recordID, 0, env1); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed on second insert, got %v", err)
		}

		if err := repo.PutCAS(ctx, vaultID, "other", "id", 1, env1); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed updating a missing record, got %v", err)
		}

		if err := repo.PutCAS(ctx, vaultID, recordType, recordID, 1, env2); err != nil {
			t.Fatalf("PutCAS update failed: %v", err)
		}

		if err := repo.PutCAS(ctx, vaultID, recordType, recordID, 1, env1); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed on stale version, got %v", err)
		}
	})
}

func TestMemoryRepositoryContract(t *testing.T) {
	storagetest.Run(t, NewRepository())
}
