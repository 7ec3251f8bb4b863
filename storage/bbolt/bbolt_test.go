package bbolt

import (
	"errors"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/cmdbook/storage"
	"github.com/jmcleod/cmdbook/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewRepositoryFromFile(filepath.Join(t.TempDir(), "cmdbook-test.db"), nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBBoltStorage(t *testing.T) {
	storagetest.Run(t, newTestStore(t))
}

func TestBBoltPersistsAcrossReopen(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "reopen.db")
	env := &storage.Envelope{Ver: 1, Scheme: "aes256gcm", Nonce: make([]byte, 12), Ciphertext: []byte("cipher"), Version: 4}

	s, err := NewRepositoryFromFile(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := s.PutCAS(ctx, "__admin", "CREDENTIALS", "admin_credentials_v1", 0, env); err != nil {
		t.Fatalf("PutCAS failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	s = NewRepository(db)
	defer s.Close()

	got, err := s.Get(ctx, "__admin", "CREDENTIALS", "admin_credentials_v1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Version != 4 {
		t.Errorf("expected version 4, got %d", got.Version)
	}
}

func TestBBoltDeleteMissingVault(t *testing.T) {
	s := newTestStore(t)
	err := s.Delete(t.Context(), "nope", "SESSION", "x")
	if !errors.Is(err, storage.ErrVaultNotFound) {
		t.Errorf("expected ErrVaultNotFound, got %v", err)
	}
}
