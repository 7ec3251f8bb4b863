package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/jmcleod/cmdbook/storage"
	"github.com/jmcleod/cmdbook/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cmdbook-test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStorage(t *testing.T) {
	storagetest.Run(t, newTestStore(t))
}

func TestSQLiteMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	ctx := t.Context()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	env := &storage.Envelope{Ver: 1, Scheme: "aes256gcm", Nonce: make([]byte, 12), Ciphertext: []byte("c"), Version: 1}
	if err := s.PutCAS(ctx, "__admin", "CREDENTIALS", "admin_credentials_v1", 0, env); err != nil {
		t.Fatalf("PutCAS: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "__admin", "CREDENTIALS", "admin_credentials_v1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}
}
