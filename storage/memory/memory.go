// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/jmcleod/cmdbook/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for tests and throwaway single-process servers.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Envelope
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Envelope)}
}

func makeKey(recordType, recordID string) string {
	return recordType + ":" + recordID
}

func (r *Repository) Put(_ context.Context, vaultID, recordType, recordID string, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(vaultID, recordType, recordID, envelope)
	return nil
}

func (r *Repository) putLocked(vaultID, recordType, recordID string, envelope *storage.Envelope) {
	if _, ok := r.data[vaultID]; !ok {
		r.data[vaultID] = make(map[string]*storage.Envelope)
	}
	r.data[vaultID][makeKey(recordType, recordID)] = envelope.Clone()
}

func (r *Repository) Get(_ context.Context, vaultID, recordType, recordID string) (*storage.Envelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	env, err := r.getLocked(vaultID, recordType, recordID)
	if err != nil {
		return nil, err
	}
	return env.Clone(), nil
}

func (r *Repository) getLocked(vaultID, recordType, recordID string) (*storage.Envelope, error) {
	vaultData, ok := r.data[vaultID]
	if !ok {
		return nil, storage.ErrVaultNotFound
	}
	env, ok := vaultData[makeKey(recordType, recordID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return env, nil
}

func (r *Repository) List(_ context.Context, vaultID, recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	prefix := recordType + ":"
	for k := range r.data[vaultID] {
		if id, ok := strings.CutPrefix(k, prefix); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *Repository) Delete(_ context.Context, vaultID, recordType, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.getLocked(vaultID, recordType, recordID); err != nil {
		return err
	}
	delete(r.data[vaultID], makeKey(recordType, recordID))
	return nil
}

func (r *Repository) PutCAS(_ context.Context, vaultID, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.getLocked(vaultID, recordType, recordID)
	switch {
	case err != nil && expectedVersion != 0:
		return storage.ErrCASFailed
	case err == nil && existing.Version != expectedVersion:
		return storage.ErrCASFailed
	case err == nil && expectedVersion == 0:
		return storage.ErrCASFailed
	}
	r.putLocked(vaultID, recordType, recordID, envelope)
	return nil
}
