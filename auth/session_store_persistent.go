package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/cmdbook/internal/util"
	"github.com/jmcleod/cmdbook/storage"
)

const (
	sessionVaultID    = "__sessions"
	sessionRecordType = "SESSION"

	// touchAttempts bounds retries when concurrent touches race on CAS.
	touchAttempts = 3
)

// PersistentSessionStore stores sessions in a storage.Repository, encrypted
// at rest using AES-256-GCM. Sessions survive server restarts.
type PersistentSessionStore struct {
	repo storage.Repository
	key  []byte
}

var _ SessionStore = (*PersistentSessionStore)(nil)

// NewPersistentSessionStore returns a session store sealing records with the
// 32-byte key.
func NewPersistentSessionStore(repo storage.Repository, key []byte) (*PersistentSessionStore, error) {
	if len(key) != util.AESKeySize {
		return nil, fmt.Errorf("session key must be %d bytes, got %d", util.AESKeySize, len(key))
	}
	return &PersistentSessionStore{repo: repo, key: util.CopyBytes(key)}, nil
}

func sessionAAD(id string) []byte {
	return storage.RecordAAD(sessionVaultID, sessionRecordType, id)
}

func (s *PersistentSessionStore) Get(ctx context.Context, id string) (SessionRecord, bool, error) {
	env, err := s.repo.Get(ctx, sessionVaultID, sessionRecordType, id)
	if storage.IsNotFound(err) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	rec, err := s.open(id, env)
	if err != nil {
		// An unreadable record cannot authenticate anyone; drop it.
		_ = s.Delete(ctx, id)
		return SessionRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *PersistentSessionStore) Put(ctx context.Context, id string, rec SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	env, err := storage.SealRecord(s.key, data, sessionAAD(id), 1)
	if err != nil {
		return err
	}
	return s.repo.Put(ctx, sessionVaultID, sessionRecordType, id, env)
}

// Touch rewrites the record with PutCAS against the version it read, so a
// Delete landing between the read and the write makes the touch fail
// instead of resurrecting the session.
func (s *PersistentSessionStore) Touch(ctx context.Context, id string, at time.Time) (bool, error) {
	for range touchAttempts {
		env, err := s.repo.Get(ctx, sessionVaultID, sessionRecordType, id)
		if storage.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		rec, err := s.open(id, env)
		if err != nil {
			_ = s.Delete(ctx, id)
			return false, nil
		}
		if env.Version == 0 {
			// Version 0 means insert-only to PutCAS; such a record cannot be
			// updated conditionally.
			return false, s.Delete(ctx, id)
		}
		rec.LastAccessedAt = at
		data, err := json.Marshal(rec)
		if err != nil {
			return false, err
		}
		next, err := storage.SealRecord(s.key, data, sessionAAD(id), env.Version+1)
		if err != nil {
			return false, err
		}
		err = s.repo.PutCAS(ctx, sessionVaultID, sessionRecordType, id, env.Version, next)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, storage.ErrCASFailed) {
			return false, err
		}
	}
	// Still contended after retries; report whether the record survived.
	_, ok, err := s.Get(ctx, id)
	return ok, err
}

func (s *PersistentSessionStore) Delete(ctx context.Context, id string) error {
	err := s.repo.Delete(ctx, sessionVaultID, sessionRecordType, id)
	if storage.IsNotFound(err) {
		return nil
	}
	return err
}

func (s *PersistentSessionStore) DeleteIf(ctx context.Context, match func(SessionRecord) bool) (int, error) {
	ids, err := s.repo.List(ctx, sessionVaultID, sessionRecordType)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		env, err := s.repo.Get(ctx, sessionVaultID, sessionRecordType, id)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			return n, err
		}
		rec, err := s.open(id, env)
		if err == nil && !match(rec) {
			continue
		}
		// Corrupt entries are removed along with matches.
		if err := s.Delete(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *PersistentSessionStore) open(id string, env *storage.Envelope) (SessionRecord, error) {
	data, err := storage.OpenRecord(s.key, env, sessionAAD(id))
	if err != nil {
		return SessionRecord{}, err
	}
	defer util.WipeBytes(data)
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}
