package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/cmdbook/internal/util"
	"github.com/jmcleod/cmdbook/storage"
)

const (
	credentialVaultID    = "__admin"
	credentialRecordType = "CREDENTIALS"
	// CredentialsVersion is the fixed key of the single admin credential record.
	CredentialsVersion = "admin_credentials_v1"
)

// ErrStorageConflict is returned when the credential record changed between
// load and write.
var ErrStorageConflict = errors.New("credential record modified concurrently")

// CredentialRecord is the sole admin identity.
type CredentialRecord struct {
	PasswordHash string    `json:"passwordHash"`
	Salt         string    `json:"salt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Generation fingerprints the record's (passwordHash, salt) pair.
func (r CredentialRecord) Generation() string {
	return Generation(r.PasswordHash, r.Salt)
}

// Generation returns a short fingerprint identifying a (passwordHash, salt)
// pair. Sessions carry the generation they were issued under; any password
// rotation changes it.
func Generation(passwordHash, salt string) string {
	sum := sha256.Sum256([]byte(passwordHash + ":" + salt))
	return hex.EncodeToString(sum[:])[:16]
}

// CredentialState is the result of loading the credential store. Present is
// false until setup completes, in which case Record is the zero value.
type CredentialState struct {
	Present bool
	Record  CredentialRecord
	version uint64
}

// CredentialStore persists the single admin credential record, sealed with
// AES-256-GCM, in a storage.Repository.
type CredentialStore struct {
	repo storage.Repository
	key  []byte
}

// NewCredentialStore returns a store sealing records with the 32-byte key.
func NewCredentialStore(repo storage.Repository, key []byte) (*CredentialStore, error) {
	if len(key) != util.AESKeySize {
		return nil, fmt.Errorf("credential key must be %d bytes, got %d", util.AESKeySize, len(key))
	}
	return &CredentialStore{repo: repo, key: util.CopyBytes(key)}, nil
}

func credentialAAD() []byte {
	return storage.RecordAAD(credentialVaultID, credentialRecordType, CredentialsVersion)
}

// Load reads the credential record.
func (s *CredentialStore) Load(ctx context.Context) (CredentialState, error) {
	env, err := s.repo.Get(ctx, credentialVaultID, credentialRecordType, CredentialsVersion)
	if storage.IsNotFound(err) {
		return CredentialState{}, nil
	}
	if err != nil {
		return CredentialState{}, fmt.Errorf("loading credential record: %w", err)
	}
	data, err := storage.OpenRecord(s.key, env, credentialAAD())
	if err != nil {
		return CredentialState{}, fmt.Errorf("opening credential record: %w", err)
	}
	var rec CredentialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return CredentialState{}, fmt.Errorf("decoding credential record: %w", err)
	}
	if rec.PasswordHash == "" || rec.Salt == "" {
		return CredentialState{}, fmt.Errorf("credential record is missing hash or salt")
	}
	return CredentialState{Present: true, Record: rec, version: env.Version}, nil
}

// Insert stores the first credential record. It fails with
// ErrAlreadyInitialized when one already exists.
func (s *CredentialStore) Insert(ctx context.Context, rec CredentialRecord) (CredentialState, error) {
	env, err := s.seal(rec, 1)
	if err != nil {
		return CredentialState{}, err
	}
	err = s.repo.PutCAS(ctx, credentialVaultID, credentialRecordType, CredentialsVersion, 0, env)
	if errors.Is(err, storage.ErrCASFailed) {
		return CredentialState{}, ErrAlreadyInitialized
	}
	if err != nil {
		return CredentialState{}, fmt.Errorf("inserting credential record: %w", err)
	}
	return CredentialState{Present: true, Record: rec, version: 1}, nil
}

// Update replaces the hash and salt of the record loaded as prev, keeping its
// CreatedAt. It fails with ErrStorageConflict when the record changed since
// prev was loaded.
func (s *CredentialStore) Update(ctx context.Context, prev CredentialState, passwordHash, salt string, at time.Time) (CredentialState, error) {
	if !prev.Present {
		return CredentialState{}, ErrNotInitialized
	}
	rec := CredentialRecord{
		PasswordHash: passwordHash,
		Salt:         salt,
		CreatedAt:    prev.Record.CreatedAt,
		UpdatedAt:    at,
	}
	next := prev.version + 1
	env, err := s.seal(rec, next)
	if err != nil {
		return CredentialState{}, err
	}
	err = s.repo.PutCAS(ctx, credentialVaultID, credentialRecordType, CredentialsVersion, prev.version, env)
	if errors.Is(err, storage.ErrCASFailed) {
		return CredentialState{}, ErrStorageConflict
	}
	if err != nil {
		return CredentialState{}, fmt.Errorf("updating credential record: %w", err)
	}
	return CredentialState{Present: true, Record: rec, version: next}, nil
}

func (s *CredentialStore) seal(rec CredentialRecord, version uint64) (*storage.Envelope, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(data)
	return storage.SealRecord(s.key, data, credentialAAD(), version)
}
