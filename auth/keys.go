package auth

import (
	"fmt"

	"github.com/jmcleod/cmdbook/internal/util"
)

const (
	storageKeySalt     = "cmdbook:storage:v1"
	credentialKeyInfo  = "cmdbook:credential_record_key:v1"
	sessionKeyInfo     = "cmdbook:session_record_key:v1"
	passphraseSeedInfo = "cmdbook:storage_key_from_passphrase:v1"
)

// Keys holds the record keys used to seal credential and session records.
type Keys struct {
	Credential []byte
	Session    []byte
}

// DeriveKeys expands a 32-byte storage master key into per-purpose record keys.
func DeriveKeys(master []byte) (Keys, error) {
	if len(master) != util.AESKeySize {
		return Keys{}, fmt.Errorf("storage key must be %d bytes, got %d", util.AESKeySize, len(master))
	}
	credKey, err := util.HKDF(master, []byte(storageKeySalt), []byte(credentialKeyInfo))
	if err != nil {
		return Keys{}, err
	}
	sessKey, err := util.HKDF(master, []byte(storageKeySalt), []byte(sessionKeyInfo))
	if err != nil {
		util.WipeBytes(credKey)
		return Keys{}, err
	}
	return Keys{Credential: credKey, Session: sessKey}, nil
}

// MasterKeyFromPassphrase derives a storage master key from a passphrase.
// It lets a deployment run without a dedicated storage key at the cost of
// tying record confidentiality to the artifact passphrase.
func MasterKeyFromPassphrase(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase must not be empty")
	}
	return util.HKDF([]byte(passphrase), []byte(storageKeySalt), []byte(passphraseSeedInfo))
}

// Wipe zeroes both record keys.
func (k Keys) Wipe() {
	util.WipeBytes(k.Credential)
	util.WipeBytes(k.Session)
}
