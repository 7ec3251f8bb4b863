package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	HKDFKeyLength = 32
	// PBKDF2Iterations is the work factor for every PBKDF2 derivation in the
	// module: password hashes and artifact keys alike.
	PBKDF2Iterations = 100_000
	PBKDF2KeyLength  = 32
)

func HKDF(seed []byte, salt []byte, info []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, seed, salt, info)
	k := make([]byte, HKDFKeyLength)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}

// PBKDF2SHA256 derives a 32-byte key from secret and salt with
// PBKDF2-HMAC-SHA256 at PBKDF2Iterations rounds.
func PBKDF2SHA256(secret, salt []byte) []byte {
	return pbkdf2.Key(secret, salt, PBKDF2Iterations, PBKDF2KeyLength, sha256.New)
}
