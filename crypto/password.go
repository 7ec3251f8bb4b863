// Package crypto implements the password hashing engine and the symmetric
// codec used for portable auth and reset-key artifacts.
package crypto

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jmcleod/cmdbook/internal/util"
)

const (
	// SaltLen is the number of random bytes in a credential salt.
	SaltLen = 16
	// HashLen is the number of bytes in a derived password hash.
	HashLen = util.PBKDF2KeyLength
)

// ErrMalformedSalt is returned when a salt is not SaltLen hex-encoded bytes.
var ErrMalformedSalt = errors.New("malformed salt")

// GenerateSalt returns SaltLen random bytes, hex encoded.
func GenerateSalt() (string, error) {
	return util.RandomHex(SaltLen)
}

// HashPassword derives the hex-encoded PBKDF2-HMAC-SHA256 digest of password
// under the hex-encoded salt. The result depends only on its inputs.
func HashPassword(password, salt string) (string, error) {
	saltBytes, err := decodeSalt(salt)
	if err != nil {
		return "", err
	}
	key := util.PBKDF2SHA256([]byte(password), saltBytes)
	defer util.WipeBytes(key)
	return hex.EncodeToString(key), nil
}

// VerifyPassword recomputes the hash of password under salt and compares it
// with hash in constant time. An error means the comparison could not be
// made and must be treated as a failed verification.
func VerifyPassword(password, hash, salt string) (bool, error) {
	candidate, err := HashPassword(password, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(hash)) == 1, nil
}

func decodeSalt(salt string) ([]byte, error) {
	if !util.IsHex(salt, SaltLen*2) {
		return nil, fmt.Errorf("%w: want %d hex characters", ErrMalformedSalt, SaltLen*2)
	}
	b, err := hex.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSalt, err)
	}
	return b, nil
}
