package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/cmdbook/internal/util"
)

const (
	codecSaltLen = 16
	codecIVLen   = util.GCMNonceSize
	codecTagLen  = 16
)

// DefaultArtifactPassphrase is the application-embedded passphrase for auth
// and reset-key files. It is not a secret: it keeps casual edits of an
// artifact from going unnoticed and lets files from earlier releases open.
const DefaultArtifactPassphrase = "linux_admin_file_key_2024"

var (
	// ErrMalformedCiphertext is returned for any input that cannot be decoded
	// and authenticated: bad base64, truncated data, wrong passphrase or a
	// tampered payload.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	// ErrEmptyPassphrase is returned when a codec is built without a passphrase.
	ErrEmptyPassphrase = errors.New("codec passphrase must not be empty")
)

// FileCodec encrypts small payloads under a passphrase-derived AES-256-GCM key.
// The wire form is base64(salt || iv || ciphertext || tag) with a fresh salt
// and iv per call. The passphrase is kept in a memguard enclave.
type FileCodec struct {
	passphrase *memguard.Enclave
}

// NewFileCodec returns a codec bound to passphrase.
func NewFileCodec(passphrase string) (*FileCodec, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	return &FileCodec{passphrase: memguard.NewEnclave([]byte(passphrase))}, nil
}

// Encrypt seals plaintext and returns the base64 artifact string.
func (c *FileCodec) Encrypt(plaintext []byte) (string, error) {
	salt, err := util.RandomBytes(codecSaltLen)
	if err != nil {
		return "", err
	}
	key, err := c.deriveKey(salt)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(key)

	sealed, err := util.EncryptAES(plaintext, key)
	if err != nil {
		return "", fmt.Errorf("sealing artifact: %w", err)
	}

	out := make([]byte, 0, len(salt)+len(sealed))
	out = append(out, salt...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Surrounding whitespace is ignored.
func (c *FileCodec) Decrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if len(raw) < codecSaltLen+codecIVLen+codecTagLen {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrMalformedCiphertext, len(raw))
	}

	key, err := c.deriveKey(raw[:codecSaltLen])
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	plaintext, err := util.DecryptAES(raw[codecSaltLen:], key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return plaintext, nil
}

func (c *FileCodec) deriveKey(salt []byte) ([]byte, error) {
	buf, err := c.passphrase.Open()
	if err != nil {
		return nil, fmt.Errorf("opening passphrase enclave: %w", err)
	}
	defer buf.Destroy()
	return util.PBKDF2SHA256(buf.Bytes(), salt), nil
}
