package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const fixedSalt = "000102030405060708090a0b0c0d0e0f"

func TestGenerateSalt(t *testing.T) {
	s1, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	s2, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	if len(s1) != 32 {
		t.Errorf("expected 32 hex characters, got %d", len(s1))
	}
	if s1 == s2 {
		t.Error("salts should differ between calls")
	}
}

func TestHashPassword(t *testing.T) {
	t.Run("KnownVector", func(t *testing.T) {
		got, err := HashPassword("secret1", fixedSalt)
		if err != nil {
			t.Fatalf("HashPassword failed: %v", err)
		}
		want := "51f7afaa8339e6a3fbb0dde49171c3c1dc6d4547dcf8ca00135643da938534c7"
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		h1, _ := HashPassword("secret1", fixedSalt)
		h2, _ := HashPassword("secret1", fixedSalt)
		if h1 != h2 {
			t.Error("same inputs should give the same hash")
		}
		if len(h1) != 64 {
			t.Errorf("expected 64 hex characters, got %d", len(h1))
		}
	})

	t.Run("DistinctInputs", func(t *testing.T) {
		otherSalt := "0f0e0d0c0b0a09080706050403020100"
		inputs := []struct{ password, salt string }{
			{"secret1", fixedSalt},
			{"secret2", fixedSalt},
			{"Secret1", fixedSalt},
			{"secret1 ", fixedSalt},
			{"secret1", otherSalt},
			{"", fixedSalt},
		}
		seen := make(map[string]int)
		for i, in := range inputs {
			h, err := HashPassword(in.password, in.salt)
			if err != nil {
				t.Fatalf("HashPassword(%q) failed: %v", in.password, err)
			}
			if j, dup := seen[h]; dup {
				t.Errorf("inputs %d and %d collided", j, i)
			}
			seen[h] = i
		}
	})

	t.Run("MalformedSalt", func(t *testing.T) {
		for _, salt := range []string{"", "abcd", "zz0102030405060708090a0b0c0d0e0f", fixedSalt + "00"} {
			if _, err := HashPassword("secret1", salt); !errors.Is(err, ErrMalformedSalt) {
				t.Errorf("salt %q: expected ErrMalformedSalt, got %v", salt, err)
			}
		}
	})
}

func TestVerifyPassword(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	hash, err := HashPassword("secret1", salt)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	ok, err := VerifyPassword("secret1", hash, salt)
	if err != nil || !ok {
		t.Fatalf("expected correct password to verify, got ok=%v err=%v", ok, err)
	}

	ok, err = VerifyPassword("wrongpass", hash, salt)
	if err != nil || ok {
		t.Fatalf("expected wrong password to fail, got ok=%v err=%v", ok, err)
	}

	ok, err = VerifyPassword("secret1", hash, "not-hex")
	if err == nil || ok {
		t.Fatalf("expected malformed salt to fail closed, got ok=%v err=%v", ok, err)
	}
}

func TestFileCodec(t *testing.T) {
	codec, err := NewFileCodec(DefaultArtifactPassphrase)
	if err != nil {
		t.Fatalf("NewFileCodec failed: %v", err)
	}
	payload := []byte(`{"type":"auth","passwordHash":"ab","salt":"cd"}`)

	t.Run("RoundTrip", func(t *testing.T) {
		enc, err := codec.Encrypt(payload)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		dec, err := codec.Decrypt(enc)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if !bytes.Equal(dec, payload) {
			t.Errorf("expected %s, got %s", payload, dec)
		}
	})

	t.Run("Layout", func(t *testing.T) {
		enc, _ := codec.Encrypt(payload)
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			t.Fatalf("output is not standard base64: %v", err)
		}
		if want := 16 + 12 + len(payload) + 16; len(raw) != want {
			t.Errorf("expected %d raw bytes, got %d", want, len(raw))
		}
	})

	t.Run("FreshSaltAndIV", func(t *testing.T) {
		a, _ := codec.Encrypt(payload)
		b, _ := codec.Encrypt(payload)
		if a == b {
			t.Error("two encryptions of the same payload should differ")
		}
	})

	t.Run("SurroundingWhitespace", func(t *testing.T) {
		enc, _ := codec.Encrypt(payload)
		dec, err := codec.Decrypt("\n  " + enc + "\r\n")
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if !bytes.Equal(dec, payload) {
			t.Errorf("expected %s, got %s", payload, dec)
		}
	})

	t.Run("WrongPassphrase", func(t *testing.T) {
		enc, _ := codec.Encrypt(payload)
		other, err := NewFileCodec("another passphrase")
		if err != nil {
			t.Fatalf("NewFileCodec failed: %v", err)
		}
		if _, err := other.Decrypt(enc); !errors.Is(err, ErrMalformedCiphertext) {
			t.Errorf("expected ErrMalformedCiphertext, got %v", err)
		}
	})

	t.Run("Tampered", func(t *testing.T) {
		enc, _ := codec.Encrypt(payload)
		raw, _ := base64.StdEncoding.DecodeString(enc)
		raw[len(raw)-1] ^= 0x01
		if _, err := codec.Decrypt(base64.StdEncoding.EncodeToString(raw)); !errors.Is(err, ErrMalformedCiphertext) {
			t.Errorf("expected ErrMalformedCiphertext, got %v", err)
		}
	})

	t.Run("Garbage", func(t *testing.T) {
		for _, in := range []string{"", "not base64 !!", base64.StdEncoding.EncodeToString([]byte("short")), strings.Repeat("A", 8)} {
			if _, err := codec.Decrypt(in); !errors.Is(err, ErrMalformedCiphertext) {
				t.Errorf("input %q: expected ErrMalformedCiphertext, got %v", in, err)
			}
		}
	})

	t.Run("EmptyPassphrase", func(t *testing.T) {
		if _, err := NewFileCodec(""); !errors.Is(err, ErrEmptyPassphrase) {
			t.Errorf("expected ErrEmptyPassphrase, got %v", err)
		}
	})
}
