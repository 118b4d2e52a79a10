package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const envelopeKeyInfoPrefix = "gpgvault-envelope:v1:"

var ErrInvalidHKDFInput = errors.New("invalid hkdf input")

func DeriveHKDFSHA256(ikm, salt, info []byte, length int) ([]byte, error) {
	if len(ikm) == 0 {
		return nil, fmt.Errorf("%w: ikm must not be empty", ErrInvalidHKDFInput)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: length must be > 0", ErrInvalidHKDFInput)
	}

	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive hkdf-sha256 output: %w", err)
	}
	return out, nil
}

// deriveEnvelopeKey binds the passphrase-derived KEK to one recipient, so an
// envelope sealed for one identity cannot be relabelled for another.
func deriveEnvelopeKey(kek, salt []byte, recipient string) ([]byte, error) {
	key, err := DeriveHKDFSHA256(kek, salt, []byte(envelopeKeyInfoPrefix+recipient), chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive envelope key: %w", err)
	}
	return key, nil
}
