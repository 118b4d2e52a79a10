package crypto

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeFormatVersion = 1
	envelopeKDF           = "argon2id"
)

type envelope struct {
	Version      int            `json:"version"`
	KDF          string         `json:"kdf"`
	Argon2Params envelopeParams `json:"argon2_params"`
	Recipient    string         `json:"recipient"`
	Salt         []byte         `json:"salt"`
	Nonce        []byte         `json:"nonce"`
	Ciphertext   []byte         `json:"ciphertext"`
}

type envelopeParams struct {
	Memory      uint32 `json:"memory"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

// EnvelopeGateway seals the vault with a passphrase instead of a keypair.
// The recipient identity is recorded in the envelope and bound into both the
// derived key and the associated data.
type EnvelopeGateway struct {
	mu         sync.Mutex
	passphrase *memguard.LockedBuffer
	params     Argon2Params
}

// NewEnvelopeGateway keeps a private copy of passphrase for Encrypt; the
// caller's slice is left untouched.
func NewEnvelopeGateway(passphrase []byte, params Argon2Params) (*EnvelopeGateway, error) {
	params, err := ClampArgon2Params(params)
	if err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: passphrase must not be empty", ErrInvalidArgon2Params)
	}
	owned := append([]byte(nil), passphrase...)
	return &EnvelopeGateway{
		passphrase: memguard.NewBufferFromBytes(owned),
		params:     params,
	}, nil
}

func (g *EnvelopeGateway) Encrypt(plaintext []byte, recipient string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.passphrase == nil || !g.passphrase.IsAlive() {
		return nil, fmt.Errorf("%w: gateway destroyed", ErrEncryptionFailed)
	}
	if recipient == "" {
		return nil, fmt.Errorf("%w: recipient is required", ErrEncryptionFailed)
	}

	salt, err := randomBytes(g.params.SaltLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}
	nonce, err := randomBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}

	key, err := envelopeKey(g.passphrase.Bytes(), salt, recipient, g.params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}
	defer memguard.WipeBytes(key)

	env := envelope{
		Version: envelopeFormatVersion,
		KDF:     envelopeKDF,
		Argon2Params: envelopeParams{
			Memory:      g.params.Memory,
			Iterations:  g.params.Iterations,
			Parallelism: g.params.Parallelism,
		},
		Recipient: recipient,
		Salt:      salt,
		Nonce:     nonce,
	}
	env.Ciphertext, err = SealXChaCha20Poly1305(key, nonce, plaintext, env.associatedData())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: encode envelope: %w", ErrEncryptionFailed, err)
	}
	return out, nil
}

func (g *EnvelopeGateway) Decrypt(ciphertext, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: passphrase is required", ErrDecryptionFailed)
	}

	var env envelope
	if err := json.Unmarshal(ciphertext, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", ErrDecryptionFailed, err)
	}
	if env.Version != envelopeFormatVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrDecryptionFailed, env.Version)
	}
	if env.KDF != envelopeKDF {
		return nil, fmt.Errorf("%w: unsupported kdf %q", ErrDecryptionFailed, env.KDF)
	}

	params, err := ClampArgon2Params(Argon2Params{
		Memory:      env.Argon2Params.Memory,
		Iterations:  env.Argon2Params.Iterations,
		Parallelism: env.Argon2Params.Parallelism,
		SaltLen:     len(env.Salt),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	key, err := envelopeKey(passphrase, env.Salt, env.Recipient, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	defer memguard.WipeBytes(key)

	plaintext, err := OpenXChaCha20Poly1305(key, env.Nonce, env.Ciphertext, env.associatedData())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrDecryptionFailed)
	}
	return plaintext, nil
}

// Destroy wipes the held passphrase. Encrypt fails afterwards.
func (g *EnvelopeGateway) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.passphrase != nil {
		g.passphrase.Destroy()
		g.passphrase = nil
	}
}

func (e envelope) associatedData() []byte {
	return fmt.Appendf(nil, "gpgvault.envelope.v%d:%s:%d:%d:%d:%s",
		e.Version, e.KDF, e.Argon2Params.Memory, e.Argon2Params.Iterations, e.Argon2Params.Parallelism, e.Recipient)
}

func envelopeKey(passphrase, salt []byte, recipient string, params Argon2Params) ([]byte, error) {
	kek, err := DeriveKEKFromPassphrase(passphrase, salt, params)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(kek)
	return deriveEnvelopeKey(kek, salt, recipient)
}
