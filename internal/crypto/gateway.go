// Package crypto implements the gateways that encrypt the vault dump at rest.
package crypto

import "errors"

var (
	ErrEncryptionFailed = errors.New("crypto: encryption failed")
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
	ErrKeyImportFailed  = errors.New("crypto: key import failed")
)

// Gateway encrypts a plaintext for a recipient identity and decrypts it again
// with a passphrase. Decrypt reports a wrong passphrase as ErrDecryptionFailed.
type Gateway interface {
	Encrypt(plaintext []byte, recipient string) ([]byte, error)
	Decrypt(ciphertext, passphrase []byte) ([]byte, error)
}

// KeyImporter is implemented by gateways that need key material loaded
// before use.
type KeyImporter interface {
	ImportKey(material []byte) error
}
