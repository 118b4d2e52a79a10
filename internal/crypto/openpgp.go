package crypto

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

const (
	armorPrefix      = "-----BEGIN PGP"
	messageBlockType = "PGP MESSAGE"
)

// OpenPGPGateway encrypts to keys imported from GnuPG exports and writes
// ASCII-armored messages that `gpg --decrypt` reads.
//
// Only the raw key material is retained. Every call parses a fresh keyring,
// so private keys unlocked during Decrypt never outlive the call.
type OpenPGPGateway struct {
	mu     sync.Mutex
	blobs  [][]byte
	config *packet.Config
}

func NewOpenPGPGateway() *OpenPGPGateway {
	return &OpenPGPGateway{}
}

// ImportKey accepts armored or binary public and secret keys. A keyfile
// holding several armored blocks, as produced by appending `gpg --export`
// and `gpg --export-secret-keys`, is split and imported block by block.
func (g *OpenPGPGateway) ImportKey(material []byte) error {
	blobs := splitArmoredBlocks(material)
	if len(blobs) == 0 {
		return fmt.Errorf("%w: no key material", ErrKeyImportFailed)
	}
	for i, blob := range blobs {
		entities, err := readKeyRing(blob)
		if err != nil {
			return fmt.Errorf("%w: block %d: %v", ErrKeyImportFailed, i+1, err)
		}
		if len(entities) == 0 {
			return fmt.Errorf("%w: block %d holds no keys", ErrKeyImportFailed, i+1)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, blob := range blobs {
		g.blobs = append(g.blobs, append([]byte(nil), blob...))
	}
	return nil
}

// Recipients lists the user ids of every imported key.
func (g *OpenPGPGateway) Recipients() ([]string, error) {
	keyring, err := g.keyring()
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var out []string
	for _, entity := range keyring {
		for name := range entity.Identities {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out, nil
}

func (g *OpenPGPGateway) Encrypt(plaintext []byte, recipient string) ([]byte, error) {
	keyring, err := g.keyring()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	to := findRecipient(keyring, recipient)
	if to == nil {
		return nil, fmt.Errorf("%w: no key for recipient %q", ErrEncryptionFailed, recipient)
	}

	var buf bytes.Buffer
	aw, err := armor.Encode(&buf, messageBlockType, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: armor: %v", ErrEncryptionFailed, err)
	}
	w, err := openpgp.Encrypt(aw, []*openpgp.Entity{to}, nil, &openpgp.FileHints{}, g.config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("%w: write: %v", ErrEncryptionFailed, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: close: %v", ErrEncryptionFailed, err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("%w: close armor: %v", ErrEncryptionFailed, err)
	}
	return buf.Bytes(), nil
}

func (g *OpenPGPGateway) Decrypt(ciphertext, passphrase []byte) ([]byte, error) {
	if len(bytes.TrimSpace(ciphertext)) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecryptionFailed)
	}
	keyring, err := g.keyring()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	var body io.Reader = bytes.NewReader(ciphertext)
	if bytes.HasPrefix(bytes.TrimSpace(ciphertext), []byte(armorPrefix)) {
		block, err := armor.Decode(bytes.NewReader(ciphertext))
		if err != nil {
			return nil, fmt.Errorf("%w: armor: %v", ErrDecryptionFailed, err)
		}
		if block.Type != messageBlockType {
			return nil, fmt.Errorf("%w: unexpected armor block %q", ErrDecryptionFailed, block.Type)
		}
		body = block.Body
	}

	md, err := openpgp.ReadMessage(body, keyring, unlockWith(passphrase), g.config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrDecryptionFailed, err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrDecryptionFailed)
	}
	return plaintext, nil
}

// CanDecryptFor reports whether recipient resolves to an imported key and
// whether that key carries secret material.
func (g *OpenPGPGateway) CanDecryptFor(recipient string) (found, secret bool, err error) {
	keyring, err := g.keyring()
	if err != nil {
		return false, false, err
	}
	entity := findRecipient(keyring, recipient)
	if entity == nil {
		return false, false, nil
	}
	return true, entity.PrivateKey != nil, nil
}

func (g *OpenPGPGateway) keyring() (openpgp.EntityList, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.blobs) == 0 {
		return nil, fmt.Errorf("no keys imported")
	}
	var out openpgp.EntityList
	for _, blob := range g.blobs {
		entities, err := readKeyRing(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, entities...)
	}
	return out, nil
}

// unlockWith offers passphrase once; a second prompt means it was wrong.
func unlockWith(passphrase []byte) openpgp.PromptFunction {
	tried := false
	return func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		if tried || len(passphrase) == 0 {
			return nil, ErrDecryptionFailed
		}
		tried = true
		for _, k := range keys {
			if k.PrivateKey != nil && k.PrivateKey.Encrypted {
				_ = k.PrivateKey.Decrypt(passphrase)
			}
		}
		if symmetric {
			return passphrase, nil
		}
		return nil, nil
	}
}

// findRecipient prefers an entity carrying secret material so one imported
// keyfile serves both directions.
func findRecipient(keyring openpgp.EntityList, recipient string) *openpgp.Entity {
	var match *openpgp.Entity
	for _, entity := range keyring {
		if !matchesRecipient(entity, recipient) {
			continue
		}
		if entity.PrivateKey != nil {
			return entity
		}
		if match == nil {
			match = entity
		}
	}
	return match
}

// matchesRecipient accepts an email, a full user id, or a key id or
// fingerprint (any suffix of at least 8 hex digits, optional 0x prefix).
func matchesRecipient(entity *openpgp.Entity, recipient string) bool {
	want := strings.TrimSpace(recipient)
	if want == "" {
		return false
	}
	email := strings.TrimSuffix(strings.TrimPrefix(want, "<"), ">")
	for name, ident := range entity.Identities {
		if name == want {
			return true
		}
		if ident.UserId != nil && ident.UserId.Email != "" && strings.EqualFold(ident.UserId.Email, email) {
			return true
		}
	}

	id := strings.ToUpper(strings.TrimPrefix(strings.TrimPrefix(want, "0x"), "0X"))
	id = strings.ReplaceAll(id, " ", "")
	if len(id) < 8 {
		return false
	}
	if _, err := hex.DecodeString(strings.Repeat("0", len(id)%2) + id); err != nil {
		return false
	}
	keys := []*packet.PublicKey{entity.PrimaryKey}
	for _, sub := range entity.Subkeys {
		keys = append(keys, sub.PublicKey)
	}
	for _, key := range keys {
		if key != nil && strings.HasSuffix(strings.ToUpper(hex.EncodeToString(key.Fingerprint)), id) {
			return true
		}
	}
	return false
}

func readKeyRing(blob []byte) (openpgp.EntityList, error) {
	if bytes.HasPrefix(bytes.TrimSpace(blob), []byte(armorPrefix)) {
		return openpgp.ReadArmoredKeyRing(bytes.NewReader(blob))
	}
	return openpgp.ReadKeyRing(bytes.NewReader(blob))
}

func splitArmoredBlocks(material []byte) [][]byte {
	trimmed := bytes.TrimSpace(material)
	if len(trimmed) == 0 {
		return nil
	}
	if !bytes.Contains(trimmed, []byte(armorPrefix)) {
		return [][]byte{trimmed}
	}

	var out [][]byte
	rest := trimmed
	for {
		start := bytes.Index(rest, []byte(armorPrefix))
		if start < 0 {
			break
		}
		rest = rest[start:]
		next := bytes.Index(rest[len(armorPrefix):], []byte(armorPrefix))
		if next < 0 {
			out = append(out, rest)
			break
		}
		out = append(out, rest[:len(armorPrefix)+next])
		rest = rest[len(armorPrefix)+next:]
	}
	return out
}
