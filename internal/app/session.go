package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/natefinch/atomic"

	"github.com/amanthanvi/gpgvault/internal/crypto"
	"github.com/amanthanvi/gpgvault/internal/dump"
	"github.com/amanthanvi/gpgvault/internal/storage"
)

// maxVaultFileSize caps reads of the encrypted vault file.
const maxVaultFileSize = 256 << 20

type Options struct {
	Logger *slog.Logger
	// Clock stamps new credentials; defaults to the wall clock in UTC.
	Clock func() time.Time
}

// Session binds one live store to the gateway that guards it at rest. It moves
// from Uninitialized to Ready exactly once and never back; a failed open
// leaves it Uninitialized with no store attached.
type Session struct {
	gateway crypto.Gateway
	logger  *slog.Logger
	clock   func() time.Time

	mu    sync.Mutex
	state State
	store *storage.Store
}

func NewSession(gateway crypto.Gateway, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Session{
		gateway: gateway,
		logger:  logger,
		clock:   clock,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OpenNew attaches an empty store with a fresh schema. No file is touched.
func (s *Session) OpenNew(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureUninitialized(); err != nil {
		return err
	}
	store, err := storage.Open(storage.WithClock(s.clock))
	if err != nil {
		return fmt.Errorf("open new vault: %w", err)
	}
	if err := store.InitSchema(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("open new vault: %w", err)
	}

	s.store = store
	s.state = StateReady
	s.logger.Debug("opened empty vault")
	return nil
}

// OpenEncrypted decrypts the file at path and loads its dump. An empty
// decryption result is reported as crypto.ErrDecryptionFailed; dump errors
// are returned as they are.
func (s *Session) OpenEncrypted(ctx context.Context, path string, passphrase []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureUninitialized(); err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("%w: vault path is required", ErrValidation)
	}
	if s.gateway == nil {
		return fmt.Errorf("%w: no crypto gateway configured", crypto.ErrDecryptionFailed)
	}

	ciphertext, err := readVaultFile(path)
	if err != nil {
		return err
	}

	plaintext, err := s.gateway.Decrypt(ciphertext, passphrase)
	if err != nil {
		if !errors.Is(err, crypto.ErrDecryptionFailed) {
			err = fmt.Errorf("%w: %w", crypto.ErrDecryptionFailed, err)
		}
		s.logger.Warn("vault decryption failed", "path", path)
		return err
	}
	defer memguard.WipeBytes(plaintext)
	if len(plaintext) == 0 {
		s.logger.Warn("vault decrypted to nothing", "path", path)
		return fmt.Errorf("%w: empty payload (wrong passphrase?)", crypto.ErrDecryptionFailed)
	}

	store, err := dump.Load(ctx, plaintext, storage.WithClock(s.clock))
	if err != nil {
		return err
	}

	s.store = store
	s.state = StateReady
	s.logger.Info("vault opened", "path", path)
	return nil
}

// SaveEncrypted re-serializes the whole store, encrypts it for recipient and
// atomically replaces the file at path.
func (s *Session) SaveEncrypted(ctx context.Context, path, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReady(); err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("%w: vault path is required", ErrValidation)
	}
	if recipient == "" {
		return fmt.Errorf("%w: recipient identity is required", ErrValidation)
	}
	if s.gateway == nil {
		return fmt.Errorf("%w: no crypto gateway configured", crypto.ErrEncryptionFailed)
	}

	plaintext, err := dump.Dump(ctx, s.store)
	if err != nil {
		return fmt.Errorf("save vault: %w", err)
	}
	ciphertext, err := s.gateway.Encrypt(plaintext, recipient)
	memguard.WipeBytes(plaintext)
	if err != nil {
		if !errors.Is(err, crypto.ErrEncryptionFailed) {
			err = fmt.Errorf("%w: %w", crypto.ErrEncryptionFailed, err)
		}
		return err
	}

	if err := writeVaultFile(path, ciphertext); err != nil {
		return err
	}
	s.logger.Info("vault saved", "path", path, "recipient", recipient, "bytes", len(ciphertext))
	return nil
}

func (s *Session) RegisterTarget(ctx context.Context, req RegisterTargetRequest) (int64, error) {
	if req.Name == "" {
		return 0, fmt.Errorf("%w: target name is required", ErrValidation)
	}
	if req.Secret == "" {
		return 0, fmt.Errorf("%w: secret is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureReady(); err != nil {
		return 0, err
	}

	id, err := s.store.Targets.Register(ctx, storage.NewTarget{
		Name:       req.Name,
		URL:        req.URL,
		User:       req.User,
		Secret:     req.Secret,
		Note:       req.Note,
		Attributes: req.Attributes,
	})
	if err != nil {
		return 0, fmt.Errorf("register target: %w", err)
	}
	s.logger.Debug("target registered", "target_id", id, "attributes", len(req.Attributes))
	return id, nil
}

func (s *Session) RotateCredential(ctx context.Context, req RotateCredentialRequest) (int64, error) {
	if req.Target == (storage.TargetRef{}) {
		return 0, fmt.Errorf("%w: target reference is required", ErrValidation)
	}
	if req.Secret == "" {
		return 0, fmt.Errorf("%w: secret is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureReady(); err != nil {
		return 0, err
	}

	id, err := s.store.Credentials.Rotate(ctx, req.Target, storage.Rotation{
		Secret:     req.Secret,
		User:       req.User,
		Note:       req.Note,
		Attributes: req.Attributes,
	})
	if err != nil {
		return 0, fmt.Errorf("rotate credential: %w", err)
	}
	s.logger.Debug("credential rotated", "target", req.Target.String(), "credential_id", id)
	return id, nil
}

func (s *Session) CurrentCredential(ctx context.Context, ref storage.TargetRef) (*storage.CurrentCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return s.store.Credentials.Current(ctx, ref)
}

// CredentialHistory lists every credential of a target, newest first.
func (s *Session) CredentialHistory(ctx context.Context, ref storage.TargetRef) ([]storage.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return s.store.Credentials.History(ctx, ref)
}

func (s *Session) AllTargetNames(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return s.store.Targets.Names(ctx)
}

// Close releases the store and wipes any key material held by the gateway.
// Every later call fails with ErrSessionNotReady.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	var err error
	if s.store != nil {
		err = s.store.Close()
		s.store = nil
	}
	if d, ok := s.gateway.(interface{ Destroy() }); ok {
		d.Destroy()
	}
	s.state = StateClosed
	return err
}

func (s *Session) ensureReady() error {
	if s.state != StateReady || s.store == nil {
		return fmt.Errorf("%w: session is %s", ErrSessionNotReady, s.state)
	}
	return nil
}

func (s *Session) ensureUninitialized() error {
	switch s.state {
	case StateUninitialized:
		return nil
	case StateReady:
		return ErrSessionAlreadyOpen
	default:
		return fmt.Errorf("%w: session is %s", ErrSessionNotReady, s.state)
	}
}

func readVaultFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat vault: %w", ErrIOFailure, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: vault path %s is a directory", ErrIOFailure, path)
	}
	if info.Size() > maxVaultFileSize {
		return nil, fmt.Errorf("%w: vault exceeds %d MiB limit", ErrIOFailure, maxVaultFileSize>>20)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read vault: %w", ErrIOFailure, err)
	}
	return raw, nil
}

// writeVaultFile replaces path through a temp file in the same directory, so
// readers see either the old vault or the new one.
func writeVaultFile(path string, ciphertext []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("%w: create vault directory: %w", ErrIOFailure, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(ciphertext)); err != nil {
		return fmt.Errorf("%w: write vault: %w", ErrIOFailure, err)
	}
	return nil
}
