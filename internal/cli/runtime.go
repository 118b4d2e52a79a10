package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/amanthanvi/gpgvault/internal/app"
	"github.com/amanthanvi/gpgvault/internal/config"
	"github.com/amanthanvi/gpgvault/internal/crypto"
	vaultlog "github.com/amanthanvi/gpgvault/internal/log"
)

const (
	lockWaitTimeout = 2 * time.Second
	lockRetryDelay  = 50 * time.Millisecond
)

type vaultMode int

const (
	// modeRead opens an existing vault under a shared lock and never saves.
	modeRead vaultMode = iota
	// modeWrite opens an existing vault under an exclusive lock and saves it
	// after the command succeeds.
	modeWrite
	// modeCreate starts an empty vault where none exists and saves it.
	modeCreate
)

func (m vaultMode) mutates() bool { return m != modeRead }

// withVault runs fn against a ready session. The vault file lock is held from
// before the file is read until after it is replaced, so concurrent gpgvault
// processes never interleave a read-modify-write.
func withVault(cmd *cobra.Command, deps commandDeps, mode vaultMode, fn func(context.Context, *app.Session, config.Config) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(deps)
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(cfg, deps)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	vaultPath := cfg.Vault.Path
	if err := checkVaultPresence(vaultPath, mode); err != nil {
		return err
	}
	if mode.mutates() && cfg.Vault.Recipient == "" {
		return usageErrorf("a recipient is required to save the vault: set vault.recipient, GPGVAULT_RECIPIENT or --recipient")
	}

	lock, err := acquireVaultLock(ctx, vaultPath, mode.mutates())
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("release vault lock failed", "path", lock.Path(), "error", err)
		}
	}()
	// Another process may have created or removed the vault while we waited.
	if err := checkVaultPresence(vaultPath, mode); err != nil {
		return err
	}

	passphrase := &passphraseSource{
		fromStdin: deps.globals.PassphraseStdin,
		in:        cmd.InOrStdin(),
		prompt:    deps.errOut,
	}
	defer passphrase.wipe()

	gateway, err := newGateway(cfg, passphrase)
	if err != nil {
		return err
	}
	session := app.NewSession(gateway, app.Options{Logger: logger})
	defer session.Close()

	if mode == modeCreate {
		err = session.OpenNew(ctx)
	} else {
		var secret []byte
		secret, err = passphrase.get()
		if err == nil {
			err = session.OpenEncrypted(ctx, vaultPath, secret)
		}
	}
	if err != nil {
		return err
	}

	if err := fn(ctx, session, cfg); err != nil {
		return err
	}
	if mode.mutates() {
		return session.SaveEncrypted(ctx, vaultPath, cfg.Vault.Recipient)
	}
	return nil
}

func loadConfig(deps commandDeps) (config.Config, error) {
	globals := deps.globals
	var flags config.FlagOverrides
	if globals.VaultPath != "" {
		flags.VaultPath = stringPtr(filepath.Clean(globals.VaultPath))
	}
	if globals.Recipient != "" {
		flags.Recipient = stringPtr(globals.Recipient)
	}
	if globals.Backend != "" {
		flags.Backend = stringPtr(globals.Backend)
	}
	return config.Load(config.LoadOptions{
		ConfigPath: globals.ConfigPath,
		Env:        deps.env,
		Flags:      flags,
	})
}

func newLogger(cfg config.Config, deps commandDeps) (*slog.Logger, io.Closer, error) {
	opts := vaultlog.Options{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	}
	if deps.globals.Verbose {
		opts.Level = "debug"
		opts.Fallback = deps.errOut
	}
	logger, closer, err := vaultlog.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return logger, closer, nil
}

func newGateway(cfg config.Config, passphrase *passphraseSource) (crypto.Gateway, error) {
	switch cfg.Vault.Backend {
	case config.BackendEnvelope:
		secret, err := passphrase.get()
		if err != nil {
			return nil, err
		}
		params := crypto.DefaultArgon2Params()
		params.Memory = cfg.Envelope.Argon2MemoryKiB
		params.Iterations = cfg.Envelope.Argon2Iterations
		return crypto.NewEnvelopeGateway(secret, params)
	default:
		gateway := crypto.NewOpenPGPGateway()
		material, err := readKeyfile(cfg.KeyfilePath())
		if err != nil {
			return nil, err
		}
		defer memguard.WipeBytes(material)
		if err := gateway.ImportKey(material); err != nil {
			return nil, err
		}
		return gateway, nil
	}
}

func readKeyfile(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: gnupg.keyfile is not set", errNoKeyMaterial)
	}
	material, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s (run `gpgvault key import <file>`)", errNoKeyMaterial, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read keyfile: %w", app.ErrIOFailure, err)
	}
	return material, nil
}

func checkVaultPresence(path string, mode vaultMode) error {
	exists, err := vaultExists(path)
	if err != nil {
		return err
	}
	switch {
	case mode == modeCreate && exists:
		return fmt.Errorf("%w: %s", errVaultExists, path)
	case mode != modeCreate && !exists:
		return fmt.Errorf("%w: %s", errVaultNotExists, path)
	}
	return nil
}

func vaultExists(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return false, fmt.Errorf("%w: vault path %s is a directory", app.ErrIOFailure, path)
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("%w: stat vault: %w", app.ErrIOFailure, err)
	}
}

// acquireVaultLock takes <vault>.lock, shared for readers and exclusive for
// writers, waiting briefly for a competing process to finish.
func acquireVaultLock(ctx context.Context, vaultPath string, exclusive bool) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(vaultPath), 0o700); err != nil {
		return nil, fmt.Errorf("%w: create vault directory: %w", app.ErrIOFailure, err)
	}

	lock := flock.New(vaultPath + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockWaitTimeout)
	defer cancel()

	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = lock.TryLockContext(lockCtx, lockRetryDelay)
	} else {
		locked, err = lock.TryRLockContext(lockCtx, lockRetryDelay)
	}
	if errors.Is(err, context.DeadlineExceeded) || (err == nil && !locked) {
		return nil, fmt.Errorf("%w: %s", errVaultLocked, lock.Path())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock vault: %w", app.ErrIOFailure, err)
	}
	return lock, nil
}

// passphraseSource reads the passphrase at most once per command, from the
// first stdin line or from the controlling terminal.
type passphraseSource struct {
	fromStdin bool
	in        io.Reader
	prompt    io.Writer

	value []byte
	read  bool
}

func (p *passphraseSource) get() ([]byte, error) {
	if p.read {
		return p.value, nil
	}

	var (
		value []byte
		err   error
	)
	switch {
	case p.fromStdin:
		value, err = readPassphraseLine(p.in)
	case isTerminal(p.in):
		fd := int(p.in.(*os.File).Fd())
		fmt.Fprint(p.prompt, "Passphrase: ")
		value, err = term.ReadPassword(fd)
		fmt.Fprintln(p.prompt)
		if err != nil {
			err = fmt.Errorf("%w: read passphrase: %w", app.ErrIOFailure, err)
		}
	default:
		return nil, errNoPassphrase
	}
	if err != nil {
		return nil, err
	}
	if len(value) == 0 {
		return nil, errNoPassphrase
	}

	p.value = value
	p.read = true
	return p.value, nil
}

func (p *passphraseSource) wipe() {
	memguard.WipeBytes(p.value)
	p.value = nil
	p.read = false
}

func readPassphraseLine(r io.Reader) ([]byte, error) {
	line, err := bufio.NewReader(r).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read passphrase from stdin: %w", app.ErrIOFailure, err)
	}
	trimmed := bytes.TrimRight(line, "\r\n")
	value := append([]byte(nil), trimmed...)
	memguard.WipeBytes(line)
	return value, nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func stringPtr(s string) *string { return &s }
