package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/amanthanvi/gpgvault/internal/app"
	"github.com/amanthanvi/gpgvault/internal/config"
	"github.com/amanthanvi/gpgvault/internal/crypto"
	"github.com/amanthanvi/gpgvault/internal/dump"
	"github.com/amanthanvi/gpgvault/internal/storage"
)

const (
	ExitCodeSuccess           = 0
	ExitCodeGeneric           = 1
	ExitCodeUsage             = 2
	ExitCodeNotFound          = 3
	ExitCodeLocked            = 4
	ExitCodeAuthFailed        = 5
	ExitCodeDependencyMissing = 6
	ExitCodeIO                = 7
)

var (
	errVaultLocked    = errors.New("vault is locked by another gpgvault process")
	errNoKeyMaterial  = errors.New("no OpenPGP key material found")
	errNoPassphrase   = errors.New("a passphrase is required: pass --passphrase-stdin or run in a terminal")
	errVaultExists    = errors.New("vault already exists")
	errVaultNotExists = errors.New("vault does not exist (run `gpgvault init` first)")
)

type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ExitError) ExitCode() int {
	if e == nil {
		return ExitCodeGeneric
	}
	return e.Code
}

func asExitError(code int, err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}
	return &ExitError{Code: code, Err: err}
}

func mapCommandError(err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}

	switch {
	case errors.Is(err, app.ErrValidation),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, errNoPassphrase),
		errors.Is(err, errVaultExists),
		errors.Is(err, crypto.ErrInvalidArgon2Params),
		errors.Is(err, storage.ErrDuplicateTargetName),
		errors.Is(err, storage.ErrDuplicateAttribute),
		errors.Is(err, storage.ErrEmptyAttributeKey):
		return asExitError(ExitCodeUsage, err)
	case errors.Is(err, storage.ErrTargetNotFound),
		errors.Is(err, storage.ErrNoCredential),
		errors.Is(err, storage.ErrNoPriorCredential),
		errors.Is(err, errVaultNotExists):
		return asExitError(ExitCodeNotFound, err)
	case errors.Is(err, errVaultLocked):
		return asExitError(ExitCodeLocked, err)
	case errors.Is(err, crypto.ErrDecryptionFailed):
		return asExitError(ExitCodeAuthFailed, err)
	case errors.Is(err, errNoKeyMaterial),
		errors.Is(err, crypto.ErrKeyImportFailed):
		return asExitError(ExitCodeDependencyMissing, err)
	case errors.Is(err, app.ErrIOFailure):
		return asExitError(ExitCodeIO, err)
	case errors.Is(err, dump.ErrCorruptDump):
		return asExitError(ExitCodeGeneric, err)
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return asExitError(ExitCodeIO, err)
	}
	return asExitError(ExitCodeGeneric, err)
}

func usageErrorf(format string, args ...any) error {
	return &ExitError{
		Code: ExitCodeUsage,
		Err:  fmt.Errorf(format, args...),
	}
}
