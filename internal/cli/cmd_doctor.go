package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/amanthanvi/gpgvault/internal/config"
	"github.com/amanthanvi/gpgvault/internal/crypto"
	"github.com/amanthanvi/gpgvault/internal/debug"
)

func newDoctorCommand(deps commandDeps) *cobra.Command {
	var bundlePath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, key material and vault file health",
		Example: "  gpgvault doctor\n" +
			"  gpgvault doctor --bundle ./gpgvault-debug.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("doctor does not accept positional arguments")
			}

			bundle := runDoctorChecks(deps)
			if bundlePath != "" {
				if err := debug.WriteBundle(bundlePath, bundle); err != nil {
					return mapCommandError(err)
				}
			}

			if deps.globals.JSON {
				if err := printJSON(deps.out, bundle); err != nil {
					return mapCommandError(err)
				}
			} else if !deps.globals.Quiet {
				for _, check := range bundle.Checks {
					state := "ok"
					if !check.OK {
						state = "fail"
					}
					if _, err := fmt.Fprintf(deps.out, "%s: %s (%s)\n", check.Name, state, check.Message); err != nil {
						return mapCommandError(err)
					}
				}
			}

			if failed := bundle.Failed(); len(failed) > 0 {
				return asExitError(ExitCodeGeneric, fmt.Errorf("doctor: %d check(s) failed, first: %s", len(failed), failed[0].Name))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bundlePath, "bundle", "", "Also write the results as a JSON debug bundle")
	return cmd
}

func runDoctorChecks(deps commandDeps) debug.Bundle {
	bundle := debug.NewBundle(time.Now())
	bundle.Version = map[string]string{
		"version":    deps.build.Version,
		"commit":     deps.build.Commit,
		"build_time": deps.build.BuildTime,
	}

	cfg, err := loadConfig(deps)
	if err != nil {
		bundle.Fail("config", err)
		return bundle
	}
	bundle.Config = map[string]string{
		"vault_path": cfg.Vault.Path,
		"backend":    cfg.Vault.Backend,
		"recipient":  cfg.Vault.Recipient,
		"keyfile":    cfg.KeyfilePath(),
		"log_file":   cfg.Logging.File,
	}
	bundle.Pass("config", "backend %s", cfg.Vault.Backend)

	if cfg.Vault.Recipient == "" {
		bundle.Fail("recipient", errors.New("no recipient configured; saves will fail"))
	} else {
		bundle.Pass("recipient", "%s", cfg.Vault.Recipient)
	}

	switch cfg.Vault.Backend {
	case config.BackendEnvelope:
		checkEnvelopeParams(&bundle, cfg)
	default:
		checkKeyfile(&bundle, cfg)
	}
	checkVaultFile(&bundle, cfg.Vault.Path)
	return bundle
}

func checkEnvelopeParams(bundle *debug.Bundle, cfg config.Config) {
	params := crypto.DefaultArgon2Params()
	params.Memory = cfg.Envelope.Argon2MemoryKiB
	params.Iterations = cfg.Envelope.Argon2Iterations
	clamped, err := crypto.ClampArgon2Params(params)
	if err != nil {
		bundle.Fail("argon2", err)
		return
	}
	bundle.Pass("argon2", "%d KiB, %d iterations, %d lanes", clamped.Memory, clamped.Iterations, clamped.Parallelism)
}

func checkKeyfile(bundle *debug.Bundle, cfg config.Config) {
	material, err := readKeyfile(cfg.KeyfilePath())
	if err != nil {
		bundle.Fail("keyfile", err)
		return
	}
	defer memguard.WipeBytes(material)

	gateway := crypto.NewOpenPGPGateway()
	if err := gateway.ImportKey(material); err != nil {
		bundle.Fail("keyfile", err)
		return
	}
	identities, err := gateway.Recipients()
	if err != nil {
		bundle.Fail("keyfile", err)
		return
	}
	bundle.Pass("keyfile", "%d identities in %s", len(identities), cfg.KeyfilePath())

	if cfg.Vault.Recipient == "" {
		return
	}
	found, secret, err := gateway.CanDecryptFor(cfg.Vault.Recipient)
	switch {
	case err != nil:
		bundle.Fail("secret-key", err)
	case !found:
		bundle.Fail("secret-key", fmt.Errorf("recipient %q matches no imported key", cfg.Vault.Recipient))
	case !secret:
		bundle.Fail("secret-key", fmt.Errorf("only the public key of %q is imported; the vault cannot be opened", cfg.Vault.Recipient))
	default:
		bundle.Pass("secret-key", "secret key present for %s", cfg.Vault.Recipient)
	}
}

func checkVaultFile(bundle *debug.Bundle, vaultPath string) {
	info, err := os.Stat(vaultPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		bundle.Pass("vault", "not created yet (run `gpgvault init`)")
		return
	case err != nil:
		bundle.Fail("vault", err)
		return
	case info.IsDir():
		bundle.Fail("vault", fmt.Errorf("%s is a directory", vaultPath))
		return
	}
	bundle.Pass("vault", "%d bytes, mode %s", info.Size(), info.Mode().Perm())

	lock := flock.New(vaultPath + ".lock")
	locked, err := lock.TryRLock()
	switch {
	case err != nil:
		bundle.Fail("lock", err)
	case !locked:
		bundle.Fail("lock", errVaultLocked)
	default:
		_ = lock.Unlock()
		bundle.Pass("lock", "free")
	}
}
