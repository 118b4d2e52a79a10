package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/amanthanvi/gpgvault/internal/app"
	"github.com/amanthanvi/gpgvault/internal/crypto"
)

func newKeyCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "OpenPGP key material management",
		Example: "  gpg -a --export you@example.com > pub.asc && gpgvault key import pub.asc\n" +
			"  gpgvault key ls",
	}
	cmd.AddCommand(
		newKeyImportCommand(deps),
		newKeyListCommand(deps),
	)
	return cmd
}

func newKeyImportCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Append armored key material to the configured keyfile",
		Long: "import validates the armored public and/or secret keys in <file> and\n" +
			"appends them to gnupg.keyfile under gnupg.home.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("key import requires exactly one file")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(deps)
			if err != nil {
				return mapCommandError(err)
			}
			keyfile := cfg.KeyfilePath()
			if keyfile == "" {
				return usageErrorf("key import requires gnupg.keyfile to be set")
			}

			incoming, err := os.ReadFile(args[0])
			if err != nil {
				return mapCommandError(fmt.Errorf("%w: read %s: %w", app.ErrIOFailure, args[0], err))
			}
			defer memguard.WipeBytes(incoming)

			existing, err := os.ReadFile(keyfile)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return mapCommandError(fmt.Errorf("%w: read keyfile: %w", app.ErrIOFailure, err))
			}
			defer memguard.WipeBytes(existing)

			merged := make([]byte, 0, len(existing)+1+len(incoming))
			if len(existing) > 0 {
				merged = append(merged, bytes.TrimRight(existing, "\n")...)
				merged = append(merged, '\n')
			}
			merged = append(merged, incoming...)
			defer memguard.WipeBytes(merged)

			gateway := crypto.NewOpenPGPGateway()
			if err := gateway.ImportKey(incoming); err != nil {
				return mapCommandError(err)
			}
			if len(existing) > 0 {
				if err := gateway.ImportKey(existing); err != nil {
					return mapCommandError(fmt.Errorf("existing keyfile %s: %w", keyfile, err))
				}
			}
			recipients, err := gateway.Recipients()
			if err != nil {
				return mapCommandError(err)
			}

			if err := os.MkdirAll(filepath.Dir(keyfile), 0o700); err != nil {
				return mapCommandError(fmt.Errorf("%w: create gnupg home: %w", app.ErrIOFailure, err))
			}
			if err := atomic.WriteFile(keyfile, bytes.NewReader(merged)); err != nil {
				return mapCommandError(fmt.Errorf("%w: write keyfile: %w", app.ErrIOFailure, err))
			}

			if deps.globals.JSON {
				return mapCommandError(printJSON(deps.out, map[string]any{
					"keyfile":    keyfile,
					"recipients": recipients,
				}))
			}
			if deps.globals.Quiet {
				return nil
			}
			if _, err := fmt.Fprintf(deps.out, "imported into %s\n", keyfile); err != nil {
				return mapCommandError(err)
			}
			for _, recipient := range recipients {
				if _, err := fmt.Fprintf(deps.out, "  %s\n", recipient); err != nil {
					return mapCommandError(err)
				}
			}
			return nil
		},
	}
}

func newKeyListCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List identities in the configured keyfile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("key ls does not accept positional arguments")
			}
			cfg, err := loadConfig(deps)
			if err != nil {
				return mapCommandError(err)
			}
			material, err := readKeyfile(cfg.KeyfilePath())
			if err != nil {
				return mapCommandError(err)
			}
			defer memguard.WipeBytes(material)

			gateway := crypto.NewOpenPGPGateway()
			if err := gateway.ImportKey(material); err != nil {
				return mapCommandError(err)
			}
			recipients, err := gateway.Recipients()
			if err != nil {
				return mapCommandError(err)
			}

			if deps.globals.JSON {
				return mapCommandError(printJSON(deps.out, recipients))
			}
			for _, recipient := range recipients {
				if _, err := fmt.Fprintln(deps.out, recipient); err != nil {
					return mapCommandError(err)
				}
			}
			return nil
		},
	}
}
