package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// GlobalOptions holds the persistent flags shared by every subcommand.
type GlobalOptions struct {
	ConfigPath      string
	VaultPath       string
	Recipient       string
	Backend         string
	JSON            bool
	Quiet           bool
	Verbose         bool
	PassphraseStdin bool
}

type commandDeps struct {
	out     io.Writer
	errOut  io.Writer
	globals *GlobalOptions
	build   BuildInfo
	// env replaces the process environment for config resolution when set.
	env map[string]string
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	return newRootCommand(commandDeps{
		out:     out,
		errOut:  os.Stderr,
		globals: &GlobalOptions{},
		build:   build,
	})
}

func newRootCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gpgvault",
		Short: "Encrypted credential vault",
		Long: "gpgvault keeps named targets and the history of their credentials in a\n" +
			"single file encrypted for one recipient identity.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(deps.out)
	cmd.SetErr(deps.errOut)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErrorf("%v", err)
	})

	flags := cmd.PersistentFlags()
	flags.StringVar(&deps.globals.ConfigPath, "config", "", "Path to config.toml")
	flags.StringVar(&deps.globals.VaultPath, "vault", "", "Path to the encrypted vault file")
	flags.StringVar(&deps.globals.Recipient, "recipient", "", "Recipient identity the vault is encrypted for")
	flags.StringVar(&deps.globals.Backend, "backend", "", "Encryption backend (openpgp|envelope)")
	flags.BoolVar(&deps.globals.JSON, "json", false, "Print machine-readable JSON")
	flags.BoolVar(&deps.globals.Quiet, "quiet", false, "Suppress non-essential output")
	flags.BoolVar(&deps.globals.Verbose, "verbose", false, "Log to stderr at debug level")
	flags.BoolVar(&deps.globals.PassphraseStdin, "passphrase-stdin", false, "Read the passphrase from the first line of stdin")

	cmd.AddCommand(
		newInitCommand(deps),
		newAddCommand(deps),
		newRotateCommand(deps),
		newShowCommand(deps),
		newHistoryCommand(deps),
		newListCommand(deps),
		newKeyCommand(deps),
		newDoctorCommand(deps),
		newVersionCommand(deps),
	)
	cmd.InitDefaultCompletionCmd()
	return cmd
}
