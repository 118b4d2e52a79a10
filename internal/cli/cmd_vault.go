package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/amanthanvi/gpgvault/internal/app"
	"github.com/amanthanvi/gpgvault/internal/config"
	"github.com/amanthanvi/gpgvault/internal/storage"
)

func newInitCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty encrypted vault",
		Example: "  gpgvault --recipient you@example.com init\n" +
			"  gpgvault --backend envelope --recipient laptop --passphrase-stdin init",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("init does not accept positional arguments")
			}
			var cfg config.Config
			err := withVault(cmd, deps, modeCreate, func(_ context.Context, _ *app.Session, c config.Config) error {
				cfg = c
				return nil
			})
			if err != nil {
				return mapCommandError(err)
			}

			if deps.globals.JSON {
				return mapCommandError(printJSON(deps.out, map[string]any{
					"initialized": true,
					"vault_path":  cfg.Vault.Path,
					"recipient":   cfg.Vault.Recipient,
					"backend":     cfg.Vault.Backend,
				}))
			}
			if deps.globals.Quiet {
				return nil
			}
			_, err = fmt.Fprintf(deps.out, "initialized vault: %s\n", cfg.Vault.Path)
			return mapCommandError(err)
		},
	}
}

func newAddCommand(deps commandDeps) *cobra.Command {
	var (
		req   app.RegisterTargetRequest
		attrs []string
	)
	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Register a target with its first credential",
		Example: "  gpgvault add --name Test4 --url https://example.com --user alice --secret s3cret --attr a-key=remember1",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("add does not accept positional arguments")
			}
			if strings.TrimSpace(req.Name) == "" {
				return usageErrorf("add requires --name")
			}
			if req.Secret == "" {
				return usageErrorf("add requires --secret")
			}
			parsed, err := parseAttributes(attrs)
			if err != nil {
				return err
			}
			req.Attributes = parsed

			var id int64
			err = withVault(cmd, deps, modeWrite, func(ctx context.Context, session *app.Session, _ config.Config) error {
				var err error
				id, err = session.RegisterTarget(ctx, req)
				return err
			})
			if err != nil {
				return mapCommandError(err)
			}

			if deps.globals.JSON {
				return mapCommandError(printJSON(deps.out, map[string]any{"target_id": id, "name": req.Name}))
			}
			if deps.globals.Quiet {
				return nil
			}
			_, err = fmt.Fprintf(deps.out, "registered %s (#%d)\n", req.Name, id)
			return mapCommandError(err)
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Unique target name")
	cmd.Flags().StringVar(&req.URL, "url", "", "Target URL")
	cmd.Flags().StringVar(&req.User, "user", "", "Account user name")
	cmd.Flags().StringVar(&req.Secret, "secret", "", "Secret value")
	cmd.Flags().StringVar(&req.Note, "note", "", "Free-form note")
	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "Attribute key=value (repeatable)")
	return cmd
}

func newRotateCommand(deps commandDeps) *cobra.Command {
	var (
		secret string
		user   string
		note   string
		attrs  []string
	)
	cmd := &cobra.Command{
		Use:   "rotate <target>",
		Short: "Add a new current credential to a target",
		Long: "rotate appends a credential to the target's history. The user is kept\n" +
			"from the current credential unless --user is given.\n\n" + targetRefHelp,
		Example: "  gpgvault rotate Test4 --secret n3w\n" +
			"  gpgvault rotate '#1' --secret n3w --user bob",
		Args: exactlyOneTarget("rotate"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseTargetRef(args[0])
			if err != nil {
				return err
			}
			if secret == "" {
				return usageErrorf("rotate requires --secret")
			}
			parsed, err := parseAttributes(attrs)
			if err != nil {
				return err
			}
			req := app.RotateCredentialRequest{Target: ref, Secret: secret, Note: note, Attributes: parsed}
			if cmd.Flags().Changed("user") {
				req.User = &user
			}

			var id int64
			err = withVault(cmd, deps, modeWrite, func(ctx context.Context, session *app.Session, _ config.Config) error {
				var err error
				id, err = session.RotateCredential(ctx, req)
				return err
			})
			if err != nil {
				return mapCommandError(err)
			}

			if deps.globals.JSON {
				return mapCommandError(printJSON(deps.out, map[string]any{"target": args[0], "credential_id": id}))
			}
			if deps.globals.Quiet {
				return nil
			}
			_, err = fmt.Fprintf(deps.out, "rotated %s: credential #%d\n", args[0], id)
			return mapCommandError(err)
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "New secret value")
	cmd.Flags().StringVar(&user, "user", "", "Account user name (defaults to the current one)")
	cmd.Flags().StringVar(&note, "note", "", "Free-form note")
	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "Attribute key=value (repeatable)")
	return cmd
}

const targetRefHelp = "A target is addressed by exact name or by \"#<id>\". Write \"##name\" for a\n" +
	"name that starts with \"#\"."

type credentialView struct {
	TargetID   int64             `json:"target_id"`
	Target     string            `json:"target"`
	URL        string            `json:"url"`
	ID         int64             `json:"credential_id"`
	User       string            `json:"user"`
	Secret     string            `json:"secret,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Note       string            `json:"note"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func newShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "show <target>",
		Short:   "Print the current credential of a target",
		Long:    "show prints the newest credential of a target.\n\n" + targetRefHelp,
		Example: "  gpgvault show Test4\n  gpgvault --json show '#1'",
		Args:    exactlyOneTarget("show"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseTargetRef(args[0])
			if err != nil {
				return err
			}

			var current *storage.CurrentCredential
			err = withVault(cmd, deps, modeRead, func(ctx context.Context, session *app.Session, _ config.Config) error {
				var err error
				current, err = session.CurrentCredential(ctx, ref)
				return err
			})
			if err != nil {
				return mapCommandError(err)
			}

			view := credentialView{
				TargetID:  current.Target.ID,
				Target:    current.Target.Name,
				URL:       current.Target.URL,
				ID:        current.Credential.ID,
				User:      current.Credential.User,
				Secret:    current.Credential.Secret,
				CreatedAt: current.Credential.CreatedAt,
				Note:      current.Credential.Note,
			}
			if len(current.Attributes) > 0 {
				view.Attributes = make(map[string]string, len(current.Attributes))
				for _, attr := range current.Attributes {
					view.Attributes[attr.Key] = attr.Value
				}
			}
			if deps.globals.JSON {
				return mapCommandError(printJSON(deps.out, view))
			}

			var b strings.Builder
			fmt.Fprintf(&b, "target:  %s (#%d)\n", view.Target, view.TargetID)
			fmt.Fprintf(&b, "url:     %s\n", view.URL)
			fmt.Fprintf(&b, "user:    %s\n", view.User)
			fmt.Fprintf(&b, "secret:  %s\n", view.Secret)
			fmt.Fprintf(&b, "created: %s\n", view.CreatedAt.Format(time.RFC3339))
			if view.Note != "" {
				fmt.Fprintf(&b, "note:    %s\n", view.Note)
			}
			for _, attr := range current.Attributes {
				fmt.Fprintf(&b, "attr:    %s=%s\n", attr.Key, attr.Value)
			}
			_, err = fmt.Fprint(deps.out, b.String())
			return mapCommandError(err)
		},
	}
}

func newHistoryCommand(deps commandDeps) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "history <target>",
		Short: "List every credential of a target, newest first",
		Long:  "history prints every credential of a target, newest first.\n\n" + targetRefHelp,
		Args:  exactlyOneTarget("history"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseTargetRef(args[0])
			if err != nil {
				return err
			}

			var history []storage.Credential
			err = withVault(cmd, deps, modeRead, func(ctx context.Context, session *app.Session, _ config.Config) error {
				var err error
				history, err = session.CredentialHistory(ctx, ref)
				return err
			})
			if err != nil {
				return mapCommandError(err)
			}

			views := make([]credentialView, 0, len(history))
			for _, cred := range history {
				view := credentialView{
					TargetID:  cred.TargetID,
					ID:        cred.ID,
					User:      cred.User,
					CreatedAt: cred.CreatedAt,
					Note:      cred.Note,
				}
				if reveal {
					view.Secret = cred.Secret
				}
				views = append(views, view)
			}
			if deps.globals.JSON {
				return mapCommandError(printJSON(deps.out, views))
			}
			for _, view := range views {
				line := fmt.Sprintf("#%d\t%s\t%s", view.ID, view.CreatedAt.Format(time.RFC3339), view.User)
				if reveal {
					line += "\t" + view.Secret
				}
				if view.Note != "" {
					line += "\t" + view.Note
				}
				if _, err := fmt.Fprintln(deps.out, line); err != nil {
					return mapCommandError(err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Include secret values")
	return cmd
}

func newListCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List target names in registration order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("ls does not accept positional arguments")
			}

			var names []string
			err := withVault(cmd, deps, modeRead, func(ctx context.Context, session *app.Session, _ config.Config) error {
				var err error
				names, err = session.AllTargetNames(ctx)
				return err
			})
			if err != nil {
				return mapCommandError(err)
			}

			if deps.globals.JSON {
				if names == nil {
					names = []string{}
				}
				return mapCommandError(printJSON(deps.out, names))
			}
			for _, name := range names {
				if _, err := fmt.Fprintln(deps.out, name); err != nil {
					return mapCommandError(err)
				}
			}
			return nil
		},
	}
}

func exactlyOneTarget(command string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != 1 {
			return usageErrorf("%s requires exactly one target (name or #id)", command)
		}
		return nil
	}
}

// parseTargetRef accepts "#<id>" for a surrogate id and anything else as an
// exact target name. A leading "##" escapes a name that itself starts with "#".
func parseTargetRef(arg string) (storage.TargetRef, error) {
	if arg == "" {
		return storage.TargetRef{}, usageErrorf("target must not be empty")
	}
	if strings.HasPrefix(arg, "##") {
		return storage.ByName(arg[1:]), nil
	}
	if rest, ok := strings.CutPrefix(arg, "#"); ok {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || id <= 0 {
			return storage.TargetRef{}, usageErrorf("invalid target id %q", arg)
		}
		return storage.ByID(id), nil
	}
	return storage.ByName(arg), nil
}

func parseAttributes(raw []string) ([]storage.Attribute, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(raw))
	attrs := make([]storage.Attribute, 0, len(raw))
	for _, entry := range raw {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, usageErrorf("invalid --attr %q: expected key=value", entry)
		}
		if _, dup := seen[key]; dup {
			return nil, usageErrorf("duplicate --attr key %q", key)
		}
		seen[key] = struct{}{}
		attrs = append(attrs, storage.Attribute{Key: key, Value: value})
	}
	return attrs, nil
}
