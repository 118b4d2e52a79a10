package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/amanthanvi/gpgvault/internal/cli"
	"github.com/amanthanvi/gpgvault/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := cli.NewRootCommand(os.Stdout, cli.BuildInfo{
		Version:   version.Version,
		Commit:    version.Commit,
		BuildTime: version.BuildTime,
	})
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "gpgvault: %v\n", err)
		var withExitCode interface{ ExitCode() int }
		if errors.As(err, &withExitCode) {
			stop()
			os.Exit(withExitCode.ExitCode())
		}
		stop()
		os.Exit(1)
	}
}
