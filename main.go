package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	rootcmd "go.modpipe.dev/modpipe/cmd"
	"go.modpipe.dev/modpipe/errext"
	"go.modpipe.dev/modpipe/errext/exitcodes"
	"go.modpipe.dev/modpipe/internal/cmd"
)

func main() {
	gs := cmd.NewGlobalState(context.Background())
	root := rootcmd.NewRootCommand(gs)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(gs.Stderr, err)
		os.Exit(int(exitCodeFor(err)))
	}
}

func exitCodeFor(err error) exitcodes.ExitCode {
	var withCode errext.HasExitCode
	if errors.As(err, &withCode) {
		return withCode.ExitCode()
	}
	return exitcodes.GenericError
}
