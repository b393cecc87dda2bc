// Package main provides the entry point for the ggrep CLI.
package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/ggrep/ggrep/cmd/ggrep/cmd"
	"github.com/ggrep/ggrep/internal/daemon"
	"github.com/ggrep/ggrep/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errors.FormatForCLI(err))
		os.Exit(exitCode(err))
	}
}

// exitCode maps a failed command onto the CLI's exit-status contract:
// 10 busy, 11 timeout, 12 cancelled, 13 incompatible, 1 anything else.
// Both local GgrepErrors and errors relayed from the daemon carry a
// client code to switch on.
func exitCode(err error) int {
	var remote *daemon.RemoteError
	if stderrors.As(err, &remote) {
		return errors.ExitCodeForClientCode(remote.Code)
	}
	var ge *errors.GgrepError
	if stderrors.As(err, &ge) {
		return errors.ExitCodeForClientCode(ge.ClientCode())
	}
	return 1
}
