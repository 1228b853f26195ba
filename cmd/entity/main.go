// Command entity manages schema-defined entity records stored in SQLite.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/susom/redcap-entity/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "entity:", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}

// exitCode separates caller mistakes from environment failures.
func exitCode(err error) int {
	switch {
	case errors.Is(err, types.ErrPersistenceFailed), errors.Is(err, types.ErrDetached):
		return exitSysError
	case errors.Is(err, types.ErrValidationFailed),
		errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrInvalidType),
		errors.Is(err, types.ErrInvalidQuery),
		errors.Is(err, types.ErrUnknownProperty),
		errors.Is(err, types.ErrConflict),
		errors.Is(err, errUsage):
		return exitUserError
	default:
		return exitSysError
	}
}
