package main

import (
	"errors"
	"fmt"

	"github.com/sigreer/ledctl/internal/address"
	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/ibpi"
	"github.com/sigreer/ledctl/internal/logging"
)

// Exit statuses
const (
	exitSuccess           = 0
	exitFailure           = 1
	exitInvalidPath       = 8
	exitInvalidState      = 10
	exitInvalidController = 32
	exitNotSupported      = 33
	exitCmdline           = 35
	exitNotPrivileged     = 36
	exitLogFile           = 40
)

var (
	errUsage         = errors.New("invalid command line")
	errNotPrivileged = errors.New("Only root can run this application.")
)

func usageErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errUsage)
}

// exitCode maps an error to the process status. For joined errors the
// last failure decides.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		if errs := joined.Unwrap(); len(errs) > 0 {
			return exitCode(errs[len(errs)-1])
		}
	}

	switch {
	case errors.Is(err, errUsage), errors.Is(err, address.ErrSyntax), errors.Is(err, logging.ErrInvalidLevel):
		return exitCmdline
	case errors.Is(err, errNotPrivileged):
		return exitNotPrivileged
	case errors.Is(err, logging.ErrLogFile):
		return exitLogFile
	case errors.Is(err, ibpi.ErrUnknownState):
		return exitInvalidState
	case errors.Is(err, backend.ErrDeviceNotFound), errors.Is(err, backend.ErrNotFound):
		return exitInvalidPath
	case errors.Is(err, backend.ErrDeviceNotSupported):
		return exitNotSupported
	case errors.Is(err, backend.ErrInvalidController),
		errors.Is(err, backend.ErrControllerFiltered),
		errors.Is(err, backend.ErrBackendUnavailable):
		return exitInvalidController
	}
	return exitFailure
}
