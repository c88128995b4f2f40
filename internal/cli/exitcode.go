package cli

import (
	"gitlab.com/tozd/go/errors"

	"gitlab.com/tozd/go/pinject"
)

// Exit codes of the command line tool.
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitAttachFailed      = 10
	ExitRegisterAccess    = 11
	ExitAddressUnresolved = 12
	ExitAllocationFailed  = 13
	ExitLibraryLoadFailed = 14
	ExitSymbolNotResolved = 15
	ExitRemoteCallTimeout = 16
	ExitDetachFailed      = 17
)

// ExitCode maps err to the exit code of the process.
//
// Usage errors exit with 0. Because cleanup errors are joined with the error which caused
// the cleanup, kinds are checked in the order steps of an injection happen, with cleanup
// kinds last.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage):
		return ExitOK
	case errors.Is(err, pinject.ErrAttachFailed):
		return ExitAttachFailed
	case errors.Is(err, pinject.ErrRemoteCallTimeout):
		return ExitRemoteCallTimeout
	case errors.Is(err, pinject.ErrRemoteAllocationFailed):
		return ExitAllocationFailed
	case errors.Is(err, pinject.ErrLibraryLoadFailed):
		return ExitLibraryLoadFailed
	case errors.Is(err, pinject.ErrSymbolResolutionFailed):
		return ExitSymbolNotResolved
	case errors.Is(err, pinject.ErrRemoteAddressUnresolved):
		return ExitAddressUnresolved
	case errors.Is(err, pinject.ErrRegisterAccessFailed):
		return ExitRegisterAccess
	case errors.Is(err, pinject.ErrDetachFailed):
		return ExitDetachFailed
	}
	return ExitFailure
}
