// Package pinject allows you to load a shared library into a running process and call
// an exported function from it.
//
// It works on Linux (including Android) and internally uses ptrace. The target process
// does not have to cooperate: it is attached to, made to call mmap, dlopen and dlsym
// through its own dynamic loader, and then resumed with its original registers.
package pinject

import (
	"gitlab.com/tozd/go/errors"
)

var (
	ErrAttachFailed            = errors.Base("attach failed")
	ErrRegisterAccessFailed    = errors.Base("register access failed")
	ErrRemoteAddressUnresolved = errors.Base("remote address unresolved")
	ErrRemoteAllocationFailed  = errors.Base("remote allocation failed")
	ErrLibraryLoadFailed       = errors.Base("library load failed")
	ErrSymbolResolutionFailed  = errors.Base("symbol resolution failed")
	ErrRemoteCallTimeout       = errors.Base("remote call timeout")
	ErrDetachFailed            = errors.Base("detach failed")

	ErrProcessAlreadyAttached = errors.Base("process already attached")
	ErrProcessNotAttached     = errors.Base("process not attached")
	ErrProcessNotFound        = errors.Base("process not found")
	ErrMemoryAccessFailed     = errors.Base("memory access failed")
	ErrUnexpectedWaitStatus   = errors.Base("unexpected wait status")
	ErrRemoteCallFaulted      = errors.Base("remote call faulted")
	ErrPayloadTooLarge        = errors.Base("payload is larger than its scratch slot")
	ErrModuleNotFound         = errors.Base("module not found")
	ErrSymbolNotFound         = errors.Base("symbol not found")
	ErrUnsupportedArch        = errors.Base("unsupported architecture")
	ErrUnknownPlatform        = errors.Base("unknown platform")
)

// Self is used instead of a PID to refer to the calling process.
const Self = -1

// DefaultSymbol is the entry point called when Request.Symbol is empty.
const DefaultSymbol = "hook_entry"
