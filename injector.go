package pinject

import (
	"time"

	"github.com/google/uuid"
	"gitlab.com/tozd/go/errors"
)

// DefaultCallTimeout is the default time a single remote call has to return.
const DefaultCallTimeout = 10 * time.Second

// How long to wait for the process to stop after a remote call timed out.
const interruptTimeout = time.Second

// State of an injection session.
type State int

const (
	StateDetached State = iota
	StateAttached
	StateScratchAllocated
	StateLibraryLoaded
	StateSymbolResolved
	StateInvoked
)

func (s State) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateAttached:
		return "attached"
	case StateScratchAllocated:
		return "scratch allocated"
	case StateLibraryLoaded:
		return "library loaded"
	case StateSymbolResolved:
		return "symbol resolved"
	case StateInvoked:
		return "invoked"
	}
	return "unknown"
}

// Request describes what to inject into which process.
type Request struct {
	Pid int
	// Library is the path of the shared library as seen by the process.
	Library string
	// Symbol is the entry point to call. Default is DefaultSymbol.
	Symbol string
	// Argument bytes are copied into the process and their address is passed to the entry point.
	// A null byte is appended.
	Argument []byte
}

func (r *Request) symbol() string {
	return symbolOrDefault(r.Symbol, DefaultSymbol)
}

// Validate checks that all inputs fit into their slots of a scratch region of size scratchSize.
func (r *Request) Validate(scratchSize uint64) errors.E {
	if r.Library == "" {
		return errors.New("library path is empty")
	}
	if len(r.Library)+1 > libraryPathSlot {
		return errors.WithDetails(ErrPayloadTooLarge, "library", r.Library, "max", libraryPathSlot-1)
	}
	if len(r.symbol())+1 > symbolNameSlot {
		return errors.WithDetails(ErrPayloadTooLarge, "symbol", r.symbol(), "max", symbolNameSlot-1)
	}
	if scratchSize < ArgumentOffset || uint64(len(r.Argument))+1 > scratchSize-ArgumentOffset {
		return errors.WithDetails(ErrPayloadTooLarge, "argumentLength", len(r.Argument), "scratchSize", scratchSize)
	}
	return nil
}

// Result of a successful injection.
type Result struct {
	SessionID uuid.UUID
	// Scratch is the address of the scratch region in the process.
	Scratch uint64
	// Handle is what dlopen returned.
	Handle uint64
	// Entry is the address of the called entry point.
	Entry       uint64
	ReturnValue uint64
}
