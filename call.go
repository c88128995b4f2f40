package pinject

import (
	"context"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// Executor runs a stopped process from given registers until it stops again.
// Target implements it.
type Executor interface {
	GetRegisters() (RegisterView, errors.E)
	SetRegisters(regs RegisterView) errors.E
	Resume() errors.E
	WaitFault(ctx context.Context) errors.E
}

// Call describes one function call inside the process.
type Call struct {
	// Name of the function, used only for logging and error details.
	Name string
	// Address of the function in the address space of the process.
	Address uint64
	// Word-sized arguments.
	Args []uint64
}

// CallResult is the state of the process after a call returned.
type CallResult struct {
	ReturnValue uint64
	// PC is the instruction pointer at which the process stopped.
	PC uint64
	// Registers are all registers after the call returned.
	Registers RegisterView
}

// Caller calls functions inside a process.
//
// The called function gets zero as its return address. When it returns, the
// process faults at address zero and the resulting SIGSEGV stop tells us that
// the call finished.
type Caller struct {
	Executor Executor
	Memory   *Memory
	Arch     *Arch
	// Logger for each call done. The zero value is disabled.
	Logger zerolog.Logger
}

// Call calls the function described by call with regs as the starting registers.
// regs is modified.
func (c *Caller) Call(ctx context.Context, call Call, regs RegisterView) (CallResult, errors.E) {
	arch := c.Arch

	registerArgs := min(len(call.Args), arch.RegisterArgs)
	for i := range registerArgs {
		regs.SetArg(i, arch.Mask(call.Args[i]))
	}

	sp := regs.SP() - arch.RedZone
	overflow := call.Args[registerArgs:]
	if len(overflow) > 0 {
		sp = alignDown(sp-uint64(len(overflow)*arch.WordSize), arch.StackAlignment) //nolint:gosec
		errE := c.Memory.Write(sp, arch.EncodeWords(overflow))
		if errE != nil {
			errors.Details(errE)["call"] = call.Name
			return CallResult{}, errE
		}
	}

	if arch.ReturnAddressOnStack {
		if len(overflow) == 0 {
			sp = alignDown(sp, arch.StackAlignment)
		}
		sp -= uint64(arch.WordSize) //nolint:gosec
		errE := c.Memory.Write(sp, make([]byte, arch.WordSize))
		if errE != nil {
			errors.Details(errE)["call"] = call.Name
			return CallResult{}, errE
		}
	} else {
		regs.SetReturnAddress(0)
	}
	regs.SetSP(sp)

	address := call.Address
	// Calling a Thumb function in ARM state (or the other way around) is an illegal instruction.
	if arch.Thumb && address&1 == 1 {
		address &^= 1
		regs.SetAlternateMode(true)
	} else {
		regs.SetAlternateMode(false)
	}
	regs.SetPC(address)
	regs.ClearSyscallRestart()

	errE := c.Executor.SetRegisters(regs)
	if errE != nil {
		errors.Details(errE)["call"] = call.Name
		return CallResult{}, errE
	}

	errE = c.Executor.Resume()
	if errE != nil {
		errors.Details(errE)["call"] = call.Name
		return CallResult{}, errE
	}

	errE = c.Executor.WaitFault(ctx)
	if errE != nil {
		errors.Details(errE)["call"] = call.Name
		return CallResult{}, errE
	}

	resultRegs, errE := c.Executor.GetRegisters()
	if errE != nil {
		errors.Details(errE)["call"] = call.Name
		return CallResult{}, errE
	}

	result := CallResult{
		ReturnValue: arch.Mask(resultRegs.ReturnValue()),
		PC:          resultRegs.PC(),
		Registers:   resultRegs,
	}

	c.Logger.Debug().Str("call", call.Name).
		Str("address", hex(call.Address)).
		Str("return", hex(result.ReturnValue)).
		Str("pc", hex(result.PC)).
		Msg("remote call returned")

	if result.PC != 0 {
		return result, errors.WithDetails(
			ErrRemoteCallFaulted,
			"call", call.Name,
			"address", call.Address,
			"pc", result.PC,
		)
	}

	return result, nil
}
