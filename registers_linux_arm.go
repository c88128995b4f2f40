//go:build linux && arm
// +build linux,arm

package pinject

import (
	"unsafe"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/sys/unix"
)

//nolint:gochecknoglobals
var nativeArch = ArchARM

func getRegisters(pid int) (RegisterView, errors.E) {
	// Sanity check.
	if unsafe.Sizeof(unix.PtraceRegs{}) != unsafe.Sizeof(aarch32Registers{}) { //nolint:exhaustruct
		panic(errors.New("ptrace registers do not match the size of aarch32Registers"))
	}
	regs := new(aarch32Registers)
	err := unix.PtraceGetRegs(pid, (*unix.PtraceRegs)(unsafe.Pointer(regs)))
	if err != nil {
		return nil, errors.WrapWith(errors.WithMessage(err, "ptrace getregs"), ErrRegisterAccessFailed)
	}
	return regs, nil
}

func setRegisters(pid int, view RegisterView) errors.E {
	regs, ok := view.(*aarch32Registers)
	if !ok {
		panic(errors.Errorf("registers are %T and not aarch32Registers", view))
	}
	err := unix.PtraceSetRegs(pid, (*unix.PtraceRegs)(unsafe.Pointer(regs)))
	if err != nil {
		return errors.WrapWith(errors.WithMessage(err, "ptrace setregs"), ErrRegisterAccessFailed)
	}
	return nil
}
