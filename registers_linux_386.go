//go:build linux && 386
// +build linux,386

package pinject

import (
	"unsafe"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/sys/unix"
)

//nolint:gochecknoglobals
var nativeArch = Arch386

func getRegisters(pid int) (RegisterView, errors.E) {
	// Sanity check.
	if unsafe.Sizeof(unix.PtraceRegs{}) != unsafe.Sizeof(i386Registers{}) { //nolint:exhaustruct
		panic(errors.New("ptrace registers do not match the size of i386Registers"))
	}
	regs := new(i386Registers)
	err := unix.PtraceGetRegs(pid, (*unix.PtraceRegs)(unsafe.Pointer(regs)))
	if err != nil {
		return nil, errors.WrapWith(errors.WithMessage(err, "ptrace getregs"), ErrRegisterAccessFailed)
	}
	return regs, nil
}

func setRegisters(pid int, view RegisterView) errors.E {
	regs, ok := view.(*i386Registers)
	if !ok {
		panic(errors.Errorf("registers are %T and not i386Registers", view))
	}
	err := unix.PtraceSetRegs(pid, (*unix.PtraceRegs)(unsafe.Pointer(regs)))
	if err != nil {
		return errors.WrapWith(errors.WithMessage(err, "ptrace setregs"), ErrRegisterAccessFailed)
	}
	return nil
}
