//go:build linux && amd64
// +build linux,amd64

package pinject

import (
	"unsafe"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/sys/unix"
)

//nolint:gochecknoglobals
var nativeArch = ArchAMD64

func getRegisters(pid int) (RegisterView, errors.E) {
	// Sanity check.
	if unsafe.Sizeof(unix.PtraceRegs{}) != unsafe.Sizeof(x8664Registers{}) { //nolint:exhaustruct
		panic(errors.New("ptrace registers do not match the size of x8664Registers"))
	}
	regs := new(x8664Registers)
	err := unix.PtraceGetRegs(pid, (*unix.PtraceRegs)(unsafe.Pointer(regs)))
	if err != nil {
		return nil, errors.WrapWith(errors.WithMessage(err, "ptrace getregs"), ErrRegisterAccessFailed)
	}
	return regs, nil
}

func setRegisters(pid int, view RegisterView) errors.E {
	regs, ok := view.(*x8664Registers)
	if !ok {
		panic(errors.Errorf("registers are %T and not x8664Registers", view))
	}
	err := unix.PtraceSetRegs(pid, (*unix.PtraceRegs)(unsafe.Pointer(regs)))
	if err != nil {
		return errors.WrapWith(errors.WithMessage(err, "ptrace setregs"), ErrRegisterAccessFailed)
	}
	return nil
}
