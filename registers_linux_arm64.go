//go:build linux && arm64
// +build linux,arm64

package pinject

import (
	"unsafe"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/sys/unix"
)

//nolint:gochecknoglobals
var nativeArch = ArchARM64

// See kernel source include/uapi/linux/elf.h.
const ntPRStatus = 1

// PTRACE_GETREGS is not implemented on arm64, registers are transferred
// as a register set through an I/O vector.
func getRegisters(pid int) (RegisterView, errors.E) {
	// Sanity check.
	if unsafe.Sizeof(unix.PtraceRegsArm64{}) != unsafe.Sizeof(aarch64Registers{}) { //nolint:exhaustruct
		panic(errors.New("ptrace registers do not match the size of aarch64Registers"))
	}
	regs := new(aarch64Registers)
	err := unix.PtraceGetRegSetArm64(pid, ntPRStatus, (*unix.PtraceRegsArm64)(unsafe.Pointer(regs)))
	if err != nil {
		return nil, errors.WrapWith(errors.WithMessage(err, "ptrace getregset"), ErrRegisterAccessFailed)
	}
	return regs, nil
}

func setRegisters(pid int, view RegisterView) errors.E {
	regs, ok := view.(*aarch64Registers)
	if !ok {
		panic(errors.Errorf("registers are %T and not aarch64Registers", view))
	}
	err := unix.PtraceSetRegSetArm64(pid, ntPRStatus, (*unix.PtraceRegsArm64)(unsafe.Pointer(regs)))
	if err != nil {
		return errors.WrapWith(errors.WithMessage(err, "ptrace setregset"), ErrRegisterAccessFailed)
	}
	return nil
}
