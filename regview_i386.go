package pinject

import (
	"gitlab.com/tozd/go/errors"
)

// Layout of struct user_regs_struct on 32-bit x86.
type i386Registers struct {
	Ebx     uint32
	Ecx     uint32
	Edx     uint32
	Esi     uint32
	Edi     uint32
	Ebp     uint32
	Eax     uint32
	Xds     uint32
	Xes     uint32
	Xfs     uint32
	Xgs     uint32
	OrigEax uint32
	Eip     uint32
	Xcs     uint32
	Eflags  uint32
	Esp     uint32
	Xss     uint32
}

func (r *i386Registers) PC() uint64          { return uint64(r.Eip) }
func (r *i386Registers) SetPC(pc uint64)     { r.Eip = uint32(pc) }
func (r *i386Registers) SP() uint64          { return uint64(r.Esp) }
func (r *i386Registers) SetSP(sp uint64)     { r.Esp = uint32(sp) }
func (r *i386Registers) ReturnValue() uint64 { return uint64(r.Eax) }

// All cdecl arguments are passed on the stack.
func (r *i386Registers) Arg(i int) uint64 {
	panic(errors.Errorf("invalid register argument %d", i))
}

func (r *i386Registers) SetArg(i int, _ uint64) {
	panic(errors.Errorf("invalid register argument %d", i))
}

func (r *i386Registers) SetReturnAddress(_ uint64) {}

func (r *i386Registers) AlternateMode() bool { return false }

func (r *i386Registers) SetAlternateMode(_ bool) {}

// The kernel decides about restarting an interrupted system call after the tracer
// resumes the process, based on orig_eax.
func (r *i386Registers) ClearSyscallRestart() {
	r.OrigEax = ^uint32(0)
}

func (r *i386Registers) SetSyscall(nr uint64, args [6]uint64) {
	r.Ebx = uint32(args[0]) //nolint:gosec
	r.Ecx = uint32(args[1]) //nolint:gosec
	r.Edx = uint32(args[2]) //nolint:gosec
	r.Esi = uint32(args[3]) //nolint:gosec
	r.Edi = uint32(args[4]) //nolint:gosec
	r.Ebp = uint32(args[5]) //nolint:gosec
	r.Eax = uint32(nr)      //nolint:gosec
}

func (r *i386Registers) Clone() RegisterView {
	c := *r
	return &c
}
