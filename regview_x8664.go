package pinject

import (
	"gitlab.com/tozd/go/errors"
)

const amd64RegisterArgs = 6

// Layout of struct user_regs_struct on 64-bit x86.
type x8664Registers struct {
	R15     uint64
	R14     uint64
	R13     uint64
	R12     uint64
	Rbp     uint64
	Rbx     uint64
	R11     uint64
	R10     uint64
	R9      uint64
	R8      uint64
	Rax     uint64
	Rcx     uint64
	Rdx     uint64
	Rsi     uint64
	Rdi     uint64
	OrigRax uint64
	Rip     uint64
	Cs      uint64
	Eflags  uint64
	Rsp     uint64
	Ss      uint64
	FsBase  uint64
	GsBase  uint64
	Ds      uint64
	Es      uint64
	Fs      uint64
	Gs      uint64
}

func (r *x8664Registers) PC() uint64          { return r.Rip }
func (r *x8664Registers) SetPC(pc uint64)     { r.Rip = pc }
func (r *x8664Registers) SP() uint64          { return r.Rsp }
func (r *x8664Registers) SetSP(sp uint64)     { r.Rsp = sp }
func (r *x8664Registers) ReturnValue() uint64 { return r.Rax }

// System V argument registers in order.
func (r *x8664Registers) argRegister(i int) *uint64 {
	switch i {
	case 0:
		return &r.Rdi
	case 1:
		return &r.Rsi
	case 2: //nolint:mnd
		return &r.Rdx
	case 3: //nolint:mnd
		return &r.Rcx
	case 4: //nolint:mnd
		return &r.R8
	case 5: //nolint:mnd
		return &r.R9
	}
	panic(errors.Errorf("invalid register argument %d", i))
}

func (r *x8664Registers) Arg(i int) uint64 {
	return *r.argRegister(i)
}

func (r *x8664Registers) SetArg(i int, value uint64) {
	*r.argRegister(i) = value
}

func (r *x8664Registers) SetReturnAddress(_ uint64) {}

func (r *x8664Registers) AlternateMode() bool { return false }

func (r *x8664Registers) SetAlternateMode(_ bool) {}

// The kernel decides about restarting an interrupted system call after the tracer
// resumes the process, based on orig_rax. Without this it would move our new
// instruction pointer back by the length of the syscall instruction.
func (r *x8664Registers) ClearSyscallRestart() {
	r.OrigRax = ^uint64(0)
}

func (r *x8664Registers) SetSyscall(nr uint64, args [6]uint64) {
	r.Rdi = args[0]
	r.Rsi = args[1]
	r.Rdx = args[2]
	r.R10 = args[3]
	r.R8 = args[4]
	r.R9 = args[5]
	r.Rax = nr
}

func (r *x8664Registers) Clone() RegisterView {
	c := *r
	return &c
}
