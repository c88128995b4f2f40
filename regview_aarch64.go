package pinject

import (
	"gitlab.com/tozd/go/errors"
)

const (
	arm64RegisterArgs = 8

	arm64X8 = 8
	arm64LR = 30

	// Bit 5 of PSTATE is the Thumb bit for AArch32 state and RES0 in AArch64 state.
	pstateThumb = uint64(1) << 5
)

// Layout of struct user_pt_regs on 64-bit ARM.
type aarch64Registers struct {
	Regs   [31]uint64
	Sp     uint64
	Pc     uint64
	Pstate uint64
}

func (r *aarch64Registers) PC() uint64          { return r.Pc }
func (r *aarch64Registers) SetPC(pc uint64)     { r.Pc = pc }
func (r *aarch64Registers) SP() uint64          { return r.Sp }
func (r *aarch64Registers) SetSP(sp uint64)     { r.Sp = sp }
func (r *aarch64Registers) ReturnValue() uint64 { return r.Regs[0] }

func (r *aarch64Registers) Arg(i int) uint64 {
	if i < 0 || i >= arm64RegisterArgs {
		panic(errors.Errorf("invalid register argument %d", i))
	}
	return r.Regs[i]
}

func (r *aarch64Registers) SetArg(i int, value uint64) {
	if i < 0 || i >= arm64RegisterArgs {
		panic(errors.Errorf("invalid register argument %d", i))
	}
	r.Regs[i] = value
}

func (r *aarch64Registers) SetReturnAddress(addr uint64) {
	r.Regs[arm64LR] = addr
}

func (r *aarch64Registers) AlternateMode() bool {
	return r.Pstate&pstateThumb != 0
}

// SetAlternateMode only ever clears the bit, there is no Thumb in AArch64 state.
func (r *aarch64Registers) SetAlternateMode(_ bool) {
	r.Pstate &^= pstateThumb
}

// Same as on 32-bit ARM, the restart is decided before the tracer sees the stop.
func (r *aarch64Registers) ClearSyscallRestart() {}

func (r *aarch64Registers) SetSyscall(nr uint64, args [6]uint64) {
	copy(r.Regs[:len(args)], args[:])
	r.Regs[arm64X8] = nr
}

func (r *aarch64Registers) Clone() RegisterView {
	c := *r
	return &c
}
