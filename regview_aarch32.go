package pinject

import (
	"gitlab.com/tozd/go/errors"
)

const (
	armRegisterArgs = 4

	armR7    = 7
	armSP    = 13
	armLR    = 14
	armPC    = 15
	armCPSR  = 16
	armOrig0 = 17

	// Thumb state bit in CPSR.
	cpsrThumb = uint32(1) << 5
)

// Layout of struct pt_regs on 32-bit ARM.
type aarch32Registers struct {
	Uregs [18]uint32
}

func (r *aarch32Registers) PC() uint64          { return uint64(r.Uregs[armPC]) }
func (r *aarch32Registers) SetPC(pc uint64)     { r.Uregs[armPC] = uint32(pc) }
func (r *aarch32Registers) SP() uint64          { return uint64(r.Uregs[armSP]) }
func (r *aarch32Registers) SetSP(sp uint64)     { r.Uregs[armSP] = uint32(sp) }
func (r *aarch32Registers) ReturnValue() uint64 { return uint64(r.Uregs[0]) }

func (r *aarch32Registers) Arg(i int) uint64 {
	if i < 0 || i >= armRegisterArgs {
		panic(errors.Errorf("invalid register argument %d", i))
	}
	return uint64(r.Uregs[i])
}

func (r *aarch32Registers) SetArg(i int, value uint64) {
	if i < 0 || i >= armRegisterArgs {
		panic(errors.Errorf("invalid register argument %d", i))
	}
	r.Uregs[i] = uint32(value) //nolint:gosec
}

func (r *aarch32Registers) SetReturnAddress(addr uint64) {
	r.Uregs[armLR] = uint32(addr) //nolint:gosec
}

func (r *aarch32Registers) AlternateMode() bool {
	return r.Uregs[armCPSR]&cpsrThumb != 0
}

func (r *aarch32Registers) SetAlternateMode(enabled bool) {
	if enabled {
		r.Uregs[armCPSR] |= cpsrThumb
	} else {
		r.Uregs[armCPSR] &^= cpsrThumb
	}
}

// On ARM the kernel rewinds an interrupted system call before the tracer sees the
// stop, and only finishes the restart if PC still points at the rewound instruction.
func (r *aarch32Registers) ClearSyscallRestart() {}

func (r *aarch32Registers) SetSyscall(nr uint64, args [6]uint64) {
	for i, arg := range args {
		r.Uregs[i] = uint32(arg) //nolint:gosec
	}
	r.Uregs[armR7] = uint32(nr)         //nolint:gosec
	r.Uregs[armOrig0] = uint32(args[0]) //nolint:gosec
}

func (r *aarch32Registers) Clone() RegisterView {
	c := *r
	return &c
}
