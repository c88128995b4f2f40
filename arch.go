package pinject

import (
	"encoding/binary"
	"strconv"

	"gitlab.com/tozd/go/errors"
)

// RegisterView is a snapshot of the general-purpose registers of a stopped process
// together with the accessors the call engine needs. Each supported architecture has
// its own variant so the rest of the package never branches on the architecture.
type RegisterView interface {
	PC() uint64
	SetPC(pc uint64)
	SP() uint64
	SetSP(sp uint64)
	// Arg returns the i-th register argument. It panics if i is not smaller than
	// Arch.RegisterArgs.
	Arg(i int) uint64
	SetArg(i int, value uint64)
	ReturnValue() uint64
	// SetReturnAddress sets the link register. It is a no-op on architectures
	// which keep the return address on the stack.
	SetReturnAddress(addr uint64)
	// AlternateMode reports the Thumb state flag on architectures which have one.
	AlternateMode() bool
	SetAlternateMode(enabled bool)
	// ClearSyscallRestart makes the kernel not treat the registers as belonging to an
	// interrupted system call which should be restarted on resume.
	ClearSyscallRestart()
	// SetSyscall sets registers for a raw system call.
	SetSyscall(nr uint64, args [6]uint64)
	Clone() RegisterView
}

// Arch describes calling and system call conventions of an architecture.
type Arch struct {
	Name      string
	WordSize  int
	ByteOrder binary.ByteOrder
	// RegisterArgs is how many word-sized arguments are passed in registers.
	RegisterArgs int
	// StackAlignment is the alignment of the stack pointer at a call.
	StackAlignment uint64
	// RedZone is the number of bytes below the stack pointer the interrupted code
	// might be using without moving the stack pointer.
	RedZone uint64
	// ReturnAddressOnStack is true when a call pushes the return address on the stack
	// instead of setting a link register.
	ReturnAddressOnStack bool
	// Thumb is true when odd function addresses select the Thumb instruction set.
	Thumb bool
	// SyscallInstruction is a system call instruction followed by a breakpoint.
	SyscallInstruction []byte
	// MmapSyscall is the number of mmap (or mmap2) system call.
	MmapSyscall  uint64
	NewRegisters func() RegisterView
}

//nolint:gochecknoglobals
var (
	ArchARM = &Arch{
		Name:           "arm",
		WordSize:       4,
		ByteOrder:      binary.LittleEndian,
		RegisterArgs:   armRegisterArgs,
		StackAlignment: 8,
		Thumb:          true,
		// svc #0; udf #16 (the breakpoint Linux uses for ARM state).
		SyscallInstruction: []byte{0x00, 0x00, 0x00, 0xEF, 0xF0, 0x01, 0xF0, 0xE7},
		MmapSyscall:        192, // mmap2.
		NewRegisters:       func() RegisterView { return new(aarch32Registers) },
	}
	ArchARM64 = &Arch{
		Name:           "arm64",
		WordSize:       8,
		ByteOrder:      binary.LittleEndian,
		RegisterArgs:   arm64RegisterArgs,
		StackAlignment: 16,
		// svc #0; brk #0.
		SyscallInstruction: []byte{0x01, 0x00, 0x00, 0xD4, 0x00, 0x00, 0x20, 0xD4},
		MmapSyscall:        222,
		NewRegisters:       func() RegisterView { return new(aarch64Registers) },
	}
	Arch386 = &Arch{
		Name:                 "386",
		WordSize:             4,
		ByteOrder:            binary.LittleEndian,
		RegisterArgs:         0,
		StackAlignment:       16,
		ReturnAddressOnStack: true,
		// int $0x80; int3.
		SyscallInstruction: []byte{0xCD, 0x80, 0xCC},
		MmapSyscall:        192, // mmap2.
		NewRegisters:       func() RegisterView { return new(i386Registers) },
	}
	ArchAMD64 = &Arch{
		Name:                 "amd64",
		WordSize:             8,
		ByteOrder:            binary.LittleEndian,
		RegisterArgs:         amd64RegisterArgs,
		StackAlignment:       16,
		RedZone:              128,
		ReturnAddressOnStack: true,
		// syscall; int3.
		SyscallInstruction: []byte{0x0F, 0x05, 0xCC},
		MmapSyscall:        9,
		NewRegisters:       func() RegisterView { return new(x8664Registers) },
	}
)

// ArchByName returns the architecture with the given GOARCH name.
func ArchByName(name string) (*Arch, errors.E) {
	for _, arch := range []*Arch{ArchARM, ArchARM64, Arch386, ArchAMD64} {
		if arch.Name == name {
			return arch, nil
		}
	}
	return nil, errors.WithDetails(ErrUnsupportedArch, "arch", name)
}

// Mask truncates value to the word size.
func (a *Arch) Mask(value uint64) uint64 {
	if a.WordSize == 8 { //nolint:mnd
		return value
	}
	return value & (1<<(8*a.WordSize) - 1)
}

// PutWord encodes value into the first WordSize bytes of b.
func (a *Arch) PutWord(b []byte, value uint64) {
	if a.WordSize == 8 { //nolint:mnd
		a.ByteOrder.PutUint64(b, value)
	} else {
		a.ByteOrder.PutUint32(b, uint32(value)) //nolint:gosec
	}
}

// Word decodes the first WordSize bytes of b.
func (a *Arch) Word(b []byte) uint64 {
	if a.WordSize == 8 { //nolint:mnd
		return a.ByteOrder.Uint64(b)
	}
	return uint64(a.ByteOrder.Uint32(b))
}

// EncodeWords encodes values as consecutive words.
func (a *Arch) EncodeWords(values []uint64) []byte {
	buf := make([]byte, len(values)*a.WordSize)
	for i, value := range values {
		a.PutWord(buf[i*a.WordSize:], value)
	}
	return buf
}

// IsErrno reports whether a raw system call result is a negated errno value.
func (a *Arch) IsErrno(result uint64) bool {
	return a.Mask(result) >= a.Mask(maxErrno)
}

// Errors are returned as negative numbers from syscalls but we compare them as unsigned.
const maxErrno = ^uint64(4094) //nolint:mnd

func alignDown(x, alignment uint64) uint64 {
	return x &^ (alignment - 1)
}

func hex(x uint64) string {
	return "0x" + strconv.FormatUint(x, 16) //nolint:mnd
}
