package pinject

import (
	"context"
	"runtime"
	"time"
	"unsafe"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sys/unix"
)

const (
	// These errno values are not really meant for user space programs (so they are not defined
	// in unix package) but we need them as we operate on a lower level and handle them in doSyscall.
	_ERESTARTSYS           = unix.Errno(512) //nolint: revive,stylecheck
	_ERESTARTNOINTR        = unix.Errno(513) //nolint: revive,stylecheck
	_ERESTARTNOHAND        = unix.Errno(514) //nolint: revive,stylecheck
	_ERESTART_RESTARTBLOCK = unix.Errno(516) //nolint: revive,stylecheck
)

// DefaultPollInterval is the default interval between checks if the process changed its state.
const DefaultPollInterval = time.Millisecond

// Target is a process controlled through ptrace.
//
// All methods have to be called from the same goroutine: ptrace requests are accepted
// only from the thread which attached, so Attach locks the goroutine to its OS thread
// until Detach.
type Target struct {
	// Pid of the process to control (and attach to).
	Pid int
	// PollInterval between checks if the process stopped. Default is DefaultPollInterval.
	PollInterval time.Duration
	// Logger for warnings about unexpected stops. The zero value is disabled.
	Logger zerolog.Logger

	attached bool
}

// NativeArch returns the architecture this program runs on. Only processes of the
// same architecture can be controlled.
func NativeArch() *Arch {
	return nativeArch
}

// Arch returns the architecture of the process, which is the architecture of this process.
func (t *Target) Arch() *Arch {
	return nativeArch
}

// Attached returns true if the process is attached to.
func (t *Target) Attached() bool {
	return t.attached
}

func (t *Target) pollInterval() time.Duration {
	if t.PollInterval == 0 {
		return DefaultPollInterval
	}
	return t.PollInterval
}

// Attach attaches to the process and waits for it to stop.
//
// While the process is attached to, its regular execution is paused and only
// signal processing happens in the process.
func (t *Target) Attach(ctx context.Context) (errE errors.E) { //nolint:nonamedreturns
	if t.attached {
		return errors.WithDetails(ErrProcessAlreadyAttached, "pid", t.Pid)
	}

	runtime.LockOSThread()

	err := unix.PtraceSeize(t.Pid)
	if err != nil {
		runtime.UnlockOSThread()
		errE = errors.WrapWith(errors.WithMessage(err, "ptrace seize"), ErrAttachFailed)
		errors.Details(errE)["pid"] = t.Pid
		return errE
	}

	defer func() {
		if errE != nil {
			err = unix.PtraceDetach(t.Pid)
			runtime.UnlockOSThread()
			if err != nil {
				errE2 := errors.WithMessage(err, "ptrace detach")
				errors.Details(errE2)["pid"] = t.Pid
				errE = errors.Join(errE, errE2)
			}
		}
	}()

	err = unix.PtraceInterrupt(t.Pid)
	if err != nil {
		errE = errors.WrapWith(errors.WithMessage(err, "ptrace interrupt"), ErrAttachFailed)
		errors.Details(errE)["pid"] = t.Pid
		return errE
	}

	errE = t.waitTrap(ctx, unix.PTRACE_EVENT_STOP)
	if errE != nil {
		errE = errors.WrapWith(errE, ErrAttachFailed)
		errors.Details(errE)["pid"] = t.Pid
		return errE
	}

	t.attached = true

	return nil
}

// Detach detaches from the process, letting it continue from its current registers.
func (t *Target) Detach() errors.E {
	if !t.attached {
		return errors.WithDetails(ErrProcessNotAttached, "pid", t.Pid)
	}

	err := unix.PtraceDetach(t.Pid)
	runtime.UnlockOSThread()
	// Even if detach failed, the thread is not locked anymore so we cannot continue.
	t.attached = false
	if err != nil {
		errE := errors.WrapWith(errors.WithMessage(err, "ptrace detach"), ErrDetachFailed)
		errors.Details(errE)["pid"] = t.Pid
		return errE
	}

	return nil
}

// GetRegisters reads all general-purpose registers of the (attached) process.
func (t *Target) GetRegisters() (RegisterView, errors.E) {
	if !t.attached {
		return nil, errors.WithDetails(ErrProcessNotAttached, "pid", t.Pid)
	}
	regs, errE := getRegisters(t.Pid)
	if errE != nil {
		errors.Details(errE)["pid"] = t.Pid
		return nil, errE
	}
	return regs, nil
}

// SetRegisters writes all general-purpose registers of the (attached) process.
func (t *Target) SetRegisters(regs RegisterView) errors.E {
	if !t.attached {
		return errors.WithDetails(ErrProcessNotAttached, "pid", t.Pid)
	}
	errE := setRegisters(t.Pid, regs)
	if errE != nil {
		errors.Details(errE)["pid"] = t.Pid
		return errE
	}
	return nil
}

// Resume continues the process from its current instruction pointer without delivering a signal.
// Use WaitFault to wait for it to stop again.
func (t *Target) Resume() errors.E {
	err := unix.PtraceCont(t.Pid, 0)
	if err != nil {
		errE := errors.WithMessage(err, "ptrace cont")
		errors.Details(errE)["pid"] = t.Pid
		return errE
	}
	return nil
}

// Interrupt stops the running (attached) process. It is used to regain control
// after a remote call did not return in time.
func (t *Target) Interrupt(ctx context.Context) errors.E {
	err := unix.PtraceInterrupt(t.Pid)
	if err != nil {
		errE := errors.WithMessage(err, "ptrace interrupt")
		errors.Details(errE)["pid"] = t.Pid
		return errE
	}
	status, errE := t.wait(ctx)
	if errE != nil {
		errors.Details(errE)["pid"] = t.Pid
		return errE
	}
	if !status.Stopped() {
		return errors.WithDetails(
			ErrUnexpectedWaitStatus,
			"pid", t.Pid,
			"exitStatus", status.ExitStatus(),
			"signal", status.Signal(),
		)
	}
	return nil
}

// PeekWord reads one word from the memory of the (attached) process.
func (t *Target) PeekWord(address uint64) (uint64, errors.E) {
	var word uintptr
	// The raw system call stores the word into data, unlike the libc wrapper which returns it.
	_, _, e := unix.Syscall6(
		unix.SYS_PTRACE, unix.PTRACE_PEEKDATA, uintptr(t.Pid), uintptr(address), uintptr(unsafe.Pointer(&word)), 0, 0, //nolint:gosec
	)
	if e != 0 {
		errE := errors.WrapWith(errors.WithMessage(e, "ptrace peekdata"), ErrMemoryAccessFailed)
		errors.Details(errE)["pid"] = t.Pid
		errors.Details(errE)["address"] = address
		return 0, errE
	}
	return uint64(word), nil
}

// PokeWord writes one word into the memory of the (attached) process.
func (t *Target) PokeWord(address uint64, word uint64) errors.E {
	_, _, e := unix.Syscall6(
		unix.SYS_PTRACE, unix.PTRACE_POKEDATA, uintptr(t.Pid), uintptr(address), uintptr(word), 0, 0, //nolint:gosec
	)
	if e != 0 {
		errE := errors.WrapWith(errors.WithMessage(e, "ptrace pokedata"), ErrMemoryAccessFailed)
		errors.Details(errE)["pid"] = t.Pid
		errors.Details(errE)["address"] = address
		return errE
	}
	return nil
}

// Memory returns remote memory I/O for the (attached) process.
func (t *Target) Memory() *Memory {
	return &Memory{
		Transport: t,
		Arch:      t.Arch(),
	}
}

// WaitFault waits for the process to stop because of a segmentation fault, which is how
// a remote call signals that it returned to the zero return address. Other signals the
// process receives meanwhile are passed on to it.
func (t *Target) WaitFault(ctx context.Context) errors.E {
	for {
		status, errE := t.wait(ctx)
		if errE != nil {
			if ctx.Err() != nil {
				errE = errors.WrapWith(errE, ErrRemoteCallTimeout)
				errors.Details(errE)["pid"] = t.Pid
			}
			return errE
		}
		if !status.Stopped() {
			return errors.WithDetails(
				ErrUnexpectedWaitStatus,
				"pid", t.Pid,
				"exitStatus", status.ExitStatus(),
				"signal", status.Signal(),
			)
		}
		// Wait status 0xb7f.
		if status.StopSignal() == unix.SIGSEGV && status>>16 == 0 {
			return nil
		}
		signal := status.StopSignal()
		if status>>16 != 0 {
			// Group-stop or a ptrace event, nothing to deliver.
			signal = 0
		}
		t.Logger.Warn().Int("pid", t.Pid).Stringer("stopSignal", status.StopSignal()).Msg("unexpected stop during remote call")
		err := unix.PtraceCont(t.Pid, int(signal))
		if err != nil {
			errE := errors.WithMessage(err, "ptrace cont")
			errors.Details(errE)["pid"] = t.Pid
			errors.Details(errE)["stopSignal"] = int(signal)
			return errE
		}
	}
}

// wait polls the process for a state change until ctx is done.
func (t *Target) wait(ctx context.Context) (unix.WaitStatus, errors.E) {
	ticker := time.NewTicker(t.pollInterval())
	defer ticker.Stop()

	for {
		var status unix.WaitStatus
		wpid, err := unix.Wait4(t.Pid, &status, unix.WNOHANG, nil)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, errors.WithMessage(err, "wait4")
		}
		if wpid == t.Pid {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return 0, errors.WithStack(ctx.Err())
		case <-ticker.C:
		}
	}
}

func (t *Target) waitTrap(ctx context.Context, cause int) errors.E {
	for {
		status, errE := t.wait(ctx)
		if errE != nil {
			return errE
		}
		// A breakpoint or other trap cause we expected has been reached.
		if status.TrapCause() == cause {
			return nil
		} else if status.TrapCause() != -1 {
			t.Logger.Warn().Int("pid", t.Pid).Int("trapCause", status.TrapCause()).Int("expected", cause).Msg("unexpected trap cause")
			return nil
		} else if status.Stopped() {
			// If the process stopped it might have stopped for some other signal. While a process is
			// ptraced any signal it receives stops the process for us to decide what to do about the
			// signal. In our case we just pass the signal back to the process using ptrace cont and
			// let its signal handler do its work.
			err := unix.PtraceCont(t.Pid, int(status.StopSignal()))
			if err != nil {
				errE := errors.WithMessage(err, "ptrace cont")
				errors.Details(errE)["stopSignal"] = int(status.StopSignal())
				return errE
			}
			continue
		}
		return errors.WithDetails(
			ErrUnexpectedWaitStatus,
			"exitStatus", status.ExitStatus(),
			"signal", status.Signal(),
			"stopSignal", status.StopSignal(),
			"trapCause", status.TrapCause(),
			"expectedTrapCause", cause,
		)
	}
}

// Low-level call of a system call in the process. Use Syscall instead.
//
// It writes opcodes to call a system call followed by a breakpoint at the current
// (aligned) instruction pointer, runs them, and restores both the original code
// and the original registers.
func (t *Target) syscall(ctx context.Context, call uint64, args [6]uint64) (result uint64, errE errors.E) { //nolint:nonamedreturns
	arch := t.Arch()
	memory := t.Memory()

	var originalRegs RegisterView
	originalRegs, errE = t.GetRegisters()
	if errE != nil {
		errors.Details(errE)["call"] = call
		return 0, errE
	}

	start := alignDown(originalRegs.PC()+uint64(arch.WordSize)-1, uint64(arch.WordSize)) //nolint:gosec
	// TODO: What if the instruction pointer is so close to the end of the mapping that instructions do not fit?
	originalInstructions, errE := memory.Read(start, len(arch.SyscallInstruction))
	if errE != nil {
		errors.Details(errE)["call"] = call
		return 0, errE
	}

	defer func() {
		errE2 := t.SetRegisters(originalRegs)
		if errE2 != nil {
			errors.Details(errE2)["call"] = call
		}
		errE = errors.Join(errE, errE2)
	}()

	defer func() {
		errE2 := memory.Write(start, originalInstructions)
		if errE2 != nil {
			errors.Details(errE2)["call"] = call
		}
		errE = errors.Join(errE, errE2)
	}()

	errE = memory.Write(start, arch.SyscallInstruction)
	if errE != nil {
		errors.Details(errE)["call"] = call
		return 0, errE
	}

	newRegs := originalRegs.Clone()
	newRegs.ClearSyscallRestart()
	newRegs.SetSyscall(call, args)
	newRegs.SetPC(start)
	newRegs.SetAlternateMode(false)

	errE = t.SetRegisters(newRegs)
	if errE != nil {
		errors.Details(errE)["call"] = call
		return 0, errE
	}

	errE = t.Resume()
	if errE != nil {
		errors.Details(errE)["call"] = call
		return 0, errE
	}

	// 0 trap cause means a breakpoint or single stepping.
	errE = t.waitTrap(ctx, 0)
	if errE != nil {
		errors.Details(errE)["call"] = call
		return 0, errE
	}

	resultRegs, errE := t.GetRegisters()
	if errE != nil {
		errors.Details(errE)["call"] = call
		return 0, errE
	}

	result = arch.Mask(resultRegs.ReturnValue())
	if arch.IsErrno(result) {
		return 0, errors.WithDetails(
			unix.Errno(arch.Mask(-result)),
			"call", call,
		)
	}

	return result, nil
}

// Syscall invokes a raw system call in the (attached) process and returns its return value.
//
// System calls can be interrupted by signal handling and might abort. So we
// wrap them with a loop which retries them automatically if interrupted.
// We do not handle EAGAIN here on purpose, to not block in a loop.
func (t *Target) Syscall(ctx context.Context, call uint64, args [6]uint64) (uint64, errors.E) {
	for {
		result, err := t.syscall(ctx, call, args)
		if err != nil {
			if errors.Is(err, _ERESTARTSYS) {
				continue
			} else if errors.Is(err, _ERESTARTNOINTR) {
				continue
			} else if errors.Is(err, _ERESTARTNOHAND) {
				continue
			} else if errors.Is(err, _ERESTART_RESTARTBLOCK) {
				continue
			} else if errors.Is(err, unix.EINTR) {
				continue
			}
			// Go to return.
		}

		return result, err
	}
}
