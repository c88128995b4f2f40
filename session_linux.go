package pinject

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// Session is one injection into one process. It owns the attached Target
// and the original registers of the process.
//
// Every remote call starts from a fresh copy of the original registers so that
// the original snapshot is never modified and can always be restored.
type Session struct {
	ID uuid.UUID

	injector *Injector
	resolver *Resolver
	target   *Target
	caller   *Caller
	logger   zerolog.Logger

	original RegisterView
	state    State
	scratch  uint64
}

// State returns the current state of the session.
func (s *Session) State() State {
	return s.state
}

// Pid returns the PID of the process.
func (s *Session) Pid() int {
	return s.target.Pid
}

// Scratch returns the address of the allocated scratch region or zero.
func (s *Session) Scratch() uint64 {
	return s.scratch
}

// Memory returns remote memory I/O for the process.
func (s *Session) Memory() *Memory {
	return s.target.Memory()
}

// Original returns a copy of registers captured at attach.
func (s *Session) Original() RegisterView {
	if s.original == nil {
		return nil
	}
	return s.original.Clone()
}

// Registers returns current registers of the process.
func (s *Session) Registers() (RegisterView, errors.E) {
	return s.target.GetRegisters()
}

// Attach attaches to the process and captures its original registers.
func (s *Session) Attach(ctx context.Context) errors.E {
	errE := s.target.Attach(ctx)
	if errE != nil {
		return errE
	}

	original, errE := s.target.GetRegisters()
	if errE != nil {
		return errors.Join(errE, s.target.Detach())
	}
	s.original = original
	s.state = StateAttached

	cache := s.injector.addressCache()
	startTime, errE := s.resolver.StartTime(s.target.Pid)
	if errE != nil {
		s.logger.Warn().Err(errE).Msg("cannot determine process start time, dropping address cache")
		cache.Reset()
	} else if cache.Bind(s.target.Pid, startTime) {
		s.logger.Debug().Msg("address cache invalidated")
	}

	s.logger.Debug().Str("pc", hex(original.PC())).Str("sp", hex(original.SP())).Msg("attached")
	return nil
}

// Restore sets registers of the process back to the original ones.
func (s *Session) Restore() errors.E {
	if s.original == nil {
		return errors.WithDetails(ErrProcessNotAttached, "pid", s.target.Pid)
	}
	return s.target.SetRegisters(s.original.Clone())
}

// Detach restores the original registers and detaches from the process.
// Detaching is attempted even if restoring fails.
func (s *Session) Detach() errors.E {
	if s.state == StateDetached {
		return errors.WithDetails(ErrProcessNotAttached, "pid", s.target.Pid)
	}
	errE := s.Restore()
	if errE != nil {
		s.logger.Error().Err(errE).Msg("restoring registers failed")
	}
	errE = errors.Join(errE, s.target.Detach())
	s.state = StateDetached
	if errE == nil {
		s.logger.Debug().Msg("detached")
	}
	return errE
}

// Resolve returns the address of symbol inside module in the process.
func (s *Session) Resolve(module, symbol string) (uint64, errors.E) {
	cache := s.injector.addressCache()
	if address, ok := cache.Get(module, symbol); ok {
		return address, nil
	}
	address, errE := s.resolver.RemoteSymbol(s.target.Pid, module, symbol)
	if errE != nil {
		return 0, errE
	}
	cache.Put(module, symbol, address)
	s.logger.Debug().Str("module", module).Str("symbol", symbol).Str("address", hex(address)).Msg("resolved")
	return address, nil
}

// CallFunction calls the function at address inside the process with args,
// starting from the original registers.
//
// If the function does not return in Injector.CallTimeout, the process is interrupted
// so that it can be restored and detached from.
func (s *Session) CallFunction(ctx context.Context, name string, address uint64, args ...uint64) (CallResult, errors.E) {
	if s.original == nil {
		return CallResult{}, errors.WithDetails(ErrProcessNotAttached, "pid", s.target.Pid)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.injector.callTimeout())
	defer cancel()

	result, errE := s.caller.Call(callCtx, Call{Name: name, Address: address, Args: args}, s.original.Clone())
	if errE != nil && errors.Is(errE, ErrRemoteCallTimeout) {
		interruptCtx, cancelInterrupt := context.WithTimeout(context.WithoutCancel(ctx), interruptTimeout)
		defer cancelInterrupt()
		errE2 := s.target.Interrupt(interruptCtx)
		if errE2 != nil {
			s.logger.Error().Err(errE2).Str("call", name).Msg("interrupting timed out call failed")
		}
		errE = errors.Join(errE, errE2)
	}
	return result, errE
}

// WriteString writes text followed by a null byte at address and logs what it reads back.
func (s *Session) WriteString(address uint64, text string) errors.E {
	memory := s.target.Memory()
	errE := memory.WriteString(address, text)
	if errE != nil {
		return errE
	}
	if s.logger.GetLevel() <= zerolog.DebugLevel {
		readBack, errE := memory.ReadString(address, len(text)+1)
		if errE != nil {
			return errE
		}
		s.logger.Debug().Str("address", hex(address)).Str("text", readBack).Msg("string written")
	}
	return nil
}

// ReadString reads a null-terminated string of at most maxLength bytes at address.
func (s *Session) ReadString(address uint64, maxLength int) (string, errors.E) {
	return s.target.Memory().ReadString(address, maxLength)
}

// Allocate maps the scratch region inside the process and returns its address.
//
// It calls mmap inside the process. When mmap cannot be resolved (or Platform.RawMmap
// is set) the system call is made directly.
func (s *Session) Allocate(ctx context.Context) (uint64, errors.E) {
	platform := &s.injector.Platform
	arch := s.target.Arch()
	size := platform.scratchSize()
	if size <= ArgumentOffset {
		return 0, errors.WithDetails(ErrPayloadTooLarge, "scratchSize", size, "min", ArgumentOffset+1)
	}

	var address uint64
	var errE errors.E
	raw := platform.RawMmap
	if !raw {
		var mmap uint64
		mmap, errE = s.Resolve(platform.MmapModule, symbolOrDefault(platform.Mmap, defaultMmapSymbol))
		if errE != nil {
			if !errors.Is(errE, ErrRemoteAddressUnresolved) {
				return 0, errE
			}
			s.logger.Warn().Err(errE).Msg("mmap not resolvable, using system call")
			raw = true
		} else {
			var result CallResult
			result, errE = s.CallFunction(ctx, "mmap", mmap, 0, size, scratchProtection, scratchMappingFlags, arch.Mask(mapFailed), 0)
			if errE != nil {
				return 0, errE
			}
			address = result.ReturnValue
		}
	}
	if raw {
		address, errE = s.rawMmap(ctx, size)
		if errE != nil {
			return 0, errors.WrapWith(errE, ErrRemoteAllocationFailed)
		}
	}

	if address == 0 || address == arch.Mask(mapFailed) {
		return 0, errors.WithDetails(ErrRemoteAllocationFailed, "pid", s.target.Pid, "size", size)
	}

	s.scratch = address
	s.state = StateScratchAllocated
	s.logger.Debug().Str("scratch", hex(address)).Uint64("size", size).Msg("scratch allocated")
	return address, nil
}

func (s *Session) rawMmap(ctx context.Context, size uint64) (uint64, errors.E) {
	arch := s.target.Arch()
	// A previous remote call left the process stopped at address zero.
	errE := s.Restore()
	if errE != nil {
		return 0, errE
	}
	callCtx, cancel := context.WithTimeout(ctx, s.injector.callTimeout())
	defer cancel()
	return s.target.Syscall(callCtx, arch.MmapSyscall, [6]uint64{
		0, size, scratchProtection, scratchMappingFlags, arch.Mask(mapFailed), 0,
	})
}

func (s *Session) dlFunction(symbol, def string) (uint64, errors.E) {
	return s.Resolve(s.injector.Platform.DlModule, symbolOrDefault(symbol, def))
}

// LoadLibrary writes library path into the scratch region and calls dlopen on it.
// It returns the library handle.
func (s *Session) LoadLibrary(ctx context.Context, library string) (uint64, errors.E) {
	if s.scratch == 0 {
		return 0, errors.New("scratch region not allocated")
	}
	if len(library)+1 > libraryPathSlot {
		return 0, errors.WithDetails(ErrPayloadTooLarge, "library", library)
	}
	platform := &s.injector.Platform

	dlopen, errE := s.dlFunction(platform.Dlopen, defaultDlopenSymbol)
	if errE != nil {
		return 0, errE
	}

	path := s.scratch + LibraryPathOffset
	errE = s.WriteString(path, library)
	if errE != nil {
		return 0, errE
	}

	result, errE := s.CallFunction(ctx, "dlopen", dlopen, path, platform.DlopenFlags)
	if errE != nil {
		return 0, errE
	}
	if result.ReturnValue == 0 {
		errE = errors.WithDetails(ErrLibraryLoadFailed, "pid", s.target.Pid, "library", library)
		if message := s.dlerror(ctx); message != "" {
			errors.Details(errE)["dlerror"] = message
		}
		return 0, errE
	}

	s.state = StateLibraryLoaded
	return result.ReturnValue, nil
}

// dlerror returns the last dynamic loading error in the process. It returns an empty
// string if there is none or it cannot be obtained.
func (s *Session) dlerror(ctx context.Context) string {
	dlerror, errE := s.dlFunction(s.injector.Platform.Dlerror, defaultDlerrorSymbol)
	if errE != nil {
		s.logger.Warn().Err(errE).Msg("dlerror not resolvable")
		return ""
	}
	result, errE := s.CallFunction(ctx, "dlerror", dlerror)
	if errE != nil {
		s.logger.Warn().Err(errE).Msg("dlerror call failed")
		return ""
	}
	if result.ReturnValue == 0 {
		return ""
	}
	message, errE := s.ReadString(result.ReturnValue, dlerrorMaxLength)
	if errE != nil {
		s.logger.Warn().Err(errE).Msg("reading dlerror message failed")
		return ""
	}
	return message
}

// LookupSymbol writes symbol into the scratch region and calls dlsym on it.
// It returns the address of the symbol.
func (s *Session) LookupSymbol(ctx context.Context, handle uint64, symbol string) (uint64, errors.E) {
	if s.scratch == 0 {
		return 0, errors.New("scratch region not allocated")
	}
	if len(symbol)+1 > symbolNameSlot {
		return 0, errors.WithDetails(ErrPayloadTooLarge, "symbol", symbol)
	}

	dlsym, errE := s.dlFunction(s.injector.Platform.Dlsym, defaultDlsymSymbol)
	if errE != nil {
		return 0, errE
	}

	name := s.scratch + SymbolNameOffset
	errE = s.WriteString(name, symbol)
	if errE != nil {
		return 0, errE
	}

	result, errE := s.CallFunction(ctx, "dlsym", dlsym, handle, name)
	if errE != nil {
		return 0, errE
	}
	if result.ReturnValue == 0 {
		return 0, errors.WithDetails(ErrSymbolResolutionFailed, "pid", s.target.Pid, "symbol", symbol)
	}

	s.state = StateSymbolResolved
	return result.ReturnValue, nil
}

// Invoke copies argument (followed by a null byte) into the scratch region and calls
// the function at entry with its address as the only argument.
func (s *Session) Invoke(ctx context.Context, entry uint64, argument []byte) (uint64, errors.E) {
	if s.scratch == 0 {
		return 0, errors.New("scratch region not allocated")
	}
	size := s.injector.Platform.scratchSize()
	if size <= ArgumentOffset || uint64(len(argument))+1 > size-ArgumentOffset {
		return 0, errors.WithDetails(ErrPayloadTooLarge, "argumentLength", len(argument), "scratchSize", size)
	}

	address := s.scratch + ArgumentOffset
	data := make([]byte, len(argument)+1)
	copy(data, argument)
	errE := s.target.Memory().Write(address, data)
	if errE != nil {
		return 0, errE
	}

	result, errE := s.CallFunction(ctx, "entry", entry, address)
	if errE != nil {
		return 0, errE
	}

	s.state = StateInvoked
	return result.ReturnValue, nil
}

// Unload calls dlclose on handle.
func (s *Session) Unload(ctx context.Context, handle uint64) errors.E {
	dlclose, errE := s.dlFunction(s.injector.Platform.Dlclose, defaultDlcloseSymbol)
	if errE != nil {
		return errE
	}
	result, errE := s.CallFunction(ctx, "dlclose", dlclose, handle)
	if errE != nil {
		return errE
	}
	if result.ReturnValue != 0 {
		errE = errors.New("dlclose failed")
		errors.Details(errE)["pid"] = s.target.Pid
		if message := s.dlerror(ctx); message != "" {
			errors.Details(errE)["dlerror"] = message
		}
		return errE
	}
	return nil
}
