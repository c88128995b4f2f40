package pinject

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/procfs"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// Injector loads shared libraries into running processes.
//
// Injector is not safe for concurrent use. Only one session per process can exist
// at a time anyway because a process can be traced by only one tracer.
type Injector struct {
	// Platform describes the dynamic loader of target processes. Use PlatformByName
	// to obtain a preset.
	Platform Platform
	// FS is the proc filesystem to read memory maps from. Default is the one mounted at /proc.
	FS *procfs.FS
	// CallTimeout is the time a single remote call has to return. Default is DefaultCallTimeout.
	CallTimeout time.Duration
	// PollInterval between checks if the process stopped. Default is DefaultPollInterval.
	PollInterval time.Duration
	// Unload calls dlclose on the library after the entry point returned.
	// The library is usually expected to stay loaded, so this is disabled by default.
	Unload bool
	// Logger is used for logging. The zero value is disabled.
	Logger zerolog.Logger

	cache *AddressCache
}

func (i *Injector) callTimeout() time.Duration {
	if i.CallTimeout == 0 {
		return DefaultCallTimeout
	}
	return i.CallTimeout
}

func (i *Injector) addressCache() *AddressCache {
	if i.cache == nil {
		i.cache = NewAddressCache()
	}
	return i.cache
}

// Resolver returns the symbol resolver used for target processes.
func (i *Injector) Resolver() *Resolver {
	return &Resolver{
		FS:     i.FS,
		Quirks: i.Platform.Quirks,
	}
}

// NewSession returns a new (not yet attached) session for the process with pid.
func (i *Injector) NewSession(pid int) *Session {
	id := uuid.New()
	logger := i.Logger.With().Str("session", id.String()).Int("pid", pid).Logger()
	target := &Target{
		Pid:          pid,
		PollInterval: i.PollInterval,
		Logger:       logger,
	}
	return &Session{
		ID:       id,
		injector: i,
		resolver: i.Resolver(),
		target:   target,
		caller: &Caller{
			Executor: target,
			Memory:   target.Memory(),
			Arch:     target.Arch(),
			Logger:   logger,
		},
		logger:   logger,
		original: nil,
		state:    StateDetached,
		scratch:  0,
	}
}

// Inject attaches to the process, loads the library into it, calls the entry
// point with the argument, and detaches, leaving the process running from where
// it was interrupted.
//
// Once attached, the original registers are restored and the process is detached
// from on every path, also when some step fails.
func (i *Injector) Inject(ctx context.Context, req Request) (Result, errors.E) {
	errE := req.Validate(i.Platform.scratchSize())
	if errE != nil {
		return Result{}, errE
	}

	s := i.NewSession(req.Pid)
	s.logger.Info().Str("library", req.Library).Str("symbol", req.symbol()).Msg("injecting")

	result, errE := i.inject(ctx, s, req)
	if errE != nil {
		errors.Details(errE)["session"] = s.ID.String()
		return Result{SessionID: s.ID}, errE
	}

	s.logger.Info().Str("return", hex(result.ReturnValue)).Msg("injected")
	return result, nil
}

func (i *Injector) inject(ctx context.Context, s *Session, req Request) (result Result, errE errors.E) { //nolint:nonamedreturns
	errE = s.Attach(ctx)
	if errE != nil {
		return Result{}, errE
	}
	defer func() {
		errE = errors.Join(errE, s.Detach())
	}()

	result.SessionID = s.ID

	result.Scratch, errE = s.Allocate(ctx)
	if errE != nil {
		return Result{}, errE
	}

	result.Handle, errE = s.LoadLibrary(ctx, req.Library)
	if errE != nil {
		return Result{}, errE
	}

	result.Entry, errE = s.LookupSymbol(ctx, result.Handle, req.symbol())
	if errE != nil {
		return Result{}, errE
	}

	result.ReturnValue, errE = s.Invoke(ctx, result.Entry, req.Argument)
	if errE != nil {
		return Result{}, errE
	}

	if i.Unload {
		errE = s.Unload(ctx, result.Handle)
		if errE != nil {
			return Result{}, errE
		}
	}

	return result, nil
}
