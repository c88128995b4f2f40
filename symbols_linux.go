package pinject

import (
	"debug/elf"
	"strings"

	"github.com/prometheus/procfs"
	"gitlab.com/tozd/go/errors"
)

// DefaultLegacyLoadAddress is the module base which some old kernels reported for
// prelinked executables and which has to be treated as zero.
const DefaultLegacyLoadAddress = 0x8000

// Mapping is one entry of a process' memory map.
type Mapping struct {
	Base   uint64
	End    uint64
	Perms  string
	Offset int64
	Path   string
}

// Quirks are loader and kernel specific corrections applied by Resolver.
// The zero value applies no corrections.
type Quirks struct {
	// LegacyLoadAddress is a module base normalized to zero. Zero disables it.
	LegacyLoadAddress uint64 `json:"legacyLoadAddress" yaml:"legacyLoadAddress"`
	// EntryCorrection is added to addresses resolved inside the module
	// which is exactly CorrectionModule.
	CorrectionModule string `json:"correctionModule" yaml:"correctionModule"`
	EntryCorrection  uint64 `json:"entryCorrection"  yaml:"entryCorrection"`
}

// Resolver finds modules in memory maps of processes and translates addresses
// between address spaces of this and another process.
//
// It assumes that a module mapped from the same file has the same layout in both
// processes, so a function keeps its offset from the module base.
type Resolver struct {
	// FS is the proc filesystem to read memory maps from. Default is the one mounted at /proc.
	FS *procfs.FS
	// Quirks to apply.
	Quirks Quirks
}

func (r *Resolver) proc(pid int) (procfs.Proc, errors.E) {
	var fs procfs.FS
	if r.FS != nil {
		fs = *r.FS
	} else {
		var err error
		fs, err = procfs.NewDefaultFS()
		if err != nil {
			return procfs.Proc{}, errors.WithMessage(err, "procfs")
		}
	}
	var proc procfs.Proc
	var err error
	if pid == Self {
		proc, err = fs.Self()
	} else {
		proc, err = fs.Proc(pid)
	}
	if err != nil {
		errE := errors.WithMessage(err, "procfs proc")
		errors.Details(errE)["pid"] = pid
		return procfs.Proc{}, errE
	}
	return proc, nil
}

// Mappings returns the memory map of the process. Use Self for this process.
func (r *Resolver) Mappings(pid int) ([]Mapping, errors.E) {
	proc, errE := r.proc(pid)
	if errE != nil {
		return nil, errE
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		errE := errors.WithMessage(err, "proc maps")
		errors.Details(errE)["pid"] = pid
		return nil, errE
	}
	mappings := make([]Mapping, 0, len(maps))
	for _, m := range maps {
		mappings = append(mappings, Mapping{
			Base:   uint64(m.StartAddr),
			End:    uint64(m.EndAddr),
			Perms:  permsString(m.Perms),
			Offset: m.Offset,
			Path:   m.Pathname,
		})
	}
	return mappings, nil
}

// StartTime returns the start time of the process in clock ticks after boot.
func (r *Resolver) StartTime(pid int) (uint64, errors.E) {
	proc, errE := r.proc(pid)
	if errE != nil {
		return 0, errE
	}
	stat, err := proc.Stat()
	if err != nil {
		errE := errors.WithMessage(err, "proc stat")
		errors.Details(errE)["pid"] = pid
		return 0, errE
	}
	return stat.Starttime, nil
}

// Module returns the lowest mapping of the process whose path contains module.
// Use Self for this process.
//
// A base equal to Quirks.LegacyLoadAddress is reported as zero.
func (r *Resolver) Module(pid int, module string) (Mapping, errors.E) {
	result, errE := r.lowestMapping(pid, module)
	if errE != nil {
		return Mapping{}, errE
	}
	if r.Quirks.LegacyLoadAddress != 0 && result.Base == r.Quirks.LegacyLoadAddress {
		result.Base = 0
	}
	return result, nil
}

func (r *Resolver) lowestMapping(pid int, module string) (Mapping, errors.E) {
	mappings, errE := r.Mappings(pid)
	if errE != nil {
		return Mapping{}, errE
	}
	found := false
	var result Mapping
	for _, m := range mappings {
		if !strings.Contains(m.Path, module) {
			continue
		}
		if !found || m.Base < result.Base {
			result = m
			found = true
		}
	}
	if !found {
		return Mapping{}, errors.WithDetails(ErrModuleNotFound, "pid", pid, "module", module)
	}
	return result, nil
}

// ModuleBase returns the base address of module in the process. Use Self for this process.
func (r *Resolver) ModuleBase(pid int, module string) (uint64, errors.E) {
	m, errE := r.Module(pid, module)
	if errE != nil {
		return 0, errE
	}
	return m.Base, nil
}

func (r *Resolver) correction(module string) uint64 {
	if r.Quirks.CorrectionModule != "" && module == r.Quirks.CorrectionModule {
		return r.Quirks.EntryCorrection
	}
	return 0
}

func (r *Resolver) bases(pid int, module string) (uint64, uint64, errors.E) {
	localBase, errE := r.ModuleBase(Self, module)
	if errE != nil {
		return 0, 0, errors.WrapWith(errE, ErrRemoteAddressUnresolved)
	}
	remoteBase, errE := r.ModuleBase(pid, module)
	if errE != nil {
		return 0, 0, errors.WrapWith(errE, ErrRemoteAddressUnresolved)
	}
	return localBase, remoteBase, nil
}

// RemoteAddress translates address of a function inside module in this process
// to the address of the same function in the process with pid.
func (r *Resolver) RemoteAddress(pid int, module string, local uint64) (uint64, errors.E) {
	localBase, remoteBase, errE := r.bases(pid, module)
	if errE != nil {
		return 0, errE
	}
	return local - localBase + remoteBase + r.correction(module), nil
}

// LocalAddress is the inverse of RemoteAddress.
func (r *Resolver) LocalAddress(pid int, module string, remote uint64) (uint64, errors.E) {
	localBase, remoteBase, errE := r.bases(pid, module)
	if errE != nil {
		return 0, errE
	}
	return remote - r.correction(module) - remoteBase + localBase, nil
}

// RemoteSymbol returns the address of an exported symbol of module in the process with pid.
//
// The offset of the symbol is read from the module's ELF file and added to the base of the
// module in the process. The file is opened through this process' mapping of the module when
// there is one, otherwise (a Go program without cgo does not map libc, for example) through
// the path mapped in the process. Symbol offsets are relative to the first loadable segment,
// so the mapped base is used as it is, without Quirks.LegacyLoadAddress normalization.
func (r *Resolver) RemoteSymbol(pid int, module, symbol string) (uint64, errors.E) {
	remote, errE := r.lowestMapping(pid, module)
	if errE != nil {
		errE = errors.WrapWith(errE, ErrRemoteAddressUnresolved)
		errors.Details(errE)["symbol"] = symbol
		return 0, errE
	}

	path := remote.Path
	local, errE := r.lowestMapping(Self, module)
	if errE == nil {
		path = local.Path
	} else if !errors.Is(errE, ErrModuleNotFound) {
		return 0, errE
	}

	offset, errE := SymbolOffset(path, symbol)
	if errE != nil {
		return 0, errors.WrapWith(errE, ErrRemoteAddressUnresolved)
	}
	return remote.Base + offset + r.correction(module), nil
}

// SymbolOffset returns the offset of a defined symbol from the start of the
// first loadable segment of the ELF file at path.
func SymbolOffset(path, symbol string) (uint64, errors.E) {
	f, err := elf.Open(path)
	if err != nil {
		errE := errors.WithMessage(err, "elf open")
		errors.Details(errE)["path"] = path
		return 0, errE
	}
	defer f.Close()

	value, found, errE := findSymbol(f.DynamicSymbols, symbol)
	if errE == nil && !found {
		value, found, errE = findSymbol(f.Symbols, symbol)
	}
	if errE != nil {
		errors.Details(errE)["path"] = path
		return 0, errE
	}
	if !found {
		return 0, errors.WithDetails(ErrSymbolNotFound, "path", path, "symbol", symbol)
	}

	return value - loadBase(f), nil
}

func findSymbol(symbols func() ([]elf.Symbol, error), name string) (uint64, bool, errors.E) {
	syms, err := symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return 0, false, nil
		}
		return 0, false, errors.WithMessage(err, "elf symbols")
	}
	for _, sym := range syms {
		if sym.Name == name && sym.Section != elf.SHN_UNDEF && sym.Value != 0 {
			return sym.Value, true, nil
		}
	}
	return 0, false, nil
}

// loadBase returns the page aligned virtual address of the first loadable segment,
// which is what the module base in memory maps corresponds to.
func loadBase(f *elf.File) uint64 {
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		alignment := prog.Align
		if alignment == 0 {
			alignment = 1
		}
		return alignDown(prog.Vaddr, alignment)
	}
	return 0
}

func permsString(perms *procfs.ProcMapPermissions) string {
	if perms == nil {
		return "----"
	}
	b := []byte("----")
	if perms.Read {
		b[0] = 'r'
	}
	if perms.Write {
		b[1] = 'w'
	}
	if perms.Execute {
		b[2] = 'x'
	}
	if perms.Shared {
		b[3] = 's'
	} else if perms.Private {
		b[3] = 'p'
	}
	return string(b)
}
