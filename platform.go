package pinject

import (
	"gitlab.com/tozd/go/errors"
)

// Offsets inside the scratch region.
const (
	DefaultScratchSize   = 0x4000
	LibraryPathOffset    = 0x0
	SymbolNameOffset     = 0x100
	ArgumentOffset       = 0x200
	libraryPathSlot      = SymbolNameOffset - LibraryPathOffset
	symbolNameSlot       = ArgumentOffset - SymbolNameOffset
	dlerrorMaxLength     = 1024
	scratchProtection    = 0x7  // PROT_READ | PROT_WRITE | PROT_EXEC.
	scratchMappingFlags  = 0x22 // MAP_PRIVATE | MAP_ANONYMOUS.
	rtldNowGlobalLP64    = 0x102
	rtldNowGlobal32Bit   = 0x2
	rtldNowGlobalGlibc   = 0x102
	mapFailed            = ^uint64(0)
	defaultMmapSymbol    = "mmap"
	defaultDlopenSymbol  = "dlopen"
	defaultDlsymSymbol   = "dlsym"
	defaultDlerrorSymbol = "dlerror"
	defaultDlcloseSymbol = "dlclose"
)

// Names of the platform presets.
const (
	PlatformAndroid       = "android"
	PlatformAndroidLegacy = "android-legacy"
	PlatformGlibc         = "glibc"
)

// Platform describes where the memory mapping and dynamic loading functions live
// in the target process and how they are called.
type Platform struct {
	Name string `json:"name" yaml:"name"`
	// MmapModule is a substring of the path of the module exporting mmap.
	MmapModule string `json:"mmapModule" yaml:"mmapModule"`
	// DlModule is a substring of the path of the module exporting dlopen, dlsym, dlerror and dlclose.
	DlModule string `json:"dlModule" yaml:"dlModule"`
	// DlopenFlags are passed to dlopen.
	DlopenFlags uint64 `json:"dlopenFlags" yaml:"dlopenFlags"`
	// ScratchSize is the size of the allocated scratch region. Default is DefaultScratchSize.
	ScratchSize uint64 `json:"scratchSize" yaml:"scratchSize"`
	// RawMmap allocates the scratch region with a raw system call instead of calling mmap.
	// This is also done when MmapModule is not mapped in the target.
	RawMmap bool   `json:"rawMmap" yaml:"rawMmap"`
	Quirks  Quirks `json:"quirks"  yaml:"quirks"`

	// Symbol names, default to their standard names.
	Mmap    string `json:"mmap"    yaml:"mmap"`
	Dlopen  string `json:"dlopen"  yaml:"dlopen"`
	Dlsym   string `json:"dlsym"   yaml:"dlsym"`
	Dlerror string `json:"dlerror" yaml:"dlerror"`
	Dlclose string `json:"dlclose" yaml:"dlclose"`
}

// PlatformByName returns the preset with the given name for architecture arch.
func PlatformByName(name string, arch *Arch) (Platform, errors.E) {
	lp64 := arch.WordSize == 8 //nolint:mnd
	switch name {
	case PlatformAndroid:
		p := Platform{
			Name:        name,
			MmapModule:  "/libc.so",
			DlModule:    "/libdl.so",
			DlopenFlags: rtldNowGlobal32Bit,
			Quirks: Quirks{
				LegacyLoadAddress: DefaultLegacyLoadAddress,
			},
		}
		if lp64 {
			p.DlopenFlags = rtldNowGlobalLP64
		}
		return p, nil
	case PlatformAndroidLegacy:
		p := Platform{
			Name:        name,
			MmapModule:  "/system/lib/libc.so",
			DlModule:    "/system/bin/linker",
			DlopenFlags: rtldNowGlobal32Bit,
			Quirks: Quirks{
				LegacyLoadAddress: DefaultLegacyLoadAddress,
			},
		}
		if lp64 {
			p.MmapModule = "/system/lib64/libc.so"
			p.DlModule = "/system/bin/linker64"
			p.DlopenFlags = rtldNowGlobalLP64
		}
		if arch == Arch386 {
			p.Quirks.CorrectionModule = p.MmapModule
			p.Quirks.EntryCorrection = 2
		}
		return p, nil
	case PlatformGlibc:
		return Platform{
			Name:        name,
			MmapModule:  "/libc.so.6",
			DlModule:    "/libc.so.6",
			DlopenFlags: rtldNowGlobalGlibc,
		}, nil
	}
	return Platform{}, errors.WithDetails(ErrUnknownPlatform, "platform", name)
}

func (p *Platform) scratchSize() uint64 {
	if p.ScratchSize == 0 {
		return DefaultScratchSize
	}
	return p.ScratchSize
}

func symbolOrDefault(symbol, def string) string {
	if symbol == "" {
		return def
	}
	return symbol
}
