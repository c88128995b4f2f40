package pinject

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatformByName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		arch        *Arch
		mmapModule  string
		dlModule    string
		dlopenFlags uint64
		quirks      Quirks
	}{
		{PlatformAndroid, ArchARM64, "/libc.so", "/libdl.so", 0x102, Quirks{LegacyLoadAddress: 0x8000}},
		{PlatformAndroid, ArchARM, "/libc.so", "/libdl.so", 0x2, Quirks{LegacyLoadAddress: 0x8000}},
		{PlatformAndroid, Arch386, "/libc.so", "/libdl.so", 0x2, Quirks{LegacyLoadAddress: 0x8000}},
		{PlatformAndroidLegacy, ArchARM, "/system/lib/libc.so", "/system/bin/linker", 0x2, Quirks{LegacyLoadAddress: 0x8000}},
		{PlatformAndroidLegacy, ArchAMD64, "/system/lib64/libc.so", "/system/bin/linker64", 0x102, Quirks{LegacyLoadAddress: 0x8000}},
		{PlatformAndroidLegacy, Arch386, "/system/lib/libc.so", "/system/bin/linker", 0x2, Quirks{LegacyLoadAddress: 0x8000, CorrectionModule: "/system/lib/libc.so", EntryCorrection: 2}},
		{PlatformGlibc, ArchAMD64, "/libc.so.6", "/libc.so.6", 0x102, Quirks{}},
		{PlatformGlibc, ArchARM, "/libc.so.6", "/libc.so.6", 0x102, Quirks{}},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.arch.Name, func(t *testing.T) {
			t.Parallel()

			platform, errE := PlatformByName(tt.name, tt.arch)
			require.NoError(t, errE, "% -+#.1v", errE)
			assert.Equal(t, tt.name, platform.Name)
			assert.Equal(t, tt.mmapModule, platform.MmapModule)
			assert.Equal(t, tt.dlModule, platform.DlModule)
			assert.Equal(t, tt.dlopenFlags, platform.DlopenFlags)
			assert.Equal(t, tt.quirks, platform.Quirks)
			assert.Equal(t, uint64(DefaultScratchSize), platform.scratchSize())
		})
	}

	_, errE := PlatformByName("windows", ArchAMD64)
	assert.ErrorIs(t, errE, ErrUnknownPlatform)
}

func TestRequestValidate(t *testing.T) {
	t.Parallel()

	valid := Request{Pid: 1, Library: "/data/local/tmp/lib.so", Symbol: "", Argument: []byte("hello")}
	assert.NoError(t, valid.Validate(DefaultScratchSize))
	assert.Equal(t, DefaultSymbol, valid.symbol())

	for name, req := range map[string]Request{
		"library":  {Pid: 1, Library: "/" + strings.Repeat("a", 255), Symbol: "", Argument: nil},
		"symbol":   {Pid: 1, Library: "/lib.so", Symbol: strings.Repeat("s", 256), Argument: nil},
		"argument": {Pid: 1, Library: "/lib.so", Symbol: "", Argument: make([]byte, DefaultScratchSize-ArgumentOffset)},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.ErrorIs(t, req.Validate(DefaultScratchSize), ErrPayloadTooLarge)
		})
	}

	// Exactly filling the slots is fine.
	full := Request{
		Pid:      1,
		Library:  "/" + strings.Repeat("a", 254),
		Symbol:   strings.Repeat("s", 255),
		Argument: make([]byte, DefaultScratchSize-ArgumentOffset-1),
	}
	assert.NoError(t, full.Validate(DefaultScratchSize))

	assert.ErrorIs(t, valid.Validate(0x100), ErrPayloadTooLarge)

	empty := Request{Pid: 1, Library: "", Symbol: "", Argument: nil}
	assert.Error(t, empty.Validate(DefaultScratchSize))
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "detached", StateDetached.String())
	assert.Equal(t, "scratch allocated", StateScratchAllocated.String())
	assert.Equal(t, "invoked", StateInvoked.String())
	assert.Equal(t, "unknown", State(42).String())
}
