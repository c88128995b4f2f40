package pinject

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSelfPid   = 100
	testTargetPid = 200
)

// newTestResolver returns a resolver over a synthetic proc filesystem in which
// this process is testSelfPid.
func newTestResolver(t *testing.T, quirks Quirks) (*Resolver, string) {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.Symlink(strconv.Itoa(testSelfPid), filepath.Join(root, "self")))
	fs, err := procfs.NewFS(root)
	require.NoError(t, err)

	return &Resolver{FS: &fs, Quirks: quirks}, root
}

func writeProc(t *testing.T, root string, pid int, startTime uint64, maps string) {
	t.Helper()

	dir := filepath.Join(root, strconv.Itoa(pid))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "maps"), []byte(maps), 0o600))
	stat := fmt.Sprintf(
		"%d (app_process) S 1 %d %d 0 -1 4194560 95 0 0 0 0 0 0 0 20 0 1 0 %d 2383872 128 "+
			"18446744073709551615 94 94 140 0 0 0 0 0 0 0 0 0 17 3 0 0 0 0 0 94 94 94 140 140 140 140 0\n",
		pid, pid, pid, startTime,
	)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o600))
}

const selfMaps = `00008000-0000a000 r-xp 00000000 b3:19 1001 /system/bin/app_process
b6d00000-b6d40000 r--p 00000000 b3:19 2002 /system/lib/libc.so
b6d40000-b6dc0000 r-xp 00040000 b3:19 2002 /system/lib/libc.so
b6dc0000-b6dc4000 rw-p 000c0000 b3:19 2002 /system/lib/libc.so
b6e00000-b6e10000 r-xp 00000000 b3:19 3003 /system/bin/linker
b6f00000-b6f01000 rw-p 00000000 00:00 0
be800000-be821000 rw-p 00000000 00:00 0 [stack]
`

const targetMaps = `00010000-00012000 r-xp 00000000 b3:19 1001 /system/bin/app_process
a0000000-a0001000 rw-p 00000000 00:00 0 [anon:libc_malloc]
a5140000-a51c0000 r-xp 00040000 b3:19 2002 /system/lib/libc.so
a5100000-a5140000 r--p 00000000 b3:19 2002 /system/lib/libc.so
a51c0000-a51c4000 rw-p 000c0000 b3:19 2002 /system/lib/libc.so
a6000000-a6010000 r-xp 00000000 b3:19 4004 /data/local/tmp/libhook.so
`

func TestModuleBaseLowest(t *testing.T) {
	t.Parallel()

	resolver, root := newTestResolver(t, Quirks{}) //nolint:exhaustruct
	writeProc(t, root, testSelfPid, 1000, selfMaps)
	writeProc(t, root, testTargetPid, 2000, targetMaps)

	base, errE := resolver.ModuleBase(Self, "/system/lib/libc.so")
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, uint64(0xb6d00000), base)

	base, errE = resolver.ModuleBase(testTargetPid, "libc.so")
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, uint64(0xa5100000), base)

	m, errE := resolver.Module(testTargetPid, "libhook")
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, Mapping{Base: 0xa6000000, End: 0xa6010000, Perms: "r-xp", Offset: 0, Path: "/data/local/tmp/libhook.so"}, m)

	_, errE = resolver.ModuleBase(Self, "libhook")
	assert.ErrorIs(t, errE, ErrModuleNotFound)

	_, errE = resolver.ModuleBase(300, "libc.so")
	assert.Error(t, errE)
	assert.NotErrorIs(t, errE, ErrModuleNotFound)
}

func TestMappings(t *testing.T) {
	t.Parallel()

	resolver, root := newTestResolver(t, Quirks{}) //nolint:exhaustruct
	writeProc(t, root, testSelfPid, 1000, selfMaps)

	mappings, errE := resolver.Mappings(Self)
	require.NoError(t, errE, "% -+#.1v", errE)
	require.Len(t, mappings, 7)
	assert.Equal(t, Mapping{Base: 0xb6d40000, End: 0xb6dc0000, Perms: "r-xp", Offset: 0x40000, Path: "/system/lib/libc.so"}, mappings[2])
	assert.Equal(t, "", mappings[5].Path)
	assert.Equal(t, "[stack]", mappings[6].Path)
}

func TestStartTime(t *testing.T) {
	t.Parallel()

	resolver, root := newTestResolver(t, Quirks{}) //nolint:exhaustruct
	writeProc(t, root, testTargetPid, 123456, targetMaps)

	startTime, errE := resolver.StartTime(testTargetPid)
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, uint64(123456), startTime)
}

func TestLegacyLoadAddress(t *testing.T) {
	t.Parallel()

	resolver, root := newTestResolver(t, Quirks{LegacyLoadAddress: DefaultLegacyLoadAddress}) //nolint:exhaustruct
	writeProc(t, root, testSelfPid, 1000, selfMaps)

	base, errE := resolver.ModuleBase(Self, "app_process")
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, uint64(0), base)

	resolver.Quirks.LegacyLoadAddress = 0
	base, errE = resolver.ModuleBase(Self, "app_process")
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, uint64(0x8000), base)
}

func TestRemoteAddress(t *testing.T) {
	t.Parallel()

	for _, quirks := range []Quirks{
		{}, //nolint:exhaustruct
		{LegacyLoadAddress: DefaultLegacyLoadAddress, CorrectionModule: "/system/lib/libc.so", EntryCorrection: 2},
	} {
		t.Run(fmt.Sprintf("%+v", quirks), func(t *testing.T) {
			t.Parallel()

			resolver, root := newTestResolver(t, quirks)
			writeProc(t, root, testSelfPid, 1000, selfMaps)
			writeProc(t, root, testTargetPid, 2000, targetMaps)

			for _, local := range []uint64{0xb6d00000, 0xb6d41234, 0xb6dc3ffc} {
				remote, errE := resolver.RemoteAddress(testTargetPid, "/system/lib/libc.so", local)
				require.NoError(t, errE, "% -+#.1v", errE)
				assert.Equal(t, local-0xb6d00000+0xa5100000+quirks.EntryCorrection, remote)

				back, errE := resolver.LocalAddress(testTargetPid, "/system/lib/libc.so", remote)
				require.NoError(t, errE, "% -+#.1v", errE)
				assert.Equal(t, local, back)
			}

			// Correction applies only to the exact module name.
			remote, errE := resolver.RemoteAddress(testTargetPid, "libc.so", 0xb6d41234)
			require.NoError(t, errE, "% -+#.1v", errE)
			assert.Equal(t, uint64(0xa5141234), remote)

			// Only the local executable is at the legacy load address.
			remote, errE = resolver.RemoteAddress(testTargetPid, "app_process", 0x8100)
			require.NoError(t, errE, "% -+#.1v", errE)
			if quirks.LegacyLoadAddress != 0 {
				assert.Equal(t, uint64(0x18100), remote)
			} else {
				assert.Equal(t, uint64(0x10100), remote)
			}
		})
	}
}

func TestRemoteAddressUnresolved(t *testing.T) {
	t.Parallel()

	resolver, root := newTestResolver(t, Quirks{}) //nolint:exhaustruct
	writeProc(t, root, testSelfPid, 1000, selfMaps)
	writeProc(t, root, testTargetPid, 2000, targetMaps)

	_, errE := resolver.RemoteAddress(testTargetPid, "libhook", 0x1000)
	assert.ErrorIs(t, errE, ErrRemoteAddressUnresolved)
	assert.ErrorIs(t, errE, ErrModuleNotFound)

	_, errE = resolver.RemoteAddress(testTargetPid, "/system/bin/linker", 0xb6e00100)
	assert.ErrorIs(t, errE, ErrRemoteAddressUnresolved)

	_, errE = resolver.LocalAddress(testTargetPid, "/system/bin/linker", 0x1000)
	assert.ErrorIs(t, errE, ErrRemoteAddressUnresolved)
}

// libcPath returns the path of the C library mapped by a child process.
func libcPath(t *testing.T) string {
	t.Helper()

	cmd := startSleep(t)
	m, errE := (&Resolver{}).Module(cmd.Process.Pid, glibcModule) //nolint:exhaustruct
	if errE != nil {
		t.Skipf("glibc not mapped: %s", errE.Error())
	}
	return m.Path
}

// expectedOffset computes the offset of a dynamic symbol independently of SymbolOffset.
func expectedOffset(t *testing.T, path, symbol string) uint64 {
	t.Helper()

	f, err := elf.Open(path)
	require.NoError(t, err)
	defer f.Close()

	syms, err := f.DynamicSymbols()
	require.NoError(t, err)
	var value uint64
	for _, sym := range syms {
		if sym.Name == symbol && sym.Section != elf.SHN_UNDEF {
			value = sym.Value
			break
		}
	}
	require.NotZero(t, value)

	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD {
			return value - prog.Vaddr&^(prog.Align-1)
		}
	}
	return value
}

func TestSymbolOffset(t *testing.T) {
	t.Parallel()

	libc := libcPath(t)

	offset, errE := SymbolOffset(libc, "strlen")
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, expectedOffset(t, libc, "strlen"), offset)

	_, errE = SymbolOffset(libc, "does_not_exist")
	assert.ErrorIs(t, errE, ErrSymbolNotFound)

	_, errE = SymbolOffset(filepath.Join(t.TempDir(), "missing.so"), "strlen")
	assert.Error(t, errE)
	assert.NotErrorIs(t, errE, ErrSymbolNotFound)
}

func TestRemoteSymbol(t *testing.T) {
	t.Parallel()

	libc := libcPath(t)
	offset := expectedOffset(t, libc, "strlen")

	resolver, root := newTestResolver(t, Quirks{}) //nolint:exhaustruct

	// Mapped in both processes.
	writeProc(t, root, testSelfPid, 1000, fmt.Sprintf("10000000-10100000 r-xp 00000000 fd:01 77 %s\n", libc))
	writeProc(t, root, testTargetPid, 2000, fmt.Sprintf("30000000-30100000 r-xp 00000000 fd:01 77 %s\n", libc))

	address, errE := resolver.RemoteSymbol(testTargetPid, libc, "strlen")
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, 0x30000000+offset, address)

	// Mapped only in the target.
	const otherPid = 201
	writeProc(t, root, otherPid, 3000, fmt.Sprintf("40000000-40100000 r-xp 00000000 fd:01 77 %s\n", libc))
	require.NoError(t, os.WriteFile(filepath.Join(root, strconv.Itoa(testSelfPid), "maps"), []byte(selfMaps), 0o600))

	address, errE = resolver.RemoteSymbol(otherPid, libc, "strlen")
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, 0x40000000+offset, address)

	_, errE = resolver.RemoteSymbol(otherPid, libc, "does_not_exist")
	assert.ErrorIs(t, errE, ErrRemoteAddressUnresolved)
	assert.ErrorIs(t, errE, ErrSymbolNotFound)

	_, errE = resolver.RemoteSymbol(otherPid, "libmissing.so", "strlen")
	assert.ErrorIs(t, errE, ErrRemoteAddressUnresolved)
	assert.ErrorIs(t, errE, ErrModuleNotFound)
}

func TestRemoteSymbolLegacyLoadAddress(t *testing.T) {
	t.Parallel()

	libc := libcPath(t)
	offset := expectedOffset(t, libc, "strlen")

	resolver, root := newTestResolver(t, Quirks{LegacyLoadAddress: DefaultLegacyLoadAddress}) //nolint:exhaustruct

	for _, tt := range []struct {
		name     string
		selfMaps string
	}{
		{"both", fmt.Sprintf("00008000-00108000 r-xp 00000000 fd:01 77 %s\n", libc)},
		{"target", selfMaps},
	} {
		writeProc(t, root, testSelfPid, 1000, tt.selfMaps)
		writeProc(t, root, testTargetPid, 2000, fmt.Sprintf("00008000-00108000 r-xp 00000000 fd:01 77 %s\n", libc))

		// Module reports the normalized base, symbols are still at their mapped addresses.
		base, errE := resolver.ModuleBase(testTargetPid, libc)
		require.NoError(t, errE, "% -+#.1v", errE)
		assert.Equal(t, uint64(0), base, tt.name)

		address, errE := resolver.RemoteSymbol(testTargetPid, libc, "strlen")
		require.NoError(t, errE, "% -+#.1v", errE)
		assert.Equal(t, 0x8000+offset, address, tt.name)
	}
}
