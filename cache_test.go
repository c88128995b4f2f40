package pinject

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressCache(t *testing.T) {
	t.Parallel()

	cache := NewAddressCache()

	assert.False(t, cache.Bind(100, 1000))
	_, ok := cache.Get("/libc.so", "mmap")
	assert.False(t, ok)

	cache.Put("/libc.so", "mmap", 0xb6d41234)
	cache.Put("/libdl.so", "dlopen", 0xb6e00100)
	address, ok := cache.Get("/libc.so", "mmap")
	assert.True(t, ok)
	assert.Equal(t, uint64(0xb6d41234), address)
	_, ok = cache.Get("/libdl.so", "mmap")
	assert.False(t, ok)

	// Same process again keeps entries.
	assert.False(t, cache.Bind(100, 1000))
	assert.Equal(t, 2, cache.Len())

	// Reused PID of a different process.
	assert.True(t, cache.Bind(100, 2000))
	assert.Equal(t, 0, cache.Len())

	cache.Put("/libc.so", "mmap", 0xa5141234)
	// Different PID.
	assert.True(t, cache.Bind(200, 2000))
	_, ok = cache.Get("/libc.so", "mmap")
	assert.False(t, ok)

	// Nothing to drop.
	assert.False(t, cache.Bind(300, 3000))

	cache.Put("/libc.so", "mmap", 0xa5141234)
	cache.Reset()
	assert.Equal(t, 0, cache.Len())
	assert.False(t, cache.Bind(300, 3000))
}
