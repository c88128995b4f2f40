package pinject

// AddressCache remembers addresses of functions resolved inside one process.
//
// Addresses are valid only for the process they were resolved in, so the cache
// is bound to a PID and the process start time (PIDs get reused) and it drops all
// entries when it is bound to a different process.
type AddressCache struct {
	pid       int
	startTime uint64
	addresses map[cacheKey]uint64
}

type cacheKey struct {
	module string
	symbol string
}

// NewAddressCache returns an empty cache bound to no process.
func NewAddressCache() *AddressCache {
	return &AddressCache{
		pid:       0,
		startTime: 0,
		addresses: map[cacheKey]uint64{},
	}
}

// Bind binds the cache to the process with pid which started at startTime.
// It returns true if cached entries were dropped.
func (c *AddressCache) Bind(pid int, startTime uint64) bool {
	if c.pid == pid && c.startTime == startTime {
		return false
	}
	c.pid = pid
	c.startTime = startTime
	dropped := len(c.addresses) > 0
	c.addresses = map[cacheKey]uint64{}
	return dropped
}

// Reset drops all entries and unbinds the cache.
func (c *AddressCache) Reset() {
	c.pid = 0
	c.startTime = 0
	c.addresses = map[cacheKey]uint64{}
}

// Get returns the cached address of symbol inside module.
func (c *AddressCache) Get(module, symbol string) (uint64, bool) {
	address, ok := c.addresses[cacheKey{module, symbol}]
	return address, ok
}

// Put stores the address of symbol inside module.
func (c *AddressCache) Put(module, symbol string, address uint64) {
	c.addresses[cacheKey{module, symbol}] = address
}

// Len returns the number of cached addresses.
func (c *AddressCache) Len() int {
	return len(c.addresses)
}
