package digest

import (
	"fmt"
	"sync"
)

// Cache holds the last challenge seen per device address and the request
// counter for each (realm, nonce) pair.
type Cache interface {
	Get(address string) (Challenge, bool)
	Put(address string, ch Challenge)
	// Invalidate drops the cached challenge for address if it still carries
	// nonce. Called after a 401 on a request that used nonce. The counter is
	// kept: a re-probe may hand out the same nonce again.
	Invalidate(address, nonce string)
	// NextCounter returns the next nc value for (realm, nonce) as 8 hex
	// digits, starting at 00000001.
	NextCounter(realm, nonce string) string
}

type counterKey struct {
	realm string
	nonce string
}

type memoryCache struct {
	mu         sync.Mutex
	challenges map[string]Challenge

	// retired holds the last invalidated challenge per address until the
	// next Put decides whether its counter survives.
	retired  map[string]Challenge
	counters map[counterKey]uint32
}

// NewMemoryCache returns a process-local cache with no expiry.
func NewMemoryCache() Cache {
	return &memoryCache{
		challenges: make(map[string]Challenge),
		retired:    make(map[string]Challenge),
		counters:   make(map[counterKey]uint32),
	}
}

func (c *memoryCache) Get(address string) (Challenge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.challenges[address]
	return ch, ok
}

func (c *memoryCache) Put(address string, ch Challenge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, hasCur := c.challenges[address]
	ret, hasRet := c.retired[address]
	c.challenges[address] = ch
	delete(c.retired, address)
	if hasCur && (cur.Nonce != ch.Nonce || cur.Realm != ch.Realm) {
		c.dropCounterLocked(cur)
	}
	if hasRet && (ret.Nonce != ch.Nonce || ret.Realm != ch.Realm) {
		c.dropCounterLocked(ret)
	}
}

func (c *memoryCache) Invalidate(address, nonce string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.challenges[address]; ok && cur.Nonce == nonce {
		c.retired[address] = cur
		delete(c.challenges, address)
	}
}

func (c *memoryCache) NextCounter(realm, nonce string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := counterKey{realm: realm, nonce: nonce}
	c.counters[k]++
	return fmt.Sprintf("%08x", c.counters[k])
}

// dropCounterLocked forgets the counter of a nonce that has left the
// cache, unless another address still holds or may get it back.
func (c *memoryCache) dropCounterLocked(old Challenge) {
	for _, m := range []map[string]Challenge{c.challenges, c.retired} {
		for _, ch := range m {
			if ch.Nonce == old.Nonce && ch.Realm == old.Realm {
				return
			}
		}
	}
	delete(c.counters, counterKey{realm: old.Realm, nonce: old.Nonce})
}
