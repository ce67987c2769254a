package recache

import "sync"

// serviceNode holds every Record currently cached for one service,
// keyed by ticker.
type serviceNode struct {
	mu      sync.RWMutex
	tickers map[string]*Record
}

// Cache is the top-level record store for one channel: service name
// to ticker to Record, per spec §3.3. A Cache is shared by every
// Record it creates; Records themselves carry their own locking so
// the cache-wide lock is only ever held for map lookups, never across
// an Apply/DrainDirty call.
type Cache struct {
	mu       sync.RWMutex
	services map[string]*serviceNode
}

func New() *Cache {
	return &Cache{services: make(map[string]*serviceNode)}
}

// GetOrCreate returns the Record for (service, ticker), creating an
// empty one if this is the first subscription ever seen for it.
func (c *Cache) GetOrCreate(service, ticker string) *Record {
	c.mu.RLock()
	sn, ok := c.services[service]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		sn, ok = c.services[service]
		if !ok {
			sn = &serviceNode{tickers: make(map[string]*Record)}
			c.services[service] = sn
		}
		c.mu.Unlock()
	}

	sn.mu.RLock()
	r, ok := sn.tickers[ticker]
	sn.mu.RUnlock()
	if ok {
		return r
	}

	sn.mu.Lock()
	defer sn.mu.Unlock()
	r, ok = sn.tickers[ticker]
	if ok {
		return r
	}
	r = newRecord(service, ticker)
	sn.tickers[ticker] = r
	return r
}

// Lookup returns the Record for (service, ticker) without creating
// one, for callers that must distinguish "never subscribed" from
// "subscribed but empty" (e.g. subchan's refcount path and
// assemble.Chain).
func (c *Cache) Lookup(service, ticker string) (*Record, bool) {
	c.mu.RLock()
	sn, ok := c.services[service]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	sn.mu.RLock()
	defer sn.mu.RUnlock()
	r, ok := sn.tickers[ticker]
	return r, ok
}

// Remove evicts the Record for (service, ticker), per an explicit
// Unsubscribe with no remaining refcount, per spec §3.3.
func (c *Cache) Remove(service, ticker string) {
	c.mu.RLock()
	sn, ok := c.services[service]
	c.mu.RUnlock()
	if !ok {
		return
	}
	sn.mu.Lock()
	delete(sn.tickers, ticker)
	sn.mu.Unlock()
}

// Each calls fn for every Record currently cached, across every
// service, used by internal/runtime's stale-record sweep.
func (c *Cache) Each(fn func(*Record)) {
	c.mu.RLock()
	nodes := make([]*serviceNode, 0, len(c.services))
	for _, sn := range c.services {
		nodes = append(nodes, sn)
	}
	c.mu.RUnlock()

	for _, sn := range nodes {
		sn.mu.RLock()
		records := make([]*Record, 0, len(sn.tickers))
		for _, r := range sn.tickers {
			records = append(records, r)
		}
		sn.mu.RUnlock()
		for _, r := range records {
			fn(r)
		}
	}
}

// Count returns the total number of cached records across all services.
func (c *Cache) Count() int {
	n := 0
	c.mu.RLock()
	nodes := make([]*serviceNode, 0, len(c.services))
	for _, sn := range c.services {
		nodes = append(nodes, sn)
	}
	c.mu.RUnlock()
	for _, sn := range nodes {
		sn.mu.RLock()
		n += len(sn.tickers)
		sn.mu.RUnlock()
	}
	return n
}
