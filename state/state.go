// Package state tracks fingerprints resolved during the current run so the
// orchestrator can skip a store round trip for emails it has already seen.
// The relational store remains the durable dedup record; this cache only
// exists within one process.
package state

import "sync"

type Cache struct {
	mu   sync.RWMutex
	seen map[string]int64
}

func NewCache() *Cache {
	return &Cache{seen: make(map[string]int64)}
}

// Lookup returns the email id previously resolved for a fingerprint.
func (c *Cache) Lookup(fingerprint string) (int64, bool) {
	if fingerprint == "" {
		return 0, false
	}

	c.mu.RLock()
	id, ok := c.seen[fingerprint]
	c.mu.RUnlock()
	return id, ok
}

// Remember records the email id resolved for a fingerprint.
func (c *Cache) Remember(fingerprint string, emailID int64) {
	if fingerprint == "" {
		return
	}

	c.mu.Lock()
	c.seen[fingerprint] = emailID
	c.mu.Unlock()
}

// Len reports how many distinct fingerprints were resolved so far.
func (c *Cache) Len() int {
	c.mu.RLock()
	n := len(c.seen)
	c.mu.RUnlock()
	return n
}
