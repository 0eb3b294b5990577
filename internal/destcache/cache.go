// Package destcache implements a per-device destination cache: a mapping
// from a next-hop network address to a link address, populated
// administratively or by inbound learning (spec §4.C — there is no
// dynamic neighbor discovery protocol; that is a stated non-goal).
package destcache

import (
	"bytes"
	"sync"
)

// Entry is one destination cache tuple.
type Entry struct {
	Src []byte // network address bytes
	HW  []byte // link address bytes
}

// Cache is the per-device destination cache. Iteration is O(n); per the
// spec this is expected to be small (single-digit to low-dozens of
// entries per interface), so a linear scan is the right shape — see
// DESIGN.md's Open Question decision on eviction policy (none: no LRU,
// unbounded list).
type Cache struct {
	mu      sync.RWMutex
	entries []*Entry
}

// New returns an empty destination cache.
func New() *Cache {
	return &Cache{}
}

// Add creates or updates the entry for src, replacing its hw address if
// src is already present. At most one entry exists per src (spec
// invariant).
func (c *Cache) Add(dstHW []byte, srcIP []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if bytes.Equal(e.Src, srcIP) {
			e.HW = append([]byte(nil), dstHW...)
			return
		}
	}
	c.entries = append(c.entries, &Entry{
		Src: append([]byte(nil), srcIP...),
		HW:  append([]byte(nil), dstHW...),
	})
}

// Learn is the inbound-learning path: functionally identical to Add, kept
// distinct so callers can attribute cache churn to its source (§3:
// "created administratively, by inbound learning, or by address
// resolution").
func (c *Cache) Learn(dstHW []byte, srcIP []byte) {
	c.Add(dstHW, srcIP)
}

// Find returns the cached hw address for srcIP, or (nil, false) if absent.
func (c *Cache) Find(srcIP []byte) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if bytes.Equal(e.Src, srcIP) {
			return e.HW, true
		}
	}
	return nil, false
}

// Remove deletes the entry for srcIP, if any.
func (c *Cache) Remove(srcIP []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if bytes.Equal(e.Src, srcIP) {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return
		}
	}
}

// Update is an alias for Add, reflecting spec §4.C's "update" verb for
// the case where the caller already knows the key exists.
func (c *Cache) Update(dstHW []byte, srcIP []byte) {
	c.Add(dstHW, srcIP)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
