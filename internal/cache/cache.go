// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache is the bounded, write-behind buffer cache sitting between
// the inode engine and a blockdev.Device (spec §4.1). A single lock
// serializes all structural changes to the hash index and recency list;
// disk I/O for a miss happens with the lock released and the entry marked
// "loading" so that a second caller wanting the same sector waits for the
// first load instead of racing it into a duplicate entry — the corrected
// design spec.md §9 calls out instead of the source's racy drop-the-lock
// version.
package cache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/metrics"
	"github.com/pintosfs/core/internal/threadid"
)

// DefaultSize is CACHE_SIZE from spec §6.
const DefaultSize = 64

// ErrFull is the one expected soft failure: every entry is pinned (or
// loading) when a miss needs to evict, and the cache is at capacity.
var ErrFull = errors.New("cache: full and no unpinned entry to evict")

// Cache is a bounded buffer cache over a single blockdev.Device.
type Cache struct {
	dev      blockdev.Device
	capacity int

	mu      sync.Mutex
	cond    *sync.Cond
	byScn   map[blockdev.SectorNum]*entry
	recency *list.List // front = least recently used, back = most recently used
}

// New creates a cache of the given capacity (entries) over dev.
func New(dev blockdev.Device, capacity int) *Cache {
	c := &Cache{
		dev:      dev,
		capacity: capacity,
		byScn:    make(map[blockdev.SectorNum]*entry, capacity),
		recency:  list.New(),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Handle is a pinned reference to a cached sector. Callers must call
// Unpin exactly once when done touching Bytes().
type Handle struct {
	c *Cache
	e *entry
}

// Bytes returns the entry's backing buffer. Valid only until Unpin.
func (h Handle) Bytes() []byte { return h.e.buf[:] }

// MarkDirty records that the caller modified Bytes() and the sector must
// be written back before the entry is reused or discarded.
func (h Handle) MarkDirty(owner threadid.ID) {
	h.c.mu.Lock()
	h.e.dirty = true
	h.e.owner = owner
	h.c.mu.Unlock()
}

// Unpin releases the pin taken by Get. The entry becomes eligible for
// eviction again once its pin count reaches zero.
func (h Handle) Unpin() {
	h.c.mu.Lock()
	h.e.pins--
	if h.e.pins < 0 {
		panic("cache: Unpin without matching pin")
	}
	h.c.cond.Broadcast()
	h.c.mu.Unlock()
}

// Get returns a pinned Handle on the cached contents of sn, reading it
// from disk on a miss. Returns ErrFull only when the cache is at capacity
// and every entry is pinned or loading.
func (c *Cache) Get(sn blockdev.SectorNum) (Handle, error) {
	c.mu.Lock()

	for {
		if e, ok := c.byScn[sn]; ok {
			if e.loading {
				c.cond.Wait()
				continue
			}
			e.pins++
			c.recency.MoveToBack(e.elem)
			c.mu.Unlock()
			metrics.CacheHits.Inc()
			return Handle{c: c, e: e}, nil
		}
		break
	}

	metrics.CacheMisses.Inc()

	e, err := c.reserveForMiss(sn)
	if err != nil {
		c.mu.Unlock()
		return Handle{}, err
	}
	c.mu.Unlock()

	if err := c.dev.Read(sn, e.buf[:]); err != nil {
		c.mu.Lock()
		c.evictEntryLocked(e)
		c.cond.Broadcast()
		c.mu.Unlock()
		return Handle{}, fmt.Errorf("cache: read sector %d: %w", sn, err)
	}

	c.mu.Lock()
	e.loading = false
	c.cond.Broadcast()
	c.mu.Unlock()

	metrics.CacheSize.Set(float64(len(c.byScn)))
	return Handle{c: c, e: e}, nil
}

// reserveForMiss must be called with c.mu held. It either allocates a
// fresh entry (capacity available) or reclaims the least-recently-used
// unpinned entry, writing it back first if dirty. The returned entry is
// inserted into the index, pinned once, and marked loading.
func (c *Cache) reserveForMiss(sn blockdev.SectorNum) (*entry, error) {
	var e *entry

	if len(c.byScn) < c.capacity {
		e = &entry{sn: sn}
	} else {
		victim := c.findVictimLocked()
		if victim == nil {
			return nil, ErrFull
		}
		if victim.dirty {
			if err := c.dev.Write(victim.sn, victim.buf[:]); err != nil {
				return nil, fmt.Errorf("cache: writeback sector %d during eviction: %w", victim.sn, err)
			}
			victim.dirty = false
		}
		c.evictEntryLocked(victim)
		metrics.CacheEvictions.Inc()

		*victim = entry{sn: sn}
		e = victim
	}

	e.loading = true
	e.pins = 1
	e.elem = c.recency.PushBack(e)
	c.byScn[sn] = e
	return e, nil
}

// findVictimLocked scans the recency list from the head (oldest) for the
// first entry that is neither pinned nor mid-load.
func (c *Cache) findVictimLocked() *entry {
	for elem := c.recency.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*entry)
		if e.evictable() {
			return e
		}
	}
	return nil
}

func (c *Cache) evictEntryLocked(e *entry) {
	c.recency.Remove(e.elem)
	delete(c.byScn, e.sn)
}

// Read is the composite get+copy+unpin helper used by the inode engine.
func (c *Cache) Read(sn blockdev.SectorNum, buf []byte, off, size int) error {
	h, err := c.Get(sn)
	if err != nil {
		return err
	}
	defer h.Unpin()

	if off < 0 || size < 0 || off+size > blockdev.SectorSize {
		return fmt.Errorf("cache: read range [%d,%d) out of bounds", off, off+size)
	}
	copy(buf, h.Bytes()[off:off+size])
	return nil
}

// Write is the composite get+copy+dirty+unpin helper used by the inode
// engine. owner records which caller last touched the sector, so
// EvictOwner can sweep it at process teardown.
func (c *Cache) Write(sn blockdev.SectorNum, buf []byte, off, size int, owner threadid.ID) error {
	h, err := c.Get(sn)
	if err != nil {
		return err
	}
	defer h.Unpin()

	if off < 0 || size < 0 || off+size > blockdev.SectorSize {
		return fmt.Errorf("cache: write range [%d,%d) out of bounds", off, off+size)
	}
	copy(h.Bytes()[off:off+size], buf[:size])
	h.MarkDirty(owner)
	return nil
}

// Overwrite replaces the entire contents of sn with buf and marks it dirty,
// without reading sn's previous contents from disk first — used by the
// inode engine for full-sector-aligned writes and for zeroing freshly
// allocated sectors (spec §4.3: "Full-sector aligned write: overwrite").
func (c *Cache) Overwrite(sn blockdev.SectorNum, buf []byte, owner threadid.ID) error {
	if len(buf) != blockdev.SectorSize {
		return fmt.Errorf("cache: overwrite sector %d: buf is %d bytes, want %d", sn, len(buf), blockdev.SectorSize)
	}

	c.mu.Lock()
	for {
		e, ok := c.byScn[sn]
		if !ok {
			break
		}
		if e.loading {
			c.cond.Wait()
			continue
		}
		copy(e.buf[:], buf)
		e.dirty = true
		e.owner = owner
		c.recency.MoveToBack(e.elem)
		c.mu.Unlock()
		return nil
	}

	metrics.CacheMisses.Inc()
	e, err := c.reserveForMiss(sn)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	copy(e.buf[:], buf)
	e.dirty = true
	e.owner = owner
	e.loading = false
	e.pins--
	c.cond.Broadcast()
	c.mu.Unlock()

	metrics.CacheSize.Set(float64(len(c.byScn)))
	return nil
}

// Memset fills [off, off+size) of sn with b and marks it dirty.
func (c *Cache) Memset(sn blockdev.SectorNum, b byte, off, size int, owner threadid.ID) error {
	h, err := c.Get(sn)
	if err != nil {
		return err
	}
	defer h.Unpin()

	if off < 0 || size < 0 || off+size > blockdev.SectorSize {
		return fmt.Errorf("cache: memset range [%d,%d) out of bounds", off, off+size)
	}
	dst := h.Bytes()[off : off+size]
	for i := range dst {
		dst[i] = b
	}
	h.MarkDirty(owner)
	return nil
}

// Free removes sn from the cache, writing it back first if dirty. It
// blocks until no caller holds sn pinned. A no-op if sn isn't cached.
func (c *Cache) Free(sn blockdev.SectorNum) error {
	c.mu.Lock()
	for {
		e, ok := c.byScn[sn]
		if !ok {
			c.mu.Unlock()
			return nil
		}
		if e.pins > 0 || e.loading {
			c.cond.Wait()
			continue
		}

		dirty := e.dirty
		buf := e.buf
		c.evictEntryLocked(e)
		c.mu.Unlock()

		if dirty {
			if err := c.dev.Write(sn, buf[:]); err != nil {
				return fmt.Errorf("cache: writeback sector %d on free: %w", sn, err)
			}
		}
		return nil
	}
}

// Flush writes back every dirty entry and clears their dirty bits. The
// cache lock is held for the whole walk: I/O is synchronous, so no other
// cache operation can interleave an inconsistent view of a dirty entry
// (spec §5).
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for elem := c.recency.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*entry)
		if !e.dirty {
			continue
		}
		if err := c.dev.Write(e.sn, e.buf[:]); err != nil {
			return fmt.Errorf("cache: flush sector %d: %w", e.sn, err)
		}
		e.dirty = false
		n++
	}
	metrics.CacheFlushes.Add(float64(n))
	return nil
}

// EvictOwner writes back and discards every entry last touched by owner.
// Used at process teardown; must never be called with threadid.Nil, which
// marks entries the write-behind daemon or a fresh read-ahead fill has
// never been written to.
func (c *Cache) EvictOwner(owner threadid.ID) error {
	if owner.IsNil() {
		return errors.New("cache: EvictOwner called with the nil owner")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	for elem := c.recency.Front(); elem != nil; elem = next {
		next = elem.Next()
		e := elem.Value.(*entry)
		if e.owner != owner {
			continue
		}
		if e.pins > 0 || e.loading {
			// Owned by a caller still actively using it; leave it alone.
			continue
		}
		if e.dirty {
			if err := c.dev.Write(e.sn, e.buf[:]); err != nil {
				return fmt.Errorf("cache: writeback sector %d for owner teardown: %w", e.sn, err)
			}
		}
		c.evictEntryLocked(e)
	}
	return nil
}

// IsMarker, SetMarker, and ClearMarker manipulate the advisory read-ahead
// boundary bit on a cached entry (spec §4.1, §4.4). They are no-ops when
// the sector isn't cached.
func (c *Cache) IsMarker(sn blockdev.SectorNum) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byScn[sn]
	return ok && e.marker
}

func (c *Cache) SetMarker(sn blockdev.SectorNum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byScn[sn]; ok {
		e.marker = true
	}
}

func (c *Cache) ClearMarker(sn blockdev.SectorNum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byScn[sn]; ok {
		e.marker = false
	}
}

// Contains reports whether sn currently has a cache entry (hit or
// in-flight load), without pinning it. Used by read-ahead's do_readahead
// to decide whether a sector is "already cached".
func (c *Cache) Contains(sn blockdev.SectorNum) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byScn[sn]
	return ok
}

// Len returns the number of live entries, for tests and metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byScn)
}
