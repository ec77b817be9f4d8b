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

package frame

import (
	"container/list"
	"errors"
	"fmt"

	"github.com/pintosfs/core/internal/locker"
	"github.com/pintosfs/core/internal/metrics"
	"github.com/pintosfs/core/internal/page"
	"github.com/pintosfs/core/internal/swap"
	"github.com/pintosfs/core/internal/threadid"
	"golang.org/x/sync/semaphore"
)

// PoolUser marks a Get request as coming from the user pool, the only pool
// that may trigger eviction when physical pages are exhausted (spec §4.7
// "If the request specifies the user pool and no physical pages remain,
// evict one"). Requests without PoolUser fail immediately instead.
const PoolUser uint8 = 1 << iota

var (
	// ErrNoFreeFrames is returned when the pool is exhausted and either the
	// caller didn't request the user pool or eviction itself found no
	// victim.
	ErrNoFreeFrames = errors.New("frame: no free frames available")
	// ErrNotFound is returned by Free for an unknown kpage.
	ErrNotFound = errors.New("frame: kpage not found")
)

// FileWriter is the narrow interface save() needs to write a dirty
// memory-mapped page back to its backing file. internal/inode.Inode
// satisfies this signature already; callers hand an inode through
// page.MmapSource.Handle without internal/frame importing internal/inode
// (which would invert the dependency the wrong way).
type FileWriter interface {
	WriteAt(buf []byte, offset int64, owner threadid.ID) (int, error)
}

// Table is the global frame table: every resident user-pool physical page,
// indexed by KPage and threaded through one of two recency lists (spec
// §4.7). One lock serializes every list/hash mutation, including the I/O
// save() performs during eviction — spec §5 holds the frame lock across
// save, unlike internal/cache's corrected miss-handling design.
type Table struct {
	state *locker.Locker
	sem   *semaphore.Weighted
	swap  *swap.Area

	inactiveFloor int

	nextKPage  KPage
	byKPage    map[KPage]*Frame
	active     *list.List
	inactive   *list.List
	nrActive   int
	nrInactive int
}

// NewTable returns an empty frame table bounding live frames to capacity
// physical pages, saving evicted anonymous/stack pages to area. inactiveFloor
// is the spec §6 "Inactive-list floor" tunable (internal/config's
// VMConfig.InactiveFloor, default 10).
func NewTable(capacity, inactiveFloor int, area *swap.Area) *Table {
	t := &Table{
		sem:           semaphore.NewWeighted(int64(capacity)),
		swap:          area,
		inactiveFloor: inactiveFloor,
		byKPage:       make(map[KPage]*Frame),
		active:        list.New(),
		inactive:      list.New(),
	}
	t.state = locker.New(func() {
		if t.nrActive != t.active.Len() || t.nrInactive != t.inactive.Len() {
			panic("frame: list length counters disagree with actual list lengths")
		}
		if len(t.byKPage) != t.nrActive+t.nrInactive {
			panic("frame: hash size disagrees with active+inactive membership")
		}
	})
	return t
}

// Get allocates a frame for upage, belonging to pt, owned by owner. It
// returns a fresh frame if physical capacity remains; otherwise, if flags
// includes PoolUser, it evicts one frame via the second-chance algorithm and
// reuses its slot. Non-user requests fail immediately instead of evicting.
//
// Group allocations (n > 1 contiguous pages) are only satisfiable from free
// capacity — eviction never produces more than one frame per call, so a
// multi-page request that requires eviction fails with ErrNoFreeFrames
// rather than evicting n times and risking a torn partial allocation.
func (t *Table) Get(flags uint8, n int, upage page.Addr, owner threadid.ID, pt *page.Table) (*Frame, error) {
	if n <= 0 {
		n = 1
	}

	if t.sem.TryAcquire(int64(n)) {
		t.state.Lock()
		fr := t.newFrameLocked(upage, owner, pt, n)
		t.reportGaugesLocked()
		t.state.Unlock()
		return fr, nil
	}

	if flags&PoolUser == 0 || n != 1 {
		return nil, ErrNoFreeFrames
	}

	t.state.Lock()
	victim, err := t.evictLocked()
	if err != nil {
		t.state.Unlock()
		return nil, err
	}

	kpage := victim.kpage
	*victim = Frame{kpage: kpage, buf: victim.buf}
	victim.upage = upage
	victim.owner = owner
	victim.pageTable = pt
	victim.groupSize = 1
	victim.accessed = true
	victim.elem = t.active.PushBack(victim)
	t.nrActive++
	t.byKPage[kpage] = victim
	t.refillInactiveLocked()
	metrics.FrameEvictions.Inc()
	t.reportGaugesLocked()
	t.state.Unlock()

	return victim, nil
}

func (t *Table) newFrameLocked(upage page.Addr, owner threadid.ID, pt *page.Table, n int) *Frame {
	t.nextKPage++
	fr := &Frame{
		kpage:     t.nextKPage,
		buf:       make([]byte, swap.PGSIZE*n),
		upage:     upage,
		owner:     owner,
		pageTable: pt,
		groupSize: n,
		accessed:  true,
	}
	fr.elem = t.active.PushBack(fr)
	t.nrActive++
	t.byKPage[fr.kpage] = fr
	return fr
}

// Free releases kpage's frame, returning its physical pages to the pool.
func (t *Table) Free(kpage KPage) error {
	t.state.Lock()
	fr, ok := t.byKPage[kpage]
	if !ok {
		t.state.Unlock()
		return ErrNotFound
	}
	if fr.inInactive {
		t.inactive.Remove(fr.elem)
		t.nrInactive--
	} else {
		t.active.Remove(fr.elem)
		t.nrActive--
	}
	delete(t.byKPage, kpage)
	t.reportGaugesLocked()
	t.state.Unlock()

	t.sem.Release(int64(fr.groupSize))
	return nil
}

// reportGaugesLocked refreshes the active/inactive list-size gauges. Must be
// called with t.state held.
func (t *Table) reportGaugesLocked() {
	metrics.FrameActive.Set(float64(t.nrActive))
	metrics.FrameInactive.Set(float64(t.nrInactive))
}

// Find returns the frame currently holding kpage, if any.
func (t *Table) Find(kpage KPage) (*Frame, bool) {
	t.state.Lock()
	defer t.state.Unlock()
	fr, ok := t.byKPage[kpage]
	return fr, ok
}

// FindByUpage returns the frame currently resident for upage within pt, if
// any — used by internal/vm's unmap path, which knows a page's virtual
// address but not its synthetic KPage handle.
func (t *Table) FindByUpage(pt *page.Table, upage page.Addr) (*Frame, bool) {
	t.state.Lock()
	defer t.state.Unlock()
	for _, fr := range t.byKPage {
		if fr.pageTable == pt && fr.upage == upage {
			return fr, true
		}
	}
	return nil, false
}

// evictLocked runs the second-chance eviction algorithm (spec §4.7) and
// returns the victim frame, still present in t.byKPage (the caller reuses
// it in place rather than re-inserting). Must be called with t.state held.
func (t *Table) evictLocked() (*Frame, error) {
	// Phase 1: drain inactive from the head, promoting accessed frames
	// back to active and save()-ing the first unaccessed one that succeeds.
	for e := t.inactive.Front(); e != nil; {
		next := e.Next()
		fr := e.Value.(*Frame)
		if fr.accessed {
			fr.accessed = false
			t.inactive.Remove(e)
			t.nrInactive--
			fr.inInactive = false
			fr.elem = t.active.PushBack(fr)
			t.nrActive++
		} else {
			ok, err := t.save(fr)
			if err != nil {
				return nil, err
			}
			if ok {
				t.inactive.Remove(e)
				t.nrInactive--
				return fr, nil
			}
		}
		e = next
	}

	// Phase 2: scan active once, clearing accessed bits, saving the first
	// unreferenced frame that succeeds.
	for e := t.active.Front(); e != nil; e = e.Next() {
		fr := e.Value.(*Frame)
		if fr.accessed {
			fr.accessed = false
			continue
		}
		ok, err := t.save(fr)
		if err != nil {
			return nil, err
		}
		if ok {
			t.active.Remove(e)
			t.nrActive--
			return fr, nil
		}
	}

	// Phase 3: pop the oldest active frame and save it regardless of
	// whether save succeeds — spec §4.7 "victim is the result" here is
	// unconditional, unlike phases 1 and 2.
	if e := t.active.Front(); e != nil {
		fr := e.Value.(*Frame)
		if _, err := t.save(fr); err != nil {
			return nil, err
		}
		t.active.Remove(e)
		t.nrActive--
		return fr, nil
	}

	return nil, ErrNoFreeFrames
}

// refillInactiveLocked tops the inactive list back up to its floor after an
// eviction, moving the oldest active frames over and clearing their
// accessed bits (spec §4.7 step 4). Must be called with t.state held.
func (t *Table) refillInactiveLocked() {
	for t.nrInactive < t.inactiveFloor {
		e := t.active.Front()
		if e == nil {
			return
		}
		fr := e.Value.(*Frame)
		t.active.Remove(e)
		t.nrActive--
		fr.accessed = false
		fr.inInactive = true
		fr.elem = t.inactive.PushBack(fr)
		t.nrInactive++
	}
}

// save persists frame's contents if its supplemental page entry requires
// it, then clears its resident mapping. Returns false (no error) when the
// entry is missing, already not loaded, or swap is full — all signal "try a
// different victim" rather than a hard failure.
func (t *Table) save(fr *Frame) (bool, error) {
	if fr.pageTable == nil {
		return false, nil
	}
	entry, ok := fr.pageTable.Find(fr.upage)
	if !ok || !entry.Loaded {
		return false, nil
	}

	switch {
	case entry.Position&page.MmapFile != 0:
		if fr.dirty {
			writer, ok := entry.Mmap.Handle.(FileWriter)
			if !ok {
				return false, fmt.Errorf("frame: mmap entry for upage %#x has no FileWriter handle", fr.upage)
			}
			if _, err := writer.WriteAt(fr.buf, entry.Mmap.Offset, fr.owner); err != nil {
				return false, fmt.Errorf("frame: write back mmap page at upage %#x: %w", fr.upage, err)
			}
		}
		// Clean mmap page: nothing to persist.
	case entry.Position&page.Stack != 0 || (entry.Position&page.File != 0 && entry.File != nil && entry.File.Writable):
		if len(fr.buf) != swap.PGSIZE {
			// Multi-page group frames (spec §4.7's get(flags, n) with n>1)
			// aren't swappable page-at-a-time by this evictor; leave them
			// as a non-candidate rather than erroring the whole scan.
			return false, nil
		}
		slot, err := t.swap.Store(fr.buf)
		if err != nil {
			if errors.Is(err, swap.ErrSwapFull) {
				return false, nil
			}
			return false, fmt.Errorf("frame: swap out upage %#x: %w", fr.upage, err)
		}
		if err := fr.pageTable.MarkSwapped(fr.upage, slot); err != nil {
			return false, fmt.Errorf("frame: record swap slot for upage %#x: %w", fr.upage, err)
		}
		fr.dirty = false
		return true, nil
	default:
		// Read-only FILE page: disk already holds its contents.
	}

	if err := fr.pageTable.MarkEvicted(fr.upage); err != nil {
		return false, fmt.Errorf("frame: mark upage %#x evicted: %w", fr.upage, err)
	}
	fr.dirty = false
	return true, nil
}
