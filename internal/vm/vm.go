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

// Package vm is the orchestration layer over internal/frame, internal/page
// and internal/swap that a page-fault handler (external collaborator, spec
// §1) drives: given a faulting upage, LoadPage resolves its backing source
// and installs a frame for it (spec §4.7 "Fault handling"). It also owns
// the mmap mapping list and its unmap-on-exit teardown (SPEC_FULL.md
// SUPPLEMENTED FEATURES item 4).
package vm

import (
	"fmt"
	"sync"

	"github.com/pintosfs/core/internal/frame"
	"github.com/pintosfs/core/internal/inode"
	"github.com/pintosfs/core/internal/page"
	"github.com/pintosfs/core/internal/swap"
	"github.com/pintosfs/core/internal/threadid"
)

// FileReader is the narrow interface LoadPage needs to pull a FILE- or
// MMAPFILE-backed page's bytes in from disk. *internal/inode.Inode already
// satisfies this signature.
type FileReader interface {
	ReadAt(buf []byte, offset int64, ra inode.ReadAheadObserver) (int, error)
}

// MappedFile is what Mmap needs of a backing file: readable for fault-in,
// writable for dirty-page writeback, closeable at unmap. *internal/inode.Inode
// satisfies this without modification, the same dependency-inversion shape
// internal/frame uses for its own FileWriter.
type MappedFile interface {
	FileReader
	frame.FileWriter
	Close() error
}

// mmapRegion is one mmap call's worth of pages, kept so UnmapAll can tear
// them down together and close the backing file once.
type mmapRegion struct {
	pt     *page.Table
	upages []page.Addr
	file   MappedFile
}

// Manager ties one frame table and swap area to however many per-process
// supplemental page tables fault through it, plus the mmap regions those
// processes have mapped.
type Manager struct {
	frames *frame.Table
	swap   *swap.Area

	mu      sync.Mutex
	regions map[threadid.ID][]*mmapRegion
}

// NewManager returns a Manager dispatching faults against frames and
// swapping through area.
func NewManager(frames *frame.Table, area *swap.Area) *Manager {
	return &Manager{
		frames:  frames,
		swap:    area,
		regions: make(map[threadid.ID][]*mmapRegion),
	}
}

// LoadPage resolves upage's backing source in pt and installs a frame for
// it, per spec §4.7: FILE reads from file and zero-fills the tail; MMAPFILE
// does the same (this core also zeroes its tail, since a reused frame can
// carry a previous owner's bytes even where the spec only makes zeroing
// mandatory for FILE); anything carrying the SWAP bit loads from the swap
// area and clears SWAP. A upage already marked Loaded is a no-op — a fault
// that raced ahead of a concurrent installer, not an error.
func (m *Manager) LoadPage(pt *page.Table, owner threadid.ID, upage page.Addr) error {
	entry, ok := pt.Find(upage)
	if !ok {
		return fmt.Errorf("vm: load_page: no supplemental entry for upage %#x", upage)
	}
	if entry.Loaded {
		return nil
	}

	if entry.Position&page.Swap != 0 {
		return m.loadFromSwap(pt, owner, upage, entry)
	}

	switch {
	case entry.Position&page.File != 0:
		return m.loadFromFile(pt, owner, upage, entry.File.Handle, entry.File.Offset, entry.File.ReadBytes)
	case entry.Position&page.MmapFile != 0:
		return m.loadFromFile(pt, owner, upage, entry.Mmap.Handle, entry.Mmap.Offset, entry.Mmap.ReadBytes)
	case entry.Position&page.Stack != 0:
		// add_stack marks the entry Loaded immediately, so reaching here
		// means this fault raced ahead of that installation. Give it a
		// zeroed frame rather than treating it as an error.
		fr, err := m.frames.Get(frame.PoolUser, 1, upage, owner, pt)
		if err != nil {
			return fmt.Errorf("vm: load_page: stack frame for upage %#x: %w", upage, err)
		}
		clear(fr.Bytes())
		return pt.MarkLoaded(upage)
	default:
		return fmt.Errorf("vm: load_page: upage %#x has no recognized backing source", upage)
	}
}

func (m *Manager) loadFromSwap(pt *page.Table, owner threadid.ID, upage page.Addr, entry page.Entry) error {
	fr, err := m.frames.Get(frame.PoolUser, 1, upage, owner, pt)
	if err != nil {
		return fmt.Errorf("vm: load_page: swap-in frame for upage %#x: %w", upage, err)
	}
	if err := m.swap.Load(fr.Bytes(), entry.SwapSlot); err != nil {
		return fmt.Errorf("vm: load_page: swap read for upage %#x: %w", upage, err)
	}
	return pt.MarkResident(upage)
}

func (m *Manager) loadFromFile(pt *page.Table, owner threadid.ID, upage page.Addr, handle any, offset int64, readBytes int) error {
	fr, err := m.frames.Get(frame.PoolUser, 1, upage, owner, pt)
	if err != nil {
		return fmt.Errorf("vm: load_page: frame for upage %#x: %w", upage, err)
	}
	reader, ok := handle.(FileReader)
	if !ok {
		return fmt.Errorf("vm: load_page: upage %#x has no FileReader handle", upage)
	}

	buf := fr.Bytes()
	n, err := reader.ReadAt(buf[:readBytes], offset, nil)
	if err != nil {
		return fmt.Errorf("vm: load_page: read upage %#x: %w", upage, err)
	}
	clear(buf[n:])
	return pt.MarkLoaded(upage)
}

// Mmap maps length bytes of file starting at offset into the pages
// beginning at upageStart, registering each page as MMAPFILE-backed in pt
// and recording the mapping under owner so UnmapAll can tear it down.
func (m *Manager) Mmap(pt *page.Table, owner threadid.ID, file MappedFile, upageStart page.Addr, offset, length int64) error {
	if length <= 0 {
		return fmt.Errorf("vm: mmap: length must be positive, got %d", length)
	}

	n := int((length + swap.PGSIZE - 1) / swap.PGSIZE)
	upages := make([]page.Addr, 0, n)
	for i := 0; i < n; i++ {
		upage := upageStart + page.Addr(i*swap.PGSIZE)
		pageOffset := offset + int64(i*swap.PGSIZE)
		readBytes := swap.PGSIZE
		if remaining := length - int64(i*swap.PGSIZE); remaining < int64(swap.PGSIZE) {
			readBytes = int(remaining)
		}
		if err := pt.AddMmap(upage, page.MmapSource{Handle: file, Offset: pageOffset, ReadBytes: readBytes}); err != nil {
			return fmt.Errorf("vm: mmap: upage %#x: %w", upage, err)
		}
		upages = append(upages, upage)
	}

	m.mu.Lock()
	m.regions[owner] = append(m.regions[owner], &mmapRegion{pt: pt, upages: upages, file: file})
	m.mu.Unlock()
	return nil
}

// UnmapAll writes back every dirty page across owner's mmap regions, drops
// their supplemental-table entries and frames, and closes each distinct
// backing file once — the original's mmap.c mapping-list walk at process
// exit (SPEC_FULL.md SUPPLEMENTED FEATURES item 4).
func (m *Manager) UnmapAll(owner threadid.ID) error {
	m.mu.Lock()
	regions := m.regions[owner]
	delete(m.regions, owner)
	m.mu.Unlock()

	closed := make(map[MappedFile]bool)
	for _, r := range regions {
		for _, upage := range r.upages {
			if err := m.writebackAndDrop(r.pt, owner, upage); err != nil {
				return err
			}
		}
		if !closed[r.file] {
			closed[r.file] = true
			if err := r.file.Close(); err != nil {
				return fmt.Errorf("vm: unmap_all: close backing file: %w", err)
			}
		}
	}
	return nil
}

func (m *Manager) writebackAndDrop(pt *page.Table, owner threadid.ID, upage page.Addr) error {
	entry, ok := pt.Find(upage)
	if !ok {
		return nil
	}
	if entry.Loaded {
		if fr, found := m.frames.FindByUpage(pt, upage); found {
			if fr.Dirty() {
				writer, ok := entry.Mmap.Handle.(frame.FileWriter)
				if !ok {
					return fmt.Errorf("vm: unmap_all: upage %#x mmap handle has no FileWriter", upage)
				}
				if _, err := writer.WriteAt(fr.Bytes(), entry.Mmap.Offset, owner); err != nil {
					return fmt.Errorf("vm: unmap_all: write back upage %#x: %w", upage, err)
				}
			}
			if err := m.frames.Free(fr.KPage()); err != nil {
				return fmt.Errorf("vm: unmap_all: free frame for upage %#x: %w", upage, err)
			}
		}
	}
	pt.Delete(upage)
	return nil
}

// TeardownProcess releases everything owner's page table holds on process
// exit: mmap regions first (writeback needs live frames and entries), then
// the supplemental table's own swap slots (spec §4.6 free_all).
func (m *Manager) TeardownProcess(pt *page.Table, owner threadid.ID) error {
	if err := m.UnmapAll(owner); err != nil {
		return fmt.Errorf("vm: teardown: %w", err)
	}
	if err := pt.FreeAll(m.swap); err != nil {
		return fmt.Errorf("vm: teardown: %w", err)
	}
	return nil
}
