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

// Package page is the supplemental page table (spec §4.6): one instance per
// process, mapping each user virtual page to the source its contents are
// backed by (an inode-backed file, a memory-mapped file, anonymous stack
// memory, or a swap slot) and whether it is currently resident.
package page

import (
	"errors"
	"fmt"

	"github.com/pintosfs/core/internal/locker"
	"github.com/pintosfs/core/internal/swap"
)

// Addr is a user virtual page address, the unit this table is keyed by.
type Addr uintptr

// Position is the bitset of backing sources an entry currently has, spec
// §3: "a bitset over {STACK, FILE, MMAPFILE, SWAP} obeying the disjointness
// rules below". Valid combinations: FILE, MMAPFILE, STACK, FILE|SWAP,
// STACK|SWAP — MMAPFILE never coexists with SWAP, since a dirty mmap page
// is written back to its file instead of being swapped.
type Position uint8

const (
	Stack Position = 1 << iota
	File
	MmapFile
	Swap
)

func (p Position) valid() bool {
	switch p {
	case Stack, File, MmapFile, File | Swap, Stack | Swap:
		return true
	default:
		return false
	}
}

// FileSource describes a file-backed page (spec §3 FILE descriptor union).
type FileSource struct {
	Handle    any // the backing file; internal/vm reads it through its FileReader interface
	Offset    int64
	ReadBytes int
	ZeroBytes int
	Writable  bool
}

// MmapSource describes a memory-mapped-file-backed page.
type MmapSource struct {
	Handle    any
	Offset    int64
	ReadBytes int
}

// Entry is one supplemental page table row.
type Entry struct {
	Upage    Addr
	Position Position
	File     *FileSource
	Mmap     *MmapSource
	SwapSlot int // valid iff Position&Swap != 0
	Loaded   bool
}

// ErrAlreadyPresent is returned by the Add* methods when upage already has
// an entry — spec §4.6 "at most one entry per upage".
var ErrAlreadyPresent = errors.New("page: entry already present for this upage")

// ErrNotPresent is returned by operations needing an existing entry.
var ErrNotPresent = errors.New("page: no entry for this upage")

// Table is one process's supplemental page table.
type Table struct {
	state   *locker.Locker // guards entries; invariant enforces Position.valid()
	entries map[Addr]*Entry
}

// NewTable returns an empty supplemental page table for one process.
func NewTable() *Table {
	t := &Table{entries: make(map[Addr]*Entry)}
	t.state = locker.New(func() {
		for upage, e := range t.entries {
			if !e.Position.valid() {
				panic(fmt.Sprintf("page: upage %#x has invalid position bitset %#x", upage, e.Position))
			}
			if (e.Position&Swap != 0) == (e.SwapSlot < 0) {
				panic(fmt.Sprintf("page: upage %#x swap-slot validity disagrees with SWAP bit", upage))
			}
		}
	})
	return t
}

// Find returns the entry for upage, if any.
func (t *Table) Find(upage Addr) (Entry, bool) {
	t.state.Lock()
	defer t.state.Unlock()
	e, ok := t.entries[upage]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Delete removes the entry for upage. A no-op if absent.
func (t *Table) Delete(upage Addr) {
	t.state.Lock()
	defer t.state.Unlock()
	delete(t.entries, upage)
}

func (t *Table) insert(upage Addr, e *Entry) error {
	t.state.Lock()
	defer t.state.Unlock()
	if _, ok := t.entries[upage]; ok {
		return ErrAlreadyPresent
	}
	t.entries[upage] = e
	return nil
}

// AddFile records upage as backed by a file region, not yet loaded.
func (t *Table) AddFile(upage Addr, src FileSource) error {
	return t.insert(upage, &Entry{Upage: upage, Position: File, File: &src, SwapSlot: -1})
}

// AddMmap records upage as backed by a memory-mapped file region.
func (t *Table) AddMmap(upage Addr, src MmapSource) error {
	return t.insert(upage, &Entry{Upage: upage, Position: MmapFile, Mmap: &src, SwapSlot: -1})
}

// AddStack records upage as anonymous stack memory, resident immediately
// (stack pages are zero-filled on first fault, not lazily sourced).
func (t *Table) AddStack(upage Addr) error {
	return t.insert(upage, &Entry{Upage: upage, Position: Stack, SwapSlot: -1, Loaded: true})
}

// MarkLoaded flips the resident bit once a fault handler installs the
// frame mapping for upage.
func (t *Table) MarkLoaded(upage Addr) error {
	t.state.Lock()
	defer t.state.Unlock()
	e, ok := t.entries[upage]
	if !ok {
		return ErrNotPresent
	}
	e.Loaded = true
	return nil
}

// MarkSwapped records that upage's contents now live at slot on the swap
// device, clearing Loaded. FILE entries gain the SWAP bit (FILE|SWAP);
// MMAPFILE entries never do (spec §3 disjointness) — callers must instead
// write a dirty mmap page back to its file and leave the entry as MMAPFILE.
func (t *Table) MarkSwapped(upage Addr, slot int) error {
	t.state.Lock()
	defer t.state.Unlock()
	e, ok := t.entries[upage]
	if !ok {
		return ErrNotPresent
	}
	if e.Position&MmapFile != 0 {
		return fmt.Errorf("page: upage %#x is mmap-backed and cannot be swapped", upage)
	}
	e.Position |= Swap
	e.SwapSlot = slot
	e.Loaded = false
	return nil
}

// MarkResident clears the SWAP bit once the page has been loaded back in,
// leaving the original FILE/STACK source bit intact.
func (t *Table) MarkResident(upage Addr) error {
	t.state.Lock()
	defer t.state.Unlock()
	e, ok := t.entries[upage]
	if !ok {
		return ErrNotPresent
	}
	e.Position &^= Swap
	e.SwapSlot = -1
	e.Loaded = true
	return nil
}

// MarkEvicted clears the resident bit without touching the source bits or
// swap slot, for callers (internal/frame's evictor) that persisted a page
// by some means other than swapping it out — a read-only FILE page or a
// clean/written-back MMAPFILE page, neither of which gains the SWAP bit.
func (t *Table) MarkEvicted(upage Addr) error {
	t.state.Lock()
	defer t.state.Unlock()
	e, ok := t.entries[upage]
	if !ok {
		return ErrNotPresent
	}
	e.Loaded = false
	return nil
}

// FreeAll releases every swap slot still held by this table's entries
// (spec §4.6 "free_all (on process exit; swap-slots released for entries
// with SWAP set)") and empties the table.
func (t *Table) FreeAll(area *swap.Area) error {
	t.state.Lock()
	defer t.state.Unlock()

	for _, e := range t.entries {
		if e.Position&Swap != 0 {
			if err := area.Free(e.SwapSlot); err != nil {
				return fmt.Errorf("page: free_all: release slot %d: %w", e.SwapSlot, err)
			}
		}
	}
	t.entries = make(map[Addr]*Entry)
	return nil
}
