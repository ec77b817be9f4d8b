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

// Package freemap is the bitmap allocator over the file-system device's
// sectors (spec §4.2). It lives entirely in memory — the in-memory bitmap
// is authoritative the whole time the file system is mounted — and is
// (de)serialized to bytes so that internal/filesys can persist it as the
// contents of the reserved sector-0 inode across mounts.
package freemap

import (
	"fmt"
	"sync"

	"github.com/pintosfs/core/internal/blockdev"
)

// Bitmap is a bit-per-sector free/used map. A single lock serialises
// allocation and release, matching spec §5's "free-map lock (external) —
// serialises sector allocation" — we own that lock internally since this
// core fully implements the free-sector map (spec §2 table, component 3).
type Bitmap struct {
	mu   sync.Mutex
	bits []byte // one bit per sector; bit set == in use
	size blockdev.SectorNum
}

// New returns a bitmap for a device of size sectors, all initially free.
func New(size blockdev.SectorNum) *Bitmap {
	return &Bitmap{
		bits: make([]byte, ByteLen(size)),
		size: size,
	}
}

// ByteLen returns the number of bytes a packed bitmap over size sectors
// occupies, so callers (internal/filesys, sizing the reserved free-map
// inode at format time) can pre-allocate exactly that much storage without
// constructing a Bitmap first.
func ByteLen(size blockdev.SectorNum) int {
	return int((size + 7) / 8)
}

func (b *Bitmap) testLocked(sn blockdev.SectorNum) bool {
	return b.bits[sn/8]&(1<<(sn%8)) != 0
}

func (b *Bitmap) setLocked(sn blockdev.SectorNum, used bool) {
	mask := byte(1) << (sn % 8)
	if used {
		b.bits[sn/8] |= mask
	} else {
		b.bits[sn/8] &^= mask
	}
}

// MarkUsed reserves a specific sector (used for the fixed SN 0 / SN 1
// reservations at format time, spec §6).
func (b *Bitmap) MarkUsed(sn blockdev.SectorNum) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sn >= b.size {
		return fmt.Errorf("freemap: sector %d out of range [0,%d)", sn, b.size)
	}
	b.setLocked(sn, true)
	return nil
}

// Allocate reserves n contiguous free sectors and returns the first one.
// The inode engine only ever calls this with n == 1 (spec §4.2); larger
// runs are supported, though no caller in this module requests one.
func (b *Bitmap) Allocate(n int) (blockdev.SectorNum, bool) {
	if n <= 0 {
		return 0, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	run := 0
	for sn := blockdev.SectorNum(0); sn < b.size; sn++ {
		if b.testLocked(sn) {
			run = 0
			continue
		}
		run++
		if run == n {
			start := sn - blockdev.SectorNum(n-1)
			for s := start; s <= sn; s++ {
				b.setLocked(s, true)
			}
			return start, true
		}
	}
	return 0, false
}

// Release frees the n sectors starting at sn.
func (b *Bitmap) Release(sn blockdev.SectorNum, n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 {
		return nil
	}
	if blockdev.SectorNum(n) > b.size || sn+blockdev.SectorNum(n) > b.size {
		return fmt.Errorf("freemap: release range [%d,%d) out of bounds", sn, int(sn)+n)
	}
	for s := sn; s < sn+blockdev.SectorNum(n); s++ {
		if !b.testLocked(s) {
			return fmt.Errorf("freemap: sector %d double-freed", s)
		}
		b.setLocked(s, false)
	}
	return nil
}

// CountFree returns the number of unallocated sectors, used by tests to
// verify that remove-and-recreate frees exactly as many sectors as create
// allocated (spec §8).
func (b *Bitmap) CountFree() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	free := 0
	for sn := blockdev.SectorNum(0); sn < b.size; sn++ {
		if !b.testLocked(sn) {
			free++
		}
	}
	return free
}

// Bytes returns a snapshot of the packed bitmap, for persisting as the
// contents of the reserved free-map inode.
func (b *Bitmap) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.bits))
	copy(out, b.bits)
	return out
}

// LoadBytes replaces the bitmap's contents from a previously persisted
// snapshot (spec §4.2 persistence at mount time). len(data) must match
// the capacity this Bitmap was constructed with.
func (b *Bitmap) LoadBytes(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(data) != len(b.bits) {
		return fmt.Errorf("freemap: loaded bitmap is %d bytes, want %d", len(data), len(b.bits))
	}
	copy(b.bits, data)
	return nil
}
