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

package inode

import (
	"errors"
	"fmt"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/threadid"
)

// ErrOutOfRange is returned for a logical sector index beyond what the
// two-level pointer tree can address (spec §4.3 "Beyond: unsupported").
var ErrOutOfRange = errors.New("inode: logical sector index out of range")

// ErrNoSpace is returned when the free-sector map has nothing left to give.
var ErrNoSpace = errors.New("inode: free-sector map exhausted")

var zeroSector [blockdev.SectorSize]byte

// zeroNewSector writes zeros through the cache into a freshly allocated
// sector, so the first reader of a hole-turned-data sector observes
// zero-fill (spec §4.3 creation step 2). It goes through Overwrite, not
// Write, so a brand-new sector never needs its stale disk contents read
// first.
func (t *Table) zeroNewSector(sn blockdev.SectorNum, owner threadid.ID) error {
	return t.cache.Overwrite(sn, zeroSector[:], owner)
}

// ensurePointer reads the 4-byte sector-number slot at byte offset slotOff
// within containerSn. A zero value means the slot is empty. When allocate is
// true and the slot is empty, a new sector is taken from the free map,
// zeroed, and its number written back into the slot; any allocations made
// this way are appended to *tracked so a caller can roll them back on a
// later failure in the same logical operation.
func (t *Table) ensurePointer(containerSn blockdev.SectorNum, slotOff int, allocate bool, owner threadid.ID, tracked *[]blockdev.SectorNum) (sn blockdev.SectorNum, hole bool, err error) {
	v, err := t.cache.ReadU32At(containerSn, slotOff)
	if err != nil {
		return 0, false, err
	}
	if v != 0 {
		return blockdev.SectorNum(v), false, nil
	}
	if !allocate {
		return 0, true, nil
	}

	newSn, ok := t.freemap.Allocate(1)
	if !ok {
		return 0, false, ErrNoSpace
	}
	if err := t.zeroNewSector(newSn, owner); err != nil {
		_ = t.freemap.Release(newSn, 1)
		return 0, false, fmt.Errorf("inode: zero new sector %d: %w", newSn, err)
	}
	if err := t.cache.WriteU32At(containerSn, slotOff, uint32(newSn), owner); err != nil {
		_ = t.freemap.Release(newSn, 1)
		return 0, false, fmt.Errorf("inode: record new sector %d: %w", newSn, err)
	}
	if tracked != nil {
		*tracked = append(*tracked, newSn)
	}
	return newSn, false, nil
}

// sectorForIndex resolves logical sector i of the inode at sn to a physical
// sector number, walking the direct / single-indirect / double-indirect
// levels per spec §4.3. allocate requests that missing levels and the final
// data sector be created along the way; tracked (optional) accumulates every
// sector newly allocated during the call for rollback by the caller.
func (t *Table) sectorForIndex(sn blockdev.SectorNum, i int64, allocate bool, owner threadid.ID, tracked *[]blockdev.SectorNum) (blockdev.SectorNum, bool, error) {
	switch {
	case i < maxDirectIndex:
		return t.ensurePointer(sn, directPointerOffset(int(i)), allocate, owner, tracked)

	case i < int64(maxSingleIndex):
		slot := int(i) - maxDirectIndex
		ind, hole, err := t.ensurePointer(sn, singleIndirectPointerOffset(), allocate, owner, tracked)
		if err != nil || hole {
			return 0, hole, err
		}
		return t.ensurePointer(ind, pointerSlotOffset(slot), allocate, owner, tracked)

	case i < int64(maxDoubleIndex):
		idx := int(i) - maxSingleIndex
		l1slot := idx / indirectFanout
		l2slot := idx % indirectFanout

		dbl, hole, err := t.ensurePointer(sn, doubleIndirectPointerOffset(), allocate, owner, tracked)
		if err != nil || hole {
			return 0, hole, err
		}
		lvl2, hole, err := t.ensurePointer(dbl, pointerSlotOffset(l1slot), allocate, owner, tracked)
		if err != nil || hole {
			return 0, hole, err
		}
		return t.ensurePointer(lvl2, pointerSlotOffset(l2slot), allocate, owner, tracked)

	default:
		return 0, false, ErrOutOfRange
	}
}

// releaseTracked returns every sector in sns to the free map, used to unwind
// a partially completed create or extend.
func (t *Table) releaseTracked(sns []blockdev.SectorNum) {
	for _, sn := range sns {
		_ = t.freemap.Release(sn, 1)
	}
}

func ceilDiv(n, d int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
