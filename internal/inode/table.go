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
	"fmt"
	"sync"

	"github.com/pintosfs/core/internal/blockdev"
	"github.com/pintosfs/core/internal/cache"
	"github.com/pintosfs/core/internal/freemap"
	"github.com/pintosfs/core/internal/threadid"
)

// Table is the process-wide registry of in-memory inodes: at most one
// *Inode exists per disk sector number at a time (spec §3 "at most one
// in-memory inode exists per SN"), reference-counted across openers.
type Table struct {
	cache   *cache.Cache
	freemap *freemap.Bitmap

	mu   sync.Mutex
	open map[blockdev.SectorNum]*Inode
}

// NewTable wires an inode table over cache and freemap, the two collaborators
// every inode operation needs.
func NewTable(c *cache.Cache, fm *freemap.Bitmap) *Table {
	return &Table{
		cache:   c,
		freemap: fm,
		open:    make(map[blockdev.SectorNum]*Inode),
	}
}

// Create lays down a fresh inode image at sn (already reserved by the
// caller in the free map, mirroring Pintos's free_map_allocate-then-
// inode_create sequencing) with the given length and type. It does not add
// the inode to the open table; call Open(sn) afterward to use it.
func (t *Table) Create(sn blockdev.SectorNum, length uint32, typ Type, owner threadid.ID) error {
	if err := t.zeroNewSector(sn, owner); err != nil {
		return fmt.Errorf("inode: create %d: %w", sn, err)
	}

	s := ceilDiv(int64(length), blockdev.SectorSize)
	var allocated []blockdev.SectorNum
	for i := int64(0); i < s; i++ {
		if _, _, err := t.sectorForIndex(sn, i, true, owner, &allocated); err != nil {
			t.releaseTracked(allocated)
			return fmt.Errorf("inode: create %d: allocate sector %d: %w", sn, i, err)
		}
	}

	if err := t.cache.WriteU32At(sn, offLength, length, owner); err != nil {
		t.releaseTracked(allocated)
		return fmt.Errorf("inode: create %d: write length: %w", sn, err)
	}
	if err := t.cache.WriteU32At(sn, offType, uint32(typ), owner); err != nil {
		t.releaseTracked(allocated)
		return fmt.Errorf("inode: create %d: write type: %w", sn, err)
	}
	if err := t.cache.WriteU32At(sn, offMagic, Magic, owner); err != nil {
		t.releaseTracked(allocated)
		return fmt.Errorf("inode: create %d: write magic: %w", sn, err)
	}
	return nil
}

// Open returns the shared in-memory Inode for sn, creating it (and loading
// its type/magic from disk) on the first open. Every call increments the
// inode's open-count; pair with Inode.Close.
func (t *Table) Open(sn blockdev.SectorNum) (*Inode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ino, ok := t.open[sn]; ok {
		ino.state.Lock()
		ino.openCount++
		ino.state.Unlock()
		return ino, nil
	}

	magic, err := t.cache.ReadU32At(sn, offMagic)
	if err != nil {
		return nil, fmt.Errorf("inode: open %d: %w", sn, err)
	}
	if magic != Magic {
		panic(fmt.Sprintf("inode: sector %d does not contain a valid inode image (magic %#x)", sn, magic))
	}
	typU32, err := t.cache.ReadU32At(sn, offType)
	if err != nil {
		return nil, fmt.Errorf("inode: open %d: %w", sn, err)
	}

	ino := &Inode{
		sn:        sn,
		table:     t,
		typ:       Type(typU32),
		openCount: 1,
	}
	ino.state = newStateLocker(ino)
	t.open[sn] = ino
	return ino, nil
}

// closeLocked is invoked by Inode.Close once its open-count reaches zero. If
// the inode was removed, it releases the whole pointer tree and the inode's
// own sector, then drops it from the table.
func (t *Table) closeLocked(ino *Inode) error {
	t.mu.Lock()
	delete(t.open, ino.sn)
	t.mu.Unlock()

	if !ino.removed {
		return nil
	}
	return t.releaseAll(ino)
}

// releaseAll walks every non-zero data sector, indirect block, and
// double-indirect block reachable from ino and releases it, finally
// releasing the inode's own sector — kept as a distinct two-phase
// collect-then-release step rather than interleaved release, matching the
// original inode_close's deferred free-list walk.
func (t *Table) releaseAll(ino *Inode) error {
	length, err := t.cache.ReadU32At(ino.sn, offLength)
	if err != nil {
		return err
	}
	s := ceilDiv(int64(length), blockdev.SectorSize)

	var toFree []blockdev.SectorNum
	collect := func(containerSn blockdev.SectorNum, slotOff int) (blockdev.SectorNum, bool, error) {
		v, err := t.cache.ReadU32At(containerSn, slotOff)
		if err != nil {
			return 0, false, err
		}
		if v == 0 {
			return 0, true, nil
		}
		return blockdev.SectorNum(v), false, nil
	}

	var indirectsSeen = map[blockdev.SectorNum]bool{}
	for i := int64(0); i < s; i++ {
		switch {
		case i < maxDirectIndex:
			sn, hole, err := collect(ino.sn, directPointerOffset(int(i)))
			if err != nil {
				return err
			}
			if !hole {
				toFree = append(toFree, sn)
			}

		case i < int64(maxSingleIndex):
			ind, hole, err := collect(ino.sn, singleIndirectPointerOffset())
			if err != nil {
				return err
			}
			if hole {
				continue
			}
			if !indirectsSeen[ind] {
				indirectsSeen[ind] = true
				toFree = append(toFree, ind)
			}
			slot := int(i) - maxDirectIndex
			sn, hole, err := collect(ind, pointerSlotOffset(slot))
			if err != nil {
				return err
			}
			if !hole {
				toFree = append(toFree, sn)
			}

		default:
			idx := int(i) - maxSingleIndex
			l1slot := idx / indirectFanout
			l2slot := idx % indirectFanout

			dbl, hole, err := collect(ino.sn, doubleIndirectPointerOffset())
			if err != nil {
				return err
			}
			if hole {
				continue
			}
			if !indirectsSeen[dbl] {
				indirectsSeen[dbl] = true
				toFree = append(toFree, dbl)
			}
			lvl2, hole, err := collect(dbl, pointerSlotOffset(l1slot))
			if err != nil {
				return err
			}
			if hole {
				continue
			}
			if !indirectsSeen[lvl2] {
				indirectsSeen[lvl2] = true
				toFree = append(toFree, lvl2)
			}
			sn, hole, err := collect(lvl2, pointerSlotOffset(l2slot))
			if err != nil {
				return err
			}
			if !hole {
				toFree = append(toFree, sn)
			}
		}
	}

	for _, sn := range toFree {
		if err := t.cache.Free(sn); err != nil {
			return err
		}
		if err := t.freemap.Release(sn, 1); err != nil {
			return err
		}
	}

	if err := t.cache.Free(ino.sn); err != nil {
		return err
	}
	return t.freemap.Release(ino.sn, 1)
}
